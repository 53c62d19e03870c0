package models

import (
	"time"
)

// Timeline trigger sources record which actor class caused an event
const (
	TriggerSourceManual  = "manual"
	TriggerSourceSystem  = "system"
	TriggerSourceWebhook = "webhook"
	TriggerSourceAPI     = "api"
	TriggerSourceAdmin   = "admin"
)

// Timeline event types
const (
	EventOrderCreated          = "order_created"
	EventStatusChanged         = "status_changed"
	EventPaymentSessionCreated = "payment_session_created"
	EventPaymentSucceeded      = "payment_succeeded"
	EventPaymentFailed         = "payment_failed"
	EventShippingFeeRequested  = "shipping_fee_requested"
	EventProductionUpdate      = "production_update"
	EventNote                  = "note"
)

// TimelineEventData is the structured payload attached to a timeline event.
// Fields are per-event-type; unused fields are omitted from the stored JSON.
type TimelineEventData struct {
	FromStatus        string `json:"from_status,omitempty"`
	ToStatus          string `json:"to_status,omitempty"`
	Phase             string `json:"phase,omitempty"`
	AmountCents       int64  `json:"amount_cents,omitempty"`
	CheckoutSessionID string `json:"checkout_session_id,omitempty"`
	PaymentIntentID   string `json:"payment_intent_id,omitempty"`
	Stage             string `json:"stage,omitempty"`
	Note              string `json:"note,omitempty"`
}

// OrderTimelineEvent is one entry in an order's append-only audit trail.
// Rows are inserted, never updated or deleted.
type OrderTimelineEvent struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	OrderID     uint   `gorm:"not null;index" json:"order_id"`
	Order       Order  `gorm:"foreignKey:OrderID" json:"-"`
	EventType   string `gorm:"not null" json:"event_type"`
	Description string `gorm:"type:text" json:"description"`

	EventData TimelineEventData `gorm:"serializer:json" json:"event_data"`

	TriggerSource string    `gorm:"not null" json:"trigger_source"`
	TriggeredBy   string    `json:"triggered_by"` // user identifier or "stripe"/"system"
	CreatedAt     time.Time `json:"created_at"`
}

// TableName specifies the table name for the OrderTimelineEvent model
func (OrderTimelineEvent) TableName() string {
	return "order_timeline_events"
}
