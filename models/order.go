package models

import (
	"time"

	"gorm.io/gorm"
)

// Order status values. Orders only ever move forward along the lifecycle;
// cancellation is reachable before production starts.
const (
	OrderStatusSubmitted    = "submitted"
	OrderStatusPaid         = "paid"
	OrderStatusInProduction = "in_production"
	OrderStatusShipping     = "shipping"
	OrderStatusDelivered    = "delivered"
	OrderStatusCancelled    = "cancelled"
)

// PrintPlacement describes a single decoration location on the garment
type PrintPlacement struct {
	Location   string `json:"location"`    // e.g. "front_center", "left_sleeve"
	Method     string `json:"method"`      // e.g. "screen_print", "embroidery", "dtg"
	ArtworkURL string `json:"artwork_url"` // URL of the artwork asset (storage is out of scope)
}

// Customization is the structured design snapshot captured at order time.
// SizesQty maps size names to unit counts; the values must sum to the order quantity.
type Customization struct {
	Placements []PrintPlacement `json:"placements"`
	Colors     []string         `json:"colors,omitempty"`
	SizesQty   map[string]int   `json:"sizes_qty"`
	Notes      string           `json:"notes,omitempty"`
}

// TotalUnits returns the sum of all size quantities
func (c Customization) TotalUnits() int {
	total := 0
	for _, qty := range c.SizesQty {
		total += qty
	}
	return total
}

// ShippingAddress is the delivery destination snapshot
type ShippingAddress struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Order represents a custom apparel order in the system
type Order struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	OrderNumber string `gorm:"uniqueIndex;not null" json:"order_number"` // human-readable, e.g. TC-01J8...

	// Exactly one of UserID / GuestEmail identifies the owner
	UserID     *uint   `gorm:"index" json:"user_id,omitempty"`
	User       *User   `gorm:"foreignKey:UserID" json:"user,omitempty"`
	GuestEmail *string `gorm:"index" json:"guest_email,omitempty"`
	GuestName  *string `json:"guest_name,omitempty"`

	// Commercial snapshot; TotalAmount is computed at creation and never changes
	ProductName     string  `gorm:"not null" json:"product_name"`
	ProductCategory string  `json:"product_category"`
	Quantity        int     `gorm:"not null" json:"quantity"`
	UnitPrice       float64 `gorm:"not null" json:"unit_price"`
	TotalAmount     float64 `gorm:"not null" json:"total_amount"`

	Customization Customization `gorm:"serializer:json" json:"customization"`

	Status string `gorm:"not null;default:'submitted';index" json:"status"`

	TotalPaidAmount float64    `json:"total_paid_amount"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`

	ShippingAddress   *ShippingAddress `gorm:"serializer:json" json:"shipping_address,omitempty"`
	TrackingNumber    *string          `json:"tracking_number,omitempty"`
	EstimatedDelivery *time.Time       `json:"estimated_delivery,omitempty"`
	ActualDelivery    *time.Time       `json:"actual_delivery,omitempty"`
	ShippingFeeCents  int64            `json:"shipping_fee_cents"`
	ShippingPaidAt    *time.Time       `json:"shipping_paid_at,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name for the Order model
func (Order) TableName() string {
	return "orders"
}

// IsGuestOrder reports whether the order was placed through guest checkout
func (o *Order) IsGuestOrder() bool {
	return o.UserID == nil
}

// ShippingFeeOutstanding reports whether a configured shipping fee has not been collected yet
func (o *Order) ShippingFeeOutstanding() bool {
	return o.ShippingFeeCents > 0 && o.ShippingPaidAt == nil
}
