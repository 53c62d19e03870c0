package models

import (
	"time"

	"gorm.io/gorm"
)

// Payment phases. An order's payment obligation is split into named phases;
// the canonical model is a single full payment plus an optional shipping fee.
// The deposit/balance pair is a legacy split kept so historical rows decode.
const (
	PaymentPhaseFullPayment = "full_payment"
	PaymentPhaseShippingFee = "shipping_fee"
	PaymentPhaseDeposit     = "deposit" // legacy 40% split, read-only
	PaymentPhaseBalance     = "balance" // legacy 60% split, read-only
)

// Payment status values. Statuses only move forward:
// pending/processing -> succeeded | failed | canceled.
const (
	PaymentStatusPending           = "pending"
	PaymentStatusProcessing        = "processing"
	PaymentStatusSucceeded         = "succeeded"
	PaymentStatusFailed            = "failed"
	PaymentStatusCanceled          = "canceled"
	PaymentStatusRefunded          = "refunded"
	PaymentStatusPartiallyRefunded = "partially_refunded"
)

// PaymentMetadata carries provider correlation context stored with each row
type PaymentMetadata struct {
	OrderNumber   string `json:"order_number,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`
	Description   string `json:"description,omitempty"`
}

// Payment is one ledger row tracking a single phase of an order's payment
// obligation. At most one row exists per (order_id, phase); repeated checkout
// attempts upsert the same row, which is what makes session creation and
// reconciliation idempotent.
type Payment struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	OrderID uint   `gorm:"not null;uniqueIndex:idx_payments_order_phase" json:"order_id"`
	Order   Order  `gorm:"foreignKey:OrderID" json:"-"`
	Phase   string `gorm:"not null;uniqueIndex:idx_payments_order_phase" json:"phase"`

	AmountCents int64  `gorm:"not null" json:"amount_cents"`
	Currency    string `gorm:"not null;default:'usd'" json:"currency"`
	Status      string `gorm:"not null;default:'pending'" json:"status"`

	PaidAt *time.Time `json:"paid_at,omitempty"`

	StripePaymentIntentID   *string `gorm:"index" json:"stripe_payment_intent_id,omitempty"`
	StripeCheckoutSessionID *string `gorm:"index" json:"stripe_checkout_session_id,omitempty"`
	StripeChargeID          *string `json:"stripe_charge_id,omitempty"`
	StripeInvoiceID         *string `json:"stripe_invoice_id,omitempty"`

	Metadata PaymentMetadata `gorm:"serializer:json" json:"metadata"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name for the Payment model
func (Payment) TableName() string {
	return "payments"
}

// IsTerminal reports whether the payment has reached a final state
func (p *Payment) IsTerminal() bool {
	switch p.Status {
	case PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusCanceled,
		PaymentStatusRefunded, PaymentStatusPartiallyRefunded:
		return true
	}
	return false
}
