package services

import (
	"fmt"
	"math"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/threadcount/threadcount-api/config"
	"github.com/threadcount/threadcount-api/models"
	"github.com/threadcount/threadcount-api/utils"
)

// PaymentService manages the payment ledger and checkout/invoice creation
type PaymentService struct {
	db       *gorm.DB
	provider PaymentProvider
	cfg      *config.Config
	timeline *TimelineService
}

// NewPaymentService creates a new payment service
func NewPaymentService(db *gorm.DB, provider PaymentProvider, cfg *config.Config, timeline *TimelineService) *PaymentService {
	return &PaymentService{db: db, provider: provider, cfg: cfg, timeline: timeline}
}

// InitializePayments creates the pending ledger rows covering an order's
// total amount. The shipping fee is an itemized extra on top of the total and
// gets its row on demand when the order advances to shipping.
func (s *PaymentService) InitializePayments(tx *gorm.DB, order *models.Order) ([]models.Payment, error) {
	if tx == nil {
		tx = s.db
	}

	payment := models.Payment{
		OrderID:     order.ID,
		Phase:       models.PaymentPhaseFullPayment,
		AmountCents: utils.DollarsToCents(order.TotalAmount),
		Currency:    s.currency(),
		Status:      models.PaymentStatusPending,
		Metadata: models.PaymentMetadata{
			OrderNumber:   order.OrderNumber,
			CustomerEmail: s.customerEmail(order),
		},
	}

	if err := tx.Create(&payment).Error; err != nil {
		return nil, fmt.Errorf("failed to initialize payment ledger: %w", err)
	}
	return []models.Payment{payment}, nil
}

// PhaseAmountCents computes the amount owed for one payment phase of an order
func (s *PaymentService) PhaseAmountCents(order *models.Order, phase string) (int64, error) {
	totalCents := utils.DollarsToCents(order.TotalAmount)

	switch phase {
	case models.PaymentPhaseFullPayment:
		return totalCents, nil
	case models.PaymentPhaseShippingFee:
		if order.ShippingFeeCents <= 0 {
			return 0, &ValidationError{Field: "phase", Message: "order has no shipping fee configured"}
		}
		return order.ShippingFeeCents, nil
	case models.PaymentPhaseDeposit:
		// Legacy 40/60 split, retained so historical orders can still be reconciled
		return int64(math.Round(float64(totalCents) * 0.4)), nil
	case models.PaymentPhaseBalance:
		deposit := int64(math.Round(float64(totalCents) * 0.4))
		return totalCents - deposit, nil
	}
	return 0, &ValidationError{Field: "phase", Message: fmt.Sprintf("unknown payment phase %q", phase)}
}

// CreateCheckoutSession creates a hosted checkout session for one phase and
// upserts the matching ledger row to processing. The upsert is keyed on
// (order_id, phase), so repeated clicks converge on a single row. Nothing is
// written locally until the provider call succeeds.
func (s *PaymentService) CreateCheckoutSession(order *models.Order, phase string, actor Actor) (*CheckoutSessionInfo, *models.Payment, error) {
	amountCents, err := s.PhaseAmountCents(order, phase)
	if err != nil {
		return nil, nil, err
	}

	var existing models.Payment
	err = s.db.Where("order_id = ? AND phase = ?", order.ID, phase).First(&existing).Error
	if err == nil && existing.Status == models.PaymentStatusSucceeded {
		return nil, nil, &ConflictError{Message: fmt.Sprintf("payment phase %q is already paid for order %s", phase, order.OrderNumber)}
	}

	session, err := s.provider.CreateCheckoutSession(CheckoutSessionParams{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Phase:         phase,
		AmountCents:   amountCents,
		Currency:      s.currency(),
		Description:   s.phaseDescription(order, phase),
		CustomerEmail: s.customerEmail(order),
	})
	if err != nil {
		return nil, nil, err
	}

	payment := models.Payment{
		OrderID:                 order.ID,
		Phase:                   phase,
		AmountCents:             amountCents,
		Currency:                s.currency(),
		Status:                  models.PaymentStatusProcessing,
		StripeCheckoutSessionID: &session.SessionID,
		Metadata: models.PaymentMetadata{
			OrderNumber:   order.OrderNumber,
			CustomerEmail: s.customerEmail(order),
			Description:   s.phaseDescription(order, phase),
		},
	}
	if session.PaymentIntentID != "" {
		payment.StripePaymentIntentID = &session.PaymentIntentID
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := upsertPaymentTx(tx, &payment); err != nil {
			return err
		}
		return s.timeline.AppendEvent(tx, order.ID, models.EventPaymentSessionCreated,
			fmt.Sprintf("Checkout session created for %s", phase),
			models.TimelineEventData{
				Phase:             phase,
				AmountCents:       amountCents,
				CheckoutSessionID: session.SessionID,
				PaymentIntentID:   session.PaymentIntentID,
			}, actor.Source, actor.TriggeredBy)
	})
	if err != nil {
		return nil, nil, err
	}

	return session, &payment, nil
}

// CreateInvoice creates a hosted invoice for one phase instead of a checkout
// session; same amount computation, different provider surface
func (s *PaymentService) CreateInvoice(order *models.Order, phase string, actor Actor) (*InvoiceInfo, *models.Payment, error) {
	amountCents, err := s.PhaseAmountCents(order, phase)
	if err != nil {
		return nil, nil, err
	}

	customerName := ""
	if order.User != nil {
		customerName = order.User.Name
	} else if order.GuestName != nil {
		customerName = *order.GuestName
	}

	invoice, err := s.provider.CreateInvoice(InvoiceParams{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Phase:         phase,
		AmountCents:   amountCents,
		Currency:      s.currency(),
		Description:   s.phaseDescription(order, phase),
		CustomerEmail: s.customerEmail(order),
		CustomerName:  customerName,
	})
	if err != nil {
		return nil, nil, err
	}

	payment := models.Payment{
		OrderID:         order.ID,
		Phase:           phase,
		AmountCents:     amountCents,
		Currency:        s.currency(),
		Status:          models.PaymentStatusProcessing,
		StripeInvoiceID: &invoice.InvoiceID,
		Metadata: models.PaymentMetadata{
			OrderNumber:   order.OrderNumber,
			CustomerEmail: s.customerEmail(order),
			Description:   s.phaseDescription(order, phase),
		},
	}
	if invoice.PaymentIntentID != "" {
		payment.StripePaymentIntentID = &invoice.PaymentIntentID
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := upsertPaymentTx(tx, &payment); err != nil {
			return err
		}
		return s.timeline.AppendEvent(tx, order.ID, models.EventPaymentSessionCreated,
			fmt.Sprintf("Invoice issued for %s", phase),
			models.TimelineEventData{
				Phase:           phase,
				AmountCents:     amountCents,
				PaymentIntentID: invoice.PaymentIntentID,
			}, actor.Source, actor.TriggeredBy)
	})
	if err != nil {
		return nil, nil, err
	}

	return invoice, &payment, nil
}

// ListPayments returns all ledger rows for an order, oldest first
func (s *PaymentService) ListPayments(orderID uint) ([]models.Payment, error) {
	var payments []models.Payment
	if err := s.db.Where("order_id = ?", orderID).Order("created_at ASC, id ASC").Find(&payments).Error; err != nil {
		return nil, fmt.Errorf("failed to load payments: %w", err)
	}
	return payments, nil
}

// GetPayment returns the ledger row for one (order, phase) pair
func (s *PaymentService) GetPayment(orderID uint, phase string) (*models.Payment, error) {
	var payment models.Payment
	if err := s.db.Where("order_id = ? AND phase = ?", orderID, phase).First(&payment).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &NotFoundError{Resource: "payment", ID: fmt.Sprintf("%d/%s", orderID, phase)}
		}
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	return &payment, nil
}

func (s *PaymentService) currency() string {
	if s.cfg != nil && s.cfg.Currency != "" {
		return s.cfg.Currency
	}
	return "usd"
}

func (s *PaymentService) customerEmail(order *models.Order) string {
	if order.User != nil {
		return order.User.Email
	}
	if order.GuestEmail != nil {
		return *order.GuestEmail
	}
	return ""
}

func (s *PaymentService) phaseDescription(order *models.Order, phase string) string {
	switch phase {
	case models.PaymentPhaseShippingFee:
		return fmt.Sprintf("Shipping fee for order %s", order.OrderNumber)
	case models.PaymentPhaseDeposit:
		return fmt.Sprintf("Deposit for order %s", order.OrderNumber)
	case models.PaymentPhaseBalance:
		return fmt.Sprintf("Balance for order %s", order.OrderNumber)
	}
	return fmt.Sprintf("Order %s (%d x %s)", order.OrderNumber, order.Quantity, order.ProductName)
}

// upsertPaymentTx writes a ledger row keyed on (order_id, phase). An existing
// row is updated in place, which keeps repeated session creation and repeated
// webhook deliveries from ever producing duplicate rows.
func upsertPaymentTx(tx *gorm.DB, payment *models.Payment) error {
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "order_id"}, {Name: "phase"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"amount_cents", "currency", "status", "paid_at",
			"stripe_payment_intent_id", "stripe_checkout_session_id",
			"stripe_charge_id", "stripe_invoice_id", "metadata", "updated_at",
		}),
	}).Create(payment).Error
	if err != nil {
		return fmt.Errorf("failed to upsert payment %d/%s: %w", payment.OrderID, payment.Phase, err)
	}

	// The conflict path does not refresh the model's primary key
	if payment.ID == 0 {
		var saved models.Payment
		if err := tx.Where("order_id = ? AND phase = ?", payment.OrderID, payment.Phase).First(&saved).Error; err == nil {
			payment.ID = saved.ID
			payment.CreatedAt = saved.CreatedAt
		}
	}
	return nil
}
