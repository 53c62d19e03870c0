package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"

	"github.com/threadcount/threadcount-api/models"
	"github.com/threadcount/threadcount-api/utils"
)

// MinimumOrderQuantity is the smallest quantity accepted for a custom run
const MinimumOrderQuantity = 50

// Actor identifies who or what triggered a state change, for the audit trail
type Actor struct {
	Source      string // one of the models.TriggerSource* values
	TriggeredBy string // user identifier, "stripe", or "system"
}

// allowedTransitions is the order lifecycle graph. Status only moves along
// these directed edges; everything else is rejected.
var allowedTransitions = map[string][]string{
	models.OrderStatusSubmitted:    {models.OrderStatusPaid, models.OrderStatusCancelled},
	models.OrderStatusPaid:         {models.OrderStatusInProduction, models.OrderStatusCancelled},
	models.OrderStatusInProduction: {models.OrderStatusShipping},
	models.OrderStatusShipping:     {models.OrderStatusDelivered},
	models.OrderStatusDelivered:    {},
	models.OrderStatusCancelled:    {},
}

// canTransition reports whether to is a direct successor of from
func canTransition(from, to string) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CreateOrderInput is the validated payload for creating an order
type CreateOrderInput struct {
	UserID           *uint
	GuestEmail       string
	GuestName        string
	ProductName      string
	ProductCategory  string
	Quantity         int
	UnitPrice        float64
	TotalAmount      *float64 // optional client-computed total, must match within $0.01
	Customization    models.Customization
	ShippingAddress  *models.ShippingAddress
	ShippingFeeCents int64
}

// TransitionOptions carries optional fields applied alongside a status change
type TransitionOptions struct {
	TrackingNumber    *string
	EstimatedDelivery *time.Time
}

// TransitionResult is the outcome of a transition request. When a shipping
// fee must be collected first, RequiresPayment is true, Checkout points at
// the session the customer must complete, and the order status is unchanged.
type TransitionResult struct {
	Order           *models.Order        `json:"order"`
	RequiresPayment bool                 `json:"requires_payment"`
	Checkout        *CheckoutSessionInfo `json:"checkout,omitempty"`
	Payment         *models.Payment      `json:"payment,omitempty"`
}

// OrderService owns order creation and the status transition engine
type OrderService struct {
	db       *gorm.DB
	payments *PaymentService
	timeline *TimelineService
	now      func() time.Time
}

// NewOrderService creates a new order service
func NewOrderService(db *gorm.DB, payments *PaymentService, timeline *TimelineService) *OrderService {
	return &OrderService{db: db, payments: payments, timeline: timeline, now: time.Now}
}

// NewOrderNumber generates a human-readable order number
func NewOrderNumber() string {
	return "TC-" + ulid.Make().String()
}

// CreateOrder validates the payload, computes the immutable total, and
// persists the order together with its initial ledger row and the
// order_created timeline event in a single transaction
func (s *OrderService) CreateOrder(input CreateOrderInput) (*models.Order, error) {
	if err := validateCreateOrder(&input); err != nil {
		return nil, err
	}

	total := float64(input.Quantity) * input.UnitPrice
	if input.TotalAmount != nil && !utils.AmountsMatch(total, *input.TotalAmount) {
		return nil, &ValidationError{
			Field:   "total_amount",
			Message: fmt.Sprintf("client total %.2f does not match computed total %.2f", *input.TotalAmount, total),
		}
	}

	order := &models.Order{
		OrderNumber:      NewOrderNumber(),
		UserID:           input.UserID,
		ProductName:      input.ProductName,
		ProductCategory:  input.ProductCategory,
		Quantity:         input.Quantity,
		UnitPrice:        input.UnitPrice,
		TotalAmount:      total,
		Customization:    input.Customization,
		Status:           models.OrderStatusSubmitted,
		ShippingAddress:  input.ShippingAddress,
		ShippingFeeCents: input.ShippingFeeCents,
	}
	if input.UserID == nil {
		guestEmail := strings.ToLower(strings.TrimSpace(input.GuestEmail))
		order.GuestEmail = &guestEmail
		if input.GuestName != "" {
			guestName := input.GuestName
			order.GuestName = &guestName
		}
	}

	actor := Actor{Source: models.TriggerSourceAPI, TriggeredBy: s.ownerIdentifier(order)}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}
		if _, err := s.payments.InitializePayments(tx, order); err != nil {
			return err
		}
		return s.timeline.AppendEvent(tx, order.ID, models.EventOrderCreated,
			fmt.Sprintf("Order %s created (%d x %s)", order.OrderNumber, order.Quantity, order.ProductName),
			models.TimelineEventData{ToStatus: order.Status}, actor.Source, actor.TriggeredBy)
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// validateCreateOrder checks the creation constraints: minimum quantity,
// sizes summing to quantity, at least one placement, positive pricing, and
// exactly one owner identity
func validateCreateOrder(input *CreateOrderInput) error {
	if input.Quantity < MinimumOrderQuantity {
		return &ValidationError{
			Field:   "quantity",
			Message: fmt.Sprintf("quantity %d is below the minimum order quantity of %d", input.Quantity, MinimumOrderQuantity),
		}
	}
	if input.UnitPrice <= 0 {
		return &ValidationError{Field: "unit_price", Message: "unit price must be positive"}
	}
	if len(input.Customization.Placements) == 0 {
		return &ValidationError{Field: "customization", Message: "at least one print placement is required"}
	}
	if got := input.Customization.TotalUnits(); got != input.Quantity {
		return &ValidationError{
			Field:   "sizes_qty",
			Message: fmt.Sprintf("size quantities sum to %d, expected %d", got, input.Quantity),
		}
	}

	hasUser := input.UserID != nil
	hasGuest := strings.TrimSpace(input.GuestEmail) != ""
	if hasUser == hasGuest {
		return &ValidationError{Field: "identity", Message: "exactly one of user or guest contact info must be set"}
	}
	return nil
}

// GetOrder loads an order by id with its owner preloaded
func (s *OrderService) GetOrder(id uint) (*models.Order, error) {
	var order models.Order
	if err := s.db.Preload("User").First(&order, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &NotFoundError{Resource: "order", ID: fmt.Sprintf("%d", id)}
		}
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	return &order, nil
}

// GetGuestOrder loads a guest order by order number, verifying the guest email
func (s *OrderService) GetGuestOrder(orderNumber, guestEmail string) (*models.Order, error) {
	var order models.Order
	err := s.db.Where("order_number = ? AND guest_email = ?", orderNumber, strings.ToLower(strings.TrimSpace(guestEmail))).
		First(&order).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &NotFoundError{Resource: "order", ID: orderNumber}
		}
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	return &order, nil
}

// Transition validates and applies a status change. The in_production ->
// shipping edge is gated on the shipping fee: when one is configured and
// unpaid, a checkout session is created and returned instead of advancing;
// the reconciler advances the order once the fee payment succeeds.
func (s *OrderService) Transition(orderID uint, target string, actor Actor, opts *TransitionOptions) (*TransitionResult, error) {
	order, err := s.GetOrder(orderID)
	if err != nil {
		return nil, err
	}

	if !canTransition(order.Status, target) {
		return nil, &InvalidTransitionError{From: order.Status, To: target}
	}

	if target == models.OrderStatusShipping && order.ShippingFeeOutstanding() {
		session, payment, err := s.payments.CreateCheckoutSession(order, models.PaymentPhaseShippingFee, actor)
		if err != nil {
			return nil, err
		}
		if err := s.timeline.AppendEvent(nil, order.ID, models.EventShippingFeeRequested,
			fmt.Sprintf("Shipping fee of %d cents must be paid before the order ships", order.ShippingFeeCents),
			models.TimelineEventData{Phase: models.PaymentPhaseShippingFee, AmountCents: order.ShippingFeeCents},
			actor.Source, actor.TriggeredBy); err != nil {
			return nil, err
		}
		return &TransitionResult{Order: order, RequiresPayment: true, Checkout: session, Payment: payment}, nil
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		return s.transitionTx(tx, order, target, actor, opts)
	})
	if err != nil {
		return nil, err
	}

	order, err = s.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	return &TransitionResult{Order: order}, nil
}

// transitionTx applies one forward edge of the lifecycle graph inside the
// caller's transaction. The UPDATE is guarded by the expected pre-state, so
// two actors racing on the same order cannot both win; the loser gets a
// ConflictError. The matching timeline event commits atomically with the
// status change.
func (s *OrderService) transitionTx(tx *gorm.DB, order *models.Order, target string, actor Actor, opts *TransitionOptions) error {
	from := order.Status
	if !canTransition(from, target) {
		return &InvalidTransitionError{From: from, To: target}
	}

	now := s.now().UTC()
	updates := map[string]interface{}{"status": target}

	switch target {
	case models.OrderStatusPaid:
		updates["total_paid_amount"] = order.TotalAmount
		updates["paid_at"] = now
	case models.OrderStatusDelivered:
		updates["actual_delivery"] = now
	}
	if opts != nil {
		if opts.TrackingNumber != nil {
			updates["tracking_number"] = *opts.TrackingNumber
		}
		if opts.EstimatedDelivery != nil {
			updates["estimated_delivery"] = *opts.EstimatedDelivery
		}
	}

	res := tx.Model(&models.Order{}).Where("id = ? AND status = ?", order.ID, from).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update order status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &ConflictError{Message: fmt.Sprintf("order %s is no longer in status %q", order.OrderNumber, from)}
	}

	switch target {
	case models.OrderStatusPaid:
		// Converge the full-payment ledger row; reconciliation usually has
		// already done this, in which case the WHERE clause matches nothing
		err := tx.Model(&models.Payment{}).
			Where("order_id = ? AND phase = ? AND status <> ?", order.ID, models.PaymentPhaseFullPayment, models.PaymentStatusSucceeded).
			Updates(map[string]interface{}{"status": models.PaymentStatusSucceeded, "paid_at": now}).Error
		if err != nil {
			return fmt.Errorf("failed to settle full payment: %w", err)
		}
	case models.OrderStatusCancelled:
		err := tx.Model(&models.Payment{}).
			Where("order_id = ? AND status IN ?", order.ID, []string{models.PaymentStatusPending, models.PaymentStatusProcessing}).
			Update("status", models.PaymentStatusCanceled).Error
		if err != nil {
			return fmt.Errorf("failed to cancel open payments: %w", err)
		}
	}

	if err := s.timeline.AppendEvent(tx, order.ID, models.EventStatusChanged,
		fmt.Sprintf("Status changed from %s to %s", from, target),
		models.TimelineEventData{FromStatus: from, ToStatus: target},
		actor.Source, actor.TriggeredBy); err != nil {
		return err
	}

	order.Status = target
	return nil
}

func (s *OrderService) ownerIdentifier(order *models.Order) string {
	if order.GuestEmail != nil {
		return *order.GuestEmail
	}
	if order.UserID != nil {
		return fmt.Sprintf("user:%d", *order.UserID)
	}
	return "system"
}
