package services

import (
	"fmt"
	"log"

	"gorm.io/gorm"

	"github.com/threadcount/threadcount-api/models"
)

// ReconciliationService converges the payment ledger and order status with
// the provider's authoritative record. Both entry points — webhook deliveries
// and client-triggered reconciliation — funnel into ApplyPaymentState, which
// is idempotent: re-delivering the same success event neither duplicates
// ledger rows nor advances the order twice.
type ReconciliationService struct {
	db       *gorm.DB
	provider PaymentProvider
	orders   *OrderService
	timeline *TimelineService
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(db *gorm.DB, provider PaymentProvider, orders *OrderService, timeline *TimelineService) *ReconciliationService {
	return &ReconciliationService{db: db, provider: provider, orders: orders, timeline: timeline}
}

// ReconcileBySession reconciles against the provider state of a checkout
// session, used when the client returns from the hosted checkout page before
// the webhook has arrived
func (s *ReconciliationService) ReconcileBySession(sessionID string, actor Actor) (*models.Payment, error) {
	state, err := s.provider.LookupSession(sessionID)
	if err != nil {
		return nil, err
	}
	return s.ApplyPaymentState(state, actor)
}

// ReconcileByOrderPhase reconciles one (order, phase) ledger row against the
// provider, resolving the session or intent recorded when it was created
func (s *ReconciliationService) ReconcileByOrderPhase(orderID uint, phase string, actor Actor) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.Where("order_id = ? AND phase = ?", orderID, phase).First(&payment).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &NotFoundError{Resource: "payment", ID: fmt.Sprintf("%d/%s", orderID, phase)}
		}
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}

	var state *PaymentState
	switch {
	case payment.StripeCheckoutSessionID != nil:
		state, err = s.provider.LookupSession(*payment.StripeCheckoutSessionID)
	case payment.StripePaymentIntentID != nil:
		state, err = s.provider.LookupIntent(*payment.StripePaymentIntentID)
	default:
		return nil, &ReconciliationError{Message: fmt.Sprintf("payment %d/%s has no provider correlation to reconcile against", orderID, phase)}
	}
	if err != nil {
		return nil, err
	}

	if state.OrderID == 0 {
		state.OrderID = orderID
		state.Phase = phase
	}
	return s.ApplyPaymentState(state, actor)
}

// HandleWebhookEvent reconciles a verified webhook delivery. Event types the
// reconciler does not act on are acknowledged without mutation.
func (s *ReconciliationService) HandleWebhookEvent(evt *WebhookEvent) (*models.Payment, error) {
	if evt == nil || evt.State == nil {
		return nil, nil
	}
	return s.ApplyPaymentState(evt.State, Actor{Source: models.TriggerSourceWebhook, TriggeredBy: "stripe"})
}

// expectedPreState maps a payment phase to the order status it advances from
func expectedPreState(phase string) (from, to string, ok bool) {
	switch phase {
	case models.PaymentPhaseFullPayment:
		return models.OrderStatusSubmitted, models.OrderStatusPaid, true
	case models.PaymentPhaseShippingFee:
		return models.OrderStatusInProduction, models.OrderStatusShipping, true
	}
	// Legacy deposit/balance rows settle the ledger only
	return "", "", false
}

// ApplyPaymentState converges the ledger row and, for successful payments,
// the order status to the provider state. The ledger upsert and the order
// transition share one transaction so a crash cannot commit one without the
// other.
func (s *ReconciliationService) ApplyPaymentState(state *PaymentState, actor Actor) (*models.Payment, error) {
	orderID, phase := state.OrderID, state.Phase
	if orderID == 0 || phase == "" {
		// Metadata correlation lost; fall back to the provider ids recorded
		// when the session was created
		var existing models.Payment
		err := s.db.Where("stripe_checkout_session_id = ? OR stripe_payment_intent_id = ?",
			state.SessionID, state.PaymentIntentID).First(&existing).Error
		if err != nil {
			log.Printf("Reconciliation failed: no order correlation for session %q / intent %q", state.SessionID, state.PaymentIntentID)
			return nil, &ReconciliationError{Message: "payment event cannot be correlated to an order"}
		}
		orderID, phase = existing.OrderID, existing.Phase
	}

	var result *models.Payment
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.First(&order, orderID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return &ReconciliationError{Message: fmt.Sprintf("payment event references unknown order %d", orderID)}
			}
			return fmt.Errorf("failed to load order: %w", err)
		}

		var existing models.Payment
		hasRow := tx.Where("order_id = ? AND phase = ?", orderID, phase).First(&existing).Error == nil

		switch state.Status {
		case models.PaymentStatusSucceeded:
			return s.applySuccessTx(tx, &order, &existing, hasRow, state, phase, actor, &result)

		case models.PaymentStatusProcessing, models.PaymentStatusPending:
			// No order transition; just record the provider's view unless the
			// row has already reached a terminal state
			if hasRow && existing.IsTerminal() {
				result = &existing
				return nil
			}
			payment := s.buildLedgerRow(&existing, hasRow, orderID, phase, state, models.PaymentStatusProcessing)
			if err := upsertPaymentTx(tx, payment); err != nil {
				return err
			}
			result = payment
			return nil

		case models.PaymentStatusFailed, models.PaymentStatusCanceled:
			// The order is left unchanged so the customer can retry. A settled
			// row never moves backward: a failure event arriving after the
			// success (webhook deliveries are unordered) is stale.
			if hasRow && (existing.Status == state.Status ||
				existing.Status == models.PaymentStatusSucceeded ||
				existing.Status == models.PaymentStatusRefunded ||
				existing.Status == models.PaymentStatusPartiallyRefunded) {
				result = &existing
				return nil
			}
			payment := s.buildLedgerRow(&existing, hasRow, orderID, phase, state, state.Status)
			if err := upsertPaymentTx(tx, payment); err != nil {
				return err
			}
			result = payment
			return s.timeline.AppendEvent(tx, orderID, models.EventPaymentFailed,
				fmt.Sprintf("Payment for %s %s", phase, state.Status),
				models.TimelineEventData{Phase: phase, PaymentIntentID: state.PaymentIntentID},
				actor.Source, actor.TriggeredBy)

		case models.PaymentStatusRefunded, models.PaymentStatusPartiallyRefunded:
			payment := s.buildLedgerRow(&existing, hasRow, orderID, phase, state, state.Status)
			if err := upsertPaymentTx(tx, payment); err != nil {
				return err
			}
			result = payment
			return nil
		}

		return &ReconciliationError{Message: fmt.Sprintf("provider reported unknown payment status %q", state.Status)}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// applySuccessTx settles a succeeded payment and advances the order exactly
// once. Re-deliveries hit the early return; a crash after the ledger write
// but before the transition cannot happen inside the transaction, and
// re-running reconciliation recovers any drift regardless.
func (s *ReconciliationService) applySuccessTx(tx *gorm.DB, order *models.Order, existing *models.Payment, hasRow bool, state *PaymentState, phase string, actor Actor, result **models.Payment) error {
	preState, target, advances := expectedPreState(phase)
	alreadySettled := hasRow && existing.Status == models.PaymentStatusSucceeded
	needsAdvance := advances && order.Status == preState

	if alreadySettled && !needsAdvance {
		*result = existing
		return nil
	}

	if !alreadySettled {
		payment := s.buildLedgerRow(existing, hasRow, order.ID, phase, state, models.PaymentStatusSucceeded)
		if state.PaidAt != nil {
			payment.PaidAt = state.PaidAt
		} else {
			now := s.orders.now().UTC()
			payment.PaidAt = &now
		}
		if err := upsertPaymentTx(tx, payment); err != nil {
			return err
		}
		*result = payment

		if err := s.timeline.AppendEvent(tx, order.ID, models.EventPaymentSucceeded,
			fmt.Sprintf("Payment for %s succeeded (%d cents)", phase, payment.AmountCents),
			models.TimelineEventData{Phase: phase, AmountCents: payment.AmountCents, PaymentIntentID: state.PaymentIntentID},
			actor.Source, actor.TriggeredBy); err != nil {
			return err
		}
	} else {
		*result = existing
	}

	if needsAdvance {
		if phase == models.PaymentPhaseShippingFee {
			paidAt := state.PaidAt
			if paidAt == nil {
				now := s.orders.now().UTC()
				paidAt = &now
			}
			if err := tx.Model(&models.Order{}).Where("id = ?", order.ID).
				Update("shipping_paid_at", *paidAt).Error; err != nil {
				return fmt.Errorf("failed to record shipping fee payment: %w", err)
			}
		}
		return s.orders.transitionTx(tx, order, target, actor, nil)
	}
	return nil
}

// buildLedgerRow merges the provider state into the existing row, or starts a
// fresh one when the phase has no row yet (e.g. an intent webhook arriving
// before session creation was recorded)
func (s *ReconciliationService) buildLedgerRow(existing *models.Payment, hasRow bool, orderID uint, phase string, state *PaymentState, status string) *models.Payment {
	payment := &models.Payment{
		OrderID:     orderID,
		Phase:       phase,
		AmountCents: state.AmountCents,
		Currency:    state.Currency,
		Status:      status,
	}
	if hasRow {
		*payment = *existing
		payment.Status = status
		if state.AmountCents > 0 {
			payment.AmountCents = state.AmountCents
		}
		if state.Currency != "" {
			payment.Currency = state.Currency
		}
	}
	if state.SessionID != "" {
		payment.StripeCheckoutSessionID = &state.SessionID
	}
	if state.PaymentIntentID != "" {
		payment.StripePaymentIntentID = &state.PaymentIntentID
	}
	if state.ChargeID != "" {
		payment.StripeChargeID = &state.ChargeID
	}
	return payment
}
