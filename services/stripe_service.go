package services

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/threadcount/threadcount-api/config"
	"github.com/threadcount/threadcount-api/models"
)

// CheckoutSessionParams describes the hosted checkout page to create for one
// payment phase of an order
type CheckoutSessionParams struct {
	OrderID       uint
	OrderNumber   string
	Phase         string
	AmountCents   int64
	Currency      string
	Description   string
	CustomerEmail string
}

// CheckoutSessionInfo is the provider session reference returned to the client
type CheckoutSessionInfo struct {
	SessionID       string    `json:"session_id"`
	PaymentIntentID string    `json:"payment_intent_id,omitempty"`
	URL             string    `json:"url"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// InvoiceParams describes a hosted invoice to create instead of a checkout session
type InvoiceParams struct {
	OrderID       uint
	OrderNumber   string
	Phase         string
	AmountCents   int64
	Currency      string
	Description   string
	CustomerEmail string
	CustomerName  string
}

// InvoiceInfo is the provider invoice reference returned to the client
type InvoiceInfo struct {
	InvoiceID        string `json:"invoice_id"`
	PaymentIntentID  string `json:"payment_intent_id,omitempty"`
	HostedInvoiceURL string `json:"hosted_invoice_url"`
}

// PaymentState is the provider's authoritative view of one payment attempt,
// normalized to the ledger's status vocabulary. OrderID/Phase are recovered
// from provider metadata and may be zero when the correlation is missing.
type PaymentState struct {
	SessionID       string
	PaymentIntentID string
	ChargeID        string
	Status          string
	AmountCents     int64
	Currency        string
	PaidAt          *time.Time
	OrderID         uint
	Phase           string
}

// WebhookEvent is a verified, decoded provider webhook delivery. State is nil
// for event types the reconciler does not act on.
type WebhookEvent struct {
	Type  string
	State *PaymentState
}

// PaymentProvider defines the interface for payment provider operations
type PaymentProvider interface {
	CreateCheckoutSession(params CheckoutSessionParams) (*CheckoutSessionInfo, error)
	CreateInvoice(params InvoiceParams) (*InvoiceInfo, error)
	LookupSession(sessionID string) (*PaymentState, error)
	LookupIntent(intentID string) (*PaymentState, error)
	ParseWebhookEvent(payload []byte, signature string) (*WebhookEvent, error)
}

// StripeService implements PaymentProvider using the Stripe API
type StripeService struct {
	api           *client.API
	webhookSecret string
	successURL    string
	cancelURL     string
}

var paymentProviderInstance PaymentProvider

// InitStripeService initializes the Stripe payment provider
func InitStripeService(cfg *config.Config) (PaymentProvider, error) {
	if cfg.StripeSecretKey == "" {
		return nil, fmt.Errorf("STRIPE_SECRET_KEY is required")
	}

	sc := &client.API{}
	sc.Init(cfg.StripeSecretKey, nil)

	paymentProviderInstance = &StripeService{
		api:           sc,
		webhookSecret: cfg.StripeWebhookSecret,
		successURL:    cfg.CheckoutSuccessURL,
		cancelURL:     cfg.CheckoutCancelURL,
	}

	return paymentProviderInstance, nil
}

// GetPaymentProvider returns the initialized payment provider instance
func GetPaymentProvider() PaymentProvider {
	return paymentProviderInstance
}

// SetPaymentProvider sets the payment provider instance (primarily for testing)
func SetPaymentProvider(provider PaymentProvider) {
	paymentProviderInstance = provider
}

// CreateCheckoutSession creates a Stripe Checkout session for one payment phase.
// The order id and phase are written to both the session metadata and the
// payment intent metadata so webhook events can be correlated back.
func (s *StripeService) CreateCheckoutSession(p CheckoutSessionParams) (*CheckoutSessionInfo, error) {
	metadata := map[string]string{
		"order_id":     strconv.FormatUint(uint64(p.OrderID), 10),
		"order_number": p.OrderNumber,
		"phase":        p.Phase,
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(strings.ReplaceAll(s.successURL, "{ORDER_NUMBER}", p.OrderNumber)),
		CancelURL:  stripe.String(strings.ReplaceAll(s.cancelURL, "{ORDER_NUMBER}", p.OrderNumber)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(p.Currency)),
					UnitAmount: stripe.Int64(p.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(p.Description),
					},
				},
			},
		},
		Metadata: metadata,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	// Repeated clicks on "pay" for the same order/phase reuse the same
	// provider-side request instead of minting parallel sessions
	params.SetIdempotencyKey(fmt.Sprintf("checkout-%d-%s", p.OrderID, p.Phase))
	if p.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(p.CustomerEmail)
	}

	session, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, &ProviderError{Op: "create checkout session", Err: err}
	}

	info := &CheckoutSessionInfo{
		SessionID: session.ID,
		URL:       session.URL,
	}
	if session.PaymentIntent != nil {
		info.PaymentIntentID = session.PaymentIntent.ID
	}
	if session.ExpiresAt != 0 {
		info.ExpiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}

	return info, nil
}

// CreateInvoice creates a finalized hosted Stripe invoice for one payment phase
func (s *StripeService) CreateInvoice(p InvoiceParams) (*InvoiceInfo, error) {
	customer, err := s.api.Customers.New(&stripe.CustomerParams{
		Email: stripe.String(p.CustomerEmail),
		Name:  stripe.String(p.CustomerName),
	})
	if err != nil {
		return nil, &ProviderError{Op: "create customer", Err: err}
	}

	metadata := map[string]string{
		"order_id":     strconv.FormatUint(uint64(p.OrderID), 10),
		"order_number": p.OrderNumber,
		"phase":        p.Phase,
	}

	invoiceParams := &stripe.InvoiceParams{
		Customer:         stripe.String(customer.ID),
		CollectionMethod: stripe.String(string(stripe.InvoiceCollectionMethodSendInvoice)),
		DaysUntilDue:     stripe.Int64(30),
		Metadata:         metadata,
	}
	invoiceParams.SetIdempotencyKey(fmt.Sprintf("invoice-%d-%s", p.OrderID, p.Phase))
	invoice, err := s.api.Invoices.New(invoiceParams)
	if err != nil {
		return nil, &ProviderError{Op: "create invoice", Err: err}
	}

	_, err = s.api.InvoiceItems.New(&stripe.InvoiceItemParams{
		Customer:    stripe.String(customer.ID),
		Invoice:     stripe.String(invoice.ID),
		Amount:      stripe.Int64(p.AmountCents),
		Currency:    stripe.String(strings.ToLower(p.Currency)),
		Description: stripe.String(p.Description),
	})
	if err != nil {
		return nil, &ProviderError{Op: "create invoice item", Err: err}
	}

	finalized, err := s.api.Invoices.FinalizeInvoice(invoice.ID, &stripe.InvoiceFinalizeInvoiceParams{})
	if err != nil {
		return nil, &ProviderError{Op: "finalize invoice", Err: err}
	}

	info := &InvoiceInfo{
		InvoiceID:        finalized.ID,
		HostedInvoiceURL: finalized.HostedInvoiceURL,
	}
	if finalized.PaymentIntent != nil {
		info.PaymentIntentID = finalized.PaymentIntent.ID
	}

	return info, nil
}

// LookupSession retrieves the authoritative state of a checkout session
func (s *StripeService) LookupSession(sessionID string) (*PaymentState, error) {
	params := &stripe.CheckoutSessionParams{}
	params.AddExpand("payment_intent.latest_charge")

	session, err := s.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, &ProviderError{Op: "lookup checkout session", Err: err}
	}

	return paymentStateFromSession(session), nil
}

// LookupIntent retrieves the authoritative state of a payment intent
func (s *StripeService) LookupIntent(intentID string) (*PaymentState, error) {
	params := &stripe.PaymentIntentParams{}
	params.AddExpand("latest_charge")

	intent, err := s.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return nil, &ProviderError{Op: "lookup payment intent", Err: err}
	}

	return paymentStateFromIntent(intent), nil
}

// ParseWebhookEvent verifies the Stripe signature header and decodes the
// event into a normalized payment state. Event types the reconciler does not
// act on return a WebhookEvent with a nil State.
func (s *StripeService) ParseWebhookEvent(payload []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("webhook signature verification failed: %w", err)
	}

	evt := &WebhookEvent{Type: string(event.Type)}

	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("failed to decode checkout session payload: %w", err)
		}
		evt.State = paymentStateFromSession(&session)
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return nil, fmt.Errorf("failed to decode payment intent payload: %w", err)
		}
		evt.State = paymentStateFromIntent(&intent)
	}

	return evt, nil
}

// paymentStateFromSession normalizes a checkout session (and its expanded
// payment intent, when present) into a PaymentState
func paymentStateFromSession(session *stripe.CheckoutSession) *PaymentState {
	state := &PaymentState{
		SessionID:   session.ID,
		AmountCents: session.AmountTotal,
		Currency:    strings.ToLower(string(session.Currency)),
	}
	state.OrderID, state.Phase = correlationFromMetadata(session.Metadata)

	if session.PaymentIntent != nil {
		intentState := paymentStateFromIntent(session.PaymentIntent)
		intentState.SessionID = session.ID
		if intentState.OrderID == 0 {
			intentState.OrderID, intentState.Phase = state.OrderID, state.Phase
		}
		if intentState.AmountCents == 0 {
			intentState.AmountCents = state.AmountCents
		}
		return intentState
	}

	// Webhook payloads do not expand the intent; fall back to the session's
	// own payment status
	switch session.PaymentStatus {
	case stripe.CheckoutSessionPaymentStatusPaid, stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		state.Status = models.PaymentStatusSucceeded
		// The session payload carries no completion timestamp (that lives on
		// the charge, which webhook payloads do not expand), so record the
		// delivery time
		paidAt := time.Now().UTC()
		state.PaidAt = &paidAt
	default:
		state.Status = models.PaymentStatusProcessing
	}

	return state
}

// paymentStateFromIntent normalizes a payment intent into a PaymentState
func paymentStateFromIntent(intent *stripe.PaymentIntent) *PaymentState {
	state := &PaymentState{
		PaymentIntentID: intent.ID,
		AmountCents:     intent.Amount,
		Currency:        strings.ToLower(string(intent.Currency)),
	}
	state.OrderID, state.Phase = correlationFromMetadata(intent.Metadata)

	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		state.Status = models.PaymentStatusSucceeded
	case stripe.PaymentIntentStatusProcessing:
		state.Status = models.PaymentStatusProcessing
	case stripe.PaymentIntentStatusCanceled:
		state.Status = models.PaymentStatusCanceled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		// Stripe parks failed attempts back in requires_payment_method; only
		// treat it as a failure when an attempt actually errored
		if intent.LastPaymentError != nil {
			state.Status = models.PaymentStatusFailed
		} else {
			state.Status = models.PaymentStatusPending
		}
	default:
		state.Status = models.PaymentStatusPending
	}

	if charge := intent.LatestCharge; charge != nil {
		state.ChargeID = charge.ID
		if charge.Paid {
			paidAt := time.Unix(charge.Created, 0).UTC()
			state.PaidAt = &paidAt
		}
		if charge.Refunded {
			state.Status = models.PaymentStatusRefunded
		} else if charge.AmountRefunded > 0 {
			state.Status = models.PaymentStatusPartiallyRefunded
		}
	}

	return state
}

// correlationFromMetadata recovers the (order, phase) correlation written
// when the session or invoice was created
func correlationFromMetadata(metadata map[string]string) (uint, string) {
	if metadata == nil {
		return 0, ""
	}
	id, err := strconv.ParseUint(metadata["order_id"], 10, 64)
	if err != nil {
		return 0, ""
	}
	return uint(id), metadata["phase"]
}
