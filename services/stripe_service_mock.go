package services

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/threadcount/threadcount-api/models"
)

// MockWebhookSignature is the signature the mock provider accepts on webhook deliveries
const MockWebhookSignature = "t=mock,v1=valid"

// MockPaymentProvider is a mock implementation of PaymentProvider for testing
type MockPaymentProvider struct {
	sessions map[string]*PaymentState // keyed by session ID
	intents  map[string]string        // intent ID -> session ID
	invoices map[string]*InvoiceInfo
	seq      int
	failNext error
	mu       sync.RWMutex
}

// NewMockPaymentProvider creates a new mock payment provider
func NewMockPaymentProvider() *MockPaymentProvider {
	return &MockPaymentProvider{
		sessions: make(map[string]*PaymentState),
		intents:  make(map[string]string),
		invoices: make(map[string]*InvoiceInfo),
	}
}

// SetAsMockForTesting sets this mock as the global payment provider instance for testing
func (m *MockPaymentProvider) SetAsMockForTesting() {
	SetPaymentProvider(m)
}

// FailNextCall makes the next provider call return the given error
func (m *MockPaymentProvider) FailNextCall(err error) {
	m.mu.Lock()
	m.failNext = err
	m.mu.Unlock()
}

func (m *MockPaymentProvider) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

// CreateCheckoutSession simulates creating a hosted checkout session
func (m *MockPaymentProvider) CreateCheckoutSession(p CheckoutSessionParams) (*CheckoutSessionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return nil, &ProviderError{Op: "create checkout session", Err: err}
	}

	// Reuse the open session for the same order/phase, mirroring the
	// idempotency key behavior of the real provider
	for id, state := range m.sessions {
		if state.OrderID == p.OrderID && state.Phase == p.Phase && state.Status == models.PaymentStatusProcessing {
			return &CheckoutSessionInfo{
				SessionID:       id,
				PaymentIntentID: state.PaymentIntentID,
				URL:             fmt.Sprintf("https://checkout.stripe.test/pay/%s", id),
				ExpiresAt:       time.Now().Add(30 * time.Minute).UTC(),
			}, nil
		}
	}

	m.seq++
	sessionID := fmt.Sprintf("cs_mock_%03d", m.seq)
	intentID := fmt.Sprintf("pi_mock_%03d", m.seq)

	m.sessions[sessionID] = &PaymentState{
		SessionID:       sessionID,
		PaymentIntentID: intentID,
		Status:          models.PaymentStatusProcessing,
		AmountCents:     p.AmountCents,
		Currency:        p.Currency,
		OrderID:         p.OrderID,
		Phase:           p.Phase,
	}
	m.intents[intentID] = sessionID

	return &CheckoutSessionInfo{
		SessionID:       sessionID,
		PaymentIntentID: intentID,
		URL:             fmt.Sprintf("https://checkout.stripe.test/pay/%s", sessionID),
		ExpiresAt:       time.Now().Add(30 * time.Minute).UTC(),
	}, nil
}

// CreateInvoice simulates creating a hosted invoice
func (m *MockPaymentProvider) CreateInvoice(p InvoiceParams) (*InvoiceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return nil, &ProviderError{Op: "create invoice", Err: err}
	}

	m.seq++
	invoiceID := fmt.Sprintf("in_mock_%03d", m.seq)
	intentID := fmt.Sprintf("pi_mock_%03d", m.seq)
	sessionID := fmt.Sprintf("cs_mock_%03d", m.seq)

	info := &InvoiceInfo{
		InvoiceID:        invoiceID,
		PaymentIntentID:  intentID,
		HostedInvoiceURL: fmt.Sprintf("https://invoice.stripe.test/%s", invoiceID),
	}
	m.invoices[invoiceID] = info
	m.sessions[sessionID] = &PaymentState{
		SessionID:       sessionID,
		PaymentIntentID: intentID,
		Status:          models.PaymentStatusProcessing,
		AmountCents:     p.AmountCents,
		Currency:        p.Currency,
		OrderID:         p.OrderID,
		Phase:           p.Phase,
	}
	m.intents[intentID] = sessionID

	return info, nil
}

// CompleteSession marks a mock session's payment as succeeded
func (m *MockPaymentProvider) CompleteSession(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, exists := m.sessions[sessionID]
	if !exists {
		return fmt.Errorf("session not found in mock provider: %s", sessionID)
	}

	paidAt := time.Now().UTC()
	state.Status = models.PaymentStatusSucceeded
	state.PaidAt = &paidAt
	state.ChargeID = fmt.Sprintf("ch_mock_%s", sessionID)
	return nil
}

// FailSession marks a mock session's payment as failed
func (m *MockPaymentProvider) FailSession(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, exists := m.sessions[sessionID]
	if !exists {
		return fmt.Errorf("session not found in mock provider: %s", sessionID)
	}

	state.Status = models.PaymentStatusFailed
	return nil
}

// LookupSession returns the state of a mock session
func (m *MockPaymentProvider) LookupSession(sessionID string) (*PaymentState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return nil, &ProviderError{Op: "lookup checkout session", Err: err}
	}

	state, exists := m.sessions[sessionID]
	if !exists {
		return nil, &ProviderError{Op: "lookup checkout session", Err: fmt.Errorf("no such session: %s", sessionID)}
	}

	copied := *state
	return &copied, nil
}

// LookupIntent returns the state of the mock session owning an intent
func (m *MockPaymentProvider) LookupIntent(intentID string) (*PaymentState, error) {
	m.mu.RLock()
	sessionID, exists := m.intents[intentID]
	m.mu.RUnlock()

	if !exists {
		return nil, &ProviderError{Op: "lookup payment intent", Err: fmt.Errorf("no such payment intent: %s", intentID)}
	}
	return m.LookupSession(sessionID)
}

// mockWebhookPayload is the JSON body of a simulated webhook delivery
type mockWebhookPayload struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	// StripMetadata simulates an event whose metadata lost the order correlation
	StripMetadata bool `json:"strip_metadata,omitempty"`
}

// WebhookPayload builds a webhook body for the given event type and session,
// for use with ParseWebhookEvent in tests
func (m *MockPaymentProvider) WebhookPayload(eventType, sessionID string) []byte {
	payload, _ := json.Marshal(mockWebhookPayload{Type: eventType, SessionID: sessionID})
	return payload
}

// UncorrelatedWebhookPayload builds a webhook body whose payment state is
// missing the order/phase correlation
func (m *MockPaymentProvider) UncorrelatedWebhookPayload(eventType, sessionID string) []byte {
	payload, _ := json.Marshal(mockWebhookPayload{Type: eventType, SessionID: sessionID, StripMetadata: true})
	return payload
}

// ParseWebhookEvent simulates signature verification and event decoding
func (m *MockPaymentProvider) ParseWebhookEvent(payload []byte, signature string) (*WebhookEvent, error) {
	if signature != MockWebhookSignature {
		return nil, fmt.Errorf("webhook signature verification failed")
	}

	var body mockWebhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("failed to decode webhook payload: %w", err)
	}

	evt := &WebhookEvent{Type: body.Type}
	switch body.Type {
	case "checkout.session.completed", "payment_intent.succeeded", "payment_intent.payment_failed":
		m.mu.RLock()
		state, exists := m.sessions[body.SessionID]
		m.mu.RUnlock()
		if !exists {
			return nil, fmt.Errorf("no such session: %s", body.SessionID)
		}
		copied := *state
		if body.StripMetadata {
			copied.OrderID = 0
			copied.Phase = ""
			copied.SessionID = "cs_unknown"
			copied.PaymentIntentID = "pi_unknown"
		}
		evt.State = &copied
	}

	return evt, nil
}

// Sessions returns a snapshot of all mock sessions (for testing assertions)
func (m *MockPaymentProvider) Sessions() map[string]PaymentState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make(map[string]PaymentState, len(m.sessions))
	for id, state := range m.sessions {
		sessions[id] = *state
	}
	return sessions
}

// Clear removes all sessions and invoices from the mock provider
func (m *MockPaymentProvider) Clear() {
	m.mu.Lock()
	m.sessions = make(map[string]*PaymentState)
	m.intents = make(map[string]string)
	m.invoices = make(map[string]*InvoiceInfo)
	m.seq = 0
	m.failNext = nil
	m.mu.Unlock()
}
