package controllers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/threadcount/threadcount-api/models"
	"github.com/threadcount/threadcount-api/services"
)

func TestPayOrder(t *testing.T) {
	db, _ := setupOrderTestEnv(t)

	owner := createTestUser(t, db, "auth0|owner", "owner@example.com", "customer")
	other := createTestUser(t, db, "auth0|other", "other@example.com", "customer")
	order := createOrderForUser(t, owner)

	pay := func(auth0ID string, orderID uint, body []byte) *httptest.ResponseRecorder {
		router := setupTestRouter()
		router.POST("/orders/:id/pay", mockAuthMiddleware(auth0ID, "customer", "mock-token"), PayOrder)

		req, _ := http.NewRequest(http.MethodPost, fmt.Sprintf("/orders/%d/pay", orderID), bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	t.Run("Owner gets a checkout session", func(t *testing.T) {
		w := pay(owner.Auth0ID, order.ID, nil)
		assert.Equal(t, http.StatusCreated, w.Code, "Response body: %s", w.Body.String())

		var response map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.True(t, response["success"].(bool))

		data := response["data"].(map[string]interface{})
		checkout := data["checkout"].(map[string]interface{})
		assert.NotEmpty(t, checkout["url"])

		payment := data["payment"].(map[string]interface{})
		assert.Equal(t, "full_payment", payment["phase"])
		assert.Equal(t, float64(39950), payment["amount_cents"])
		assert.Equal(t, "processing", payment["status"])
	})

	t.Run("Repeated pay reuses the session", func(t *testing.T) {
		first := pay(owner.Auth0ID, order.ID, nil)
		second := pay(owner.Auth0ID, order.ID, nil)
		assert.Equal(t, http.StatusCreated, first.Code)
		assert.Equal(t, http.StatusCreated, second.Code)

		var count int64
		db.Model(&models.Payment{}).
			Where("order_id = ? AND phase = ?", order.ID, models.PaymentPhaseFullPayment).
			Count(&count)
		assert.EqualValues(t, 1, count)
	})

	t.Run("Non-owner is forbidden", func(t *testing.T) {
		w := pay(other.Auth0ID, order.ID, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("Settled phase conflicts", func(t *testing.T) {
		err := db.Model(&models.Payment{}).
			Where("order_id = ? AND phase = ?", order.ID, models.PaymentPhaseFullPayment).
			Update("status", models.PaymentStatusSucceeded).Error
		assert.NoError(t, err)

		w := pay(owner.Auth0ID, order.ID, nil)
		assert.Equal(t, http.StatusConflict, w.Code)

		var response map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &response)
		errorData := response["error"].(map[string]interface{})
		assert.Equal(t, "CONFLICT", errorData["code"])
	})
}

func TestCreateInvoiceEndpoint(t *testing.T) {
	db, _ := setupOrderTestEnv(t)

	admin := createTestUser(t, db, "auth0|admin", "admin@example.com", "admin")
	customer := createTestUser(t, db, "auth0|customer", "customer@example.com", "customer")
	order := createOrderForUser(t, customer)

	router := setupTestRouter()
	router.POST("/orders/:id/invoice", mockAuthMiddleware(admin.Auth0ID, "admin", "mock-token"), CreateInvoice)

	body, _ := json.Marshal(map[string]interface{}{"phase": "full_payment"})
	req, _ := http.NewRequest(http.MethodPost, fmt.Sprintf("/orders/%d/invoice", order.ID), bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code, "Response body: %s", w.Body.String())

	var response map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &response)
	data := response["data"].(map[string]interface{})
	invoice := data["invoice"].(map[string]interface{})
	assert.NotEmpty(t, invoice["hosted_invoice_url"])
}

func TestListPaymentsEndpoint(t *testing.T) {
	db, _ := setupOrderTestEnv(t)

	owner := createTestUser(t, db, "auth0|owner", "owner@example.com", "customer")
	order := createOrderForUser(t, owner)

	router := setupTestRouter()
	router.GET("/orders/:id/payments", mockAuthMiddleware(owner.Auth0ID, "customer", "mock-token"), ListPayments)

	req, _ := http.NewRequest(http.MethodGet, fmt.Sprintf("/orders/%d/payments", order.ID), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &response)
	payments := response["data"].([]interface{})
	assert.Len(t, payments, 1)

	payment := payments[0].(map[string]interface{})
	assert.Equal(t, "full_payment", payment["phase"])
	assert.Equal(t, "pending", payment["status"])
}

func TestReconcilePayment(t *testing.T) {
	db, provider := setupOrderTestEnv(t)

	owner := createTestUser(t, db, "auth0|owner", "owner@example.com", "customer")
	order := createOrderForUser(t, owner)

	session, _, err := services.GetPaymentService().CreateCheckoutSession(order, models.PaymentPhaseFullPayment,
		services.Actor{Source: models.TriggerSourceAPI, TriggeredBy: owner.Email})
	assert.NoError(t, err)
	assert.NoError(t, provider.CompleteSession(session.SessionID))

	router := setupTestRouter()
	router.POST("/payments/reconcile", ReconcilePayment)

	reconcile := func(body map[string]interface{}) *httptest.ResponseRecorder {
		payload, _ := json.Marshal(body)
		req, _ := http.NewRequest(http.MethodPost, "/payments/reconcile", bytes.NewBuffer(payload))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	t.Run("Reconcile by session settles and advances", func(t *testing.T) {
		w := reconcile(map[string]interface{}{"session_id": session.SessionID})
		assert.Equal(t, http.StatusOK, w.Code, "Response body: %s", w.Body.String())

		var response map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &response)
		payment := response["data"].(map[string]interface{})
		assert.Equal(t, "succeeded", payment["status"])

		reloaded, err := services.GetOrderService().GetOrder(order.ID)
		assert.NoError(t, err)
		assert.Equal(t, models.OrderStatusPaid, reloaded.Status)
	})

	t.Run("Reconcile by order and phase is idempotent", func(t *testing.T) {
		w := reconcile(map[string]interface{}{"order_id": order.ID, "phase": "full_payment"})
		assert.Equal(t, http.StatusOK, w.Code)

		var count int64
		db.Model(&models.Payment{}).
			Where("order_id = ? AND phase = ?", order.ID, models.PaymentPhaseFullPayment).
			Count(&count)
		assert.EqualValues(t, 1, count)
	})

	t.Run("Missing identifiers are rejected", func(t *testing.T) {
		w := reconcile(map[string]interface{}{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Unknown session is a provider error", func(t *testing.T) {
		w := reconcile(map[string]interface{}{"session_id": "cs_does_not_exist"})
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}

func TestPayGuestOrder(t *testing.T) {
	setupOrderTestEnv(t)

	order, err := services.GetOrderService().CreateOrder(services.CreateOrderInput{
		GuestEmail:  "guest@example.com",
		ProductName: "Heavyweight Tee",
		Quantity:    50,
		UnitPrice:   7.99,
		Customization: models.Customization{
			Placements: []models.PrintPlacement{{Location: "front_center", Method: "dtg"}},
			SizesQty:   map[string]int{"M": 50},
		},
	})
	assert.NoError(t, err)

	router := setupTestRouter()
	router.POST("/orders/guest/pay", PayGuestOrder)

	pay := func(body map[string]interface{}) *httptest.ResponseRecorder {
		payload, _ := json.Marshal(body)
		req, _ := http.NewRequest(http.MethodPost, "/orders/guest/pay", bytes.NewBuffer(payload))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	t.Run("Guest gets a checkout session", func(t *testing.T) {
		w := pay(map[string]interface{}{
			"order_number": order.OrderNumber,
			"email":        "guest@example.com",
		})
		assert.Equal(t, http.StatusCreated, w.Code, "Response body: %s", w.Body.String())

		var response map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &response)
		data := response["data"].(map[string]interface{})
		assert.NotEmpty(t, data["checkout"].(map[string]interface{})["url"])
	})

	t.Run("Wrong email is rejected", func(t *testing.T) {
		w := pay(map[string]interface{}{
			"order_number": order.OrderNumber,
			"email":        "stranger@example.com",
		})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
