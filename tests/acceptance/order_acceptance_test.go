package acceptance

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/threadcount/threadcount-api/config"
	"github.com/threadcount/threadcount-api/controllers"
	"github.com/threadcount/threadcount-api/middleware"
	"github.com/threadcount/threadcount-api/models"
	"github.com/threadcount/threadcount-api/services"
)

// OrderAcceptanceTestSuite runs the end-to-end order scenarios against a real
// HTTP server backed by an in-memory database and the mock payment provider.
type OrderAcceptanceTestSuite struct {
	suite.Suite
	server   *httptest.Server
	db       *gorm.DB
	cfg      *config.Config
	provider *services.MockPaymentProvider
}

// SetupSuite runs once before all tests
func (suite *OrderAcceptanceTestSuite) SetupSuite() {
	gin.SetMode(gin.TestMode)

	os.Setenv("GO_ENV", "test")
	os.Setenv("AUTH0_DOMAIN", "test.auth0.com")
	os.Setenv("AUTH0_AUDIENCE", "https://api.test.com")
	os.Setenv("PORT", "8080")
	os.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	os.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test_123")

	cfg, err := config.Load()
	suite.NoError(err)
	suite.cfg = cfg

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	suite.NoError(err)
	suite.db = db

	err = db.AutoMigrate(
		&models.User{},
		&models.Order{},
		&models.Payment{},
		&models.OrderTimelineEvent{},
		&models.ProductionUpdate{},
	)
	suite.NoError(err)

	config.SetDB(db)

	suite.provider = services.NewMockPaymentProvider()
	suite.provider.SetAsMockForTesting()
	services.InitServices(db, suite.provider, cfg)

	suite.server = httptest.NewServer(suite.createRouter())
}

// TearDownSuite runs once after all tests
func (suite *OrderAcceptanceTestSuite) TearDownSuite() {
	suite.server.Close()
	if suite.db != nil {
		sqlDB, _ := suite.db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	}
}

// SetupTest runs before each test
func (suite *OrderAcceptanceTestSuite) SetupTest() {
	suite.db.Exec("DELETE FROM payments")
	suite.db.Exec("DELETE FROM order_timeline_events")
	suite.db.Exec("DELETE FROM production_updates")
	suite.db.Exec("DELETE FROM orders")
	suite.db.Exec("DELETE FROM users")
	suite.provider.Clear()

	suite.db.Create(&models.User{
		Auth0ID: "auth0|customer", Name: "Test Customer",
		Email: "customer@test.com", Role: "customer",
	})
	suite.db.Create(&models.User{
		Auth0ID: "auth0|admin", Name: "Test Admin",
		Email: "admin@test.com", Role: "admin",
	})
}

// createRouter wires the routes under test. Customer routes use the customer
// identity, admin actions live under /admin with the admin identity, and the
// webhook/reconcile routes are unauthenticated as in production.
func (suite *OrderAcceptanceTestSuite) createRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", suite.mockAuthMiddleware("auth0|customer", "customer"), controllers.CreateOrder)
		v1.GET("/orders/:id", suite.mockAuthMiddleware("auth0|customer", "customer"), controllers.GetOrder)
		v1.POST("/orders/:id/pay", suite.mockAuthMiddleware("auth0|customer", "customer"), controllers.PayOrder)
		v1.GET("/orders/:id/payments", suite.mockAuthMiddleware("auth0|customer", "customer"), controllers.ListPayments)

		v1.PATCH("/admin/orders/:id/status", suite.mockAuthMiddleware("auth0|admin", "admin"), controllers.UpdateOrderStatus)

		v1.POST("/webhooks/stripe", controllers.StripeWebhook)
		v1.POST("/payments/reconcile", controllers.ReconcilePayment)
	}

	return router
}

// mockAuthMiddleware simulates authentication for acceptance testing
func (suite *OrderAcceptanceTestSuite) mockAuthMiddleware(auth0ID, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("user_id", auth0ID)
		c.Set("access_token", "mock-token")
		c.Set("custom_claims", &middleware.CustomClaims{Role: role})
		c.Next()
	}
}

// makeRequest is a helper to make HTTP requests
func (suite *OrderAcceptanceTestSuite) makeRequest(method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	var bodyReader *bytes.Reader
	if body != nil {
		bodyJSON, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(bodyJSON)
	} else {
		bodyReader = bytes.NewReader([]byte{})
	}

	req, err := http.NewRequest(method, suite.server.URL+path, bodyReader)
	suite.NoError(err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	suite.NoError(err)

	var responseData map[string]interface{}
	err = json.NewDecoder(resp.Body).Decode(&responseData)
	suite.NoError(err)
	resp.Body.Close()

	return resp, responseData
}

// deliverWebhook posts a signed mock webhook delivery to the server
func (suite *OrderAcceptanceTestSuite) deliverWebhook(eventType, sessionID string) *http.Response {
	payload := suite.provider.WebhookPayload(eventType, sessionID)
	req, err := http.NewRequest(http.MethodPost, suite.server.URL+"/api/v1/webhooks/stripe", bytes.NewReader(payload))
	suite.NoError(err)
	req.Header.Set("Stripe-Signature", services.MockWebhookSignature)

	resp, err := http.DefaultClient.Do(req)
	suite.NoError(err)
	resp.Body.Close()
	return resp
}

func (suite *OrderAcceptanceTestSuite) createOrderBody(shippingFeeCents int64) map[string]interface{} {
	return map[string]interface{}{
		"product_name": "Heavyweight Tee",
		"quantity":     50,
		"unit_price":   7.99,
		"customization": map[string]interface{}{
			"placements": []map[string]interface{}{
				{"location": "front_center", "method": "screen_print"},
			},
			"sizes_qty": map[string]int{"S": 10, "M": 20, "L": 15, "XL": 5},
		},
		"shipping_fee_cents": shippingFeeCents,
	}
}

// payAndComplete requests checkout for an order and completes the mock
// session, returning the session id
func (suite *OrderAcceptanceTestSuite) payAndComplete(orderID int) string {
	resp, respData := suite.makeRequest("POST", fmt.Sprintf("/api/v1/orders/%d/pay", orderID), nil)
	suite.Equal(http.StatusCreated, resp.StatusCode)

	checkout := respData["data"].(map[string]interface{})["checkout"].(map[string]interface{})
	sessionID := checkout["session_id"].(string)
	suite.NoError(suite.provider.CompleteSession(sessionID))
	return sessionID
}

// TestOrderCreation_ComputesTotalAndInitializesLedger_Acceptance: a 50-unit
// order at $7.99 totals $399.50 and starts with one pending full_payment row.
func (suite *OrderAcceptanceTestSuite) TestOrderCreation_ComputesTotalAndInitializesLedger_Acceptance() {
	resp, respData := suite.makeRequest("POST", "/api/v1/orders", suite.createOrderBody(0))

	assert.Equal(suite.T(), http.StatusCreated, resp.StatusCode)
	assert.True(suite.T(), respData["success"].(bool))

	orderData := respData["data"].(map[string]interface{})
	orderID := int(orderData["id"].(float64))
	assert.Equal(suite.T(), 399.50, orderData["total_amount"])
	assert.Equal(suite.T(), "submitted", orderData["status"])
	assert.Contains(suite.T(), orderData["order_number"], "TC-")

	resp, respData = suite.makeRequest("GET", fmt.Sprintf("/api/v1/orders/%d/payments", orderID), nil)
	assert.Equal(suite.T(), http.StatusOK, resp.StatusCode)

	payments := respData["data"].([]interface{})
	assert.Equal(suite.T(), 1, len(payments))

	payment := payments[0].(map[string]interface{})
	assert.Equal(suite.T(), "full_payment", payment["phase"])
	assert.Equal(suite.T(), float64(39950), payment["amount_cents"])
	assert.Equal(suite.T(), "pending", payment["status"])
}

// TestPaymentSettlement_AdvancesOrder_Acceptance: completing checkout settles
// the ledger at 39950 cents and moves the order to paid.
func (suite *OrderAcceptanceTestSuite) TestPaymentSettlement_AdvancesOrder_Acceptance() {
	resp, respData := suite.makeRequest("POST", "/api/v1/orders", suite.createOrderBody(0))
	assert.Equal(suite.T(), http.StatusCreated, resp.StatusCode)
	orderID := int(respData["data"].(map[string]interface{})["id"].(float64))

	sessionID := suite.payAndComplete(orderID)

	wh := suite.deliverWebhook("checkout.session.completed", sessionID)
	assert.Equal(suite.T(), http.StatusOK, wh.StatusCode)

	resp, respData = suite.makeRequest("GET", fmt.Sprintf("/api/v1/orders/%d", orderID), nil)
	assert.Equal(suite.T(), http.StatusOK, resp.StatusCode)

	orderData := respData["data"].(map[string]interface{})
	assert.Equal(suite.T(), "paid", orderData["status"])
	assert.Equal(suite.T(), 399.50, orderData["total_paid_amount"])
	assert.NotNil(suite.T(), orderData["paid_at"])

	resp, respData = suite.makeRequest("GET", fmt.Sprintf("/api/v1/orders/%d/payments", orderID), nil)
	assert.Equal(suite.T(), http.StatusOK, resp.StatusCode)

	payment := respData["data"].([]interface{})[0].(map[string]interface{})
	assert.Equal(suite.T(), "succeeded", payment["status"])
	assert.Equal(suite.T(), float64(39950), payment["amount_cents"])
}

// TestShippingFeeGate_Acceptance: an order with an outstanding shipping fee
// does not leave in_production until the fee settles.
func (suite *OrderAcceptanceTestSuite) TestShippingFeeGate_Acceptance() {
	resp, respData := suite.makeRequest("POST", "/api/v1/orders", suite.createOrderBody(2500))
	assert.Equal(suite.T(), http.StatusCreated, resp.StatusCode)
	orderID := int(respData["data"].(map[string]interface{})["id"].(float64))

	sessionID := suite.payAndComplete(orderID)
	suite.deliverWebhook("checkout.session.completed", sessionID)

	resp, _ = suite.makeRequest("PATCH", fmt.Sprintf("/api/v1/admin/orders/%d/status", orderID),
		map[string]interface{}{"status": "in_production"})
	assert.Equal(suite.T(), http.StatusOK, resp.StatusCode)

	// The shipping edge is refused with a checkout session for the fee
	resp, respData = suite.makeRequest("PATCH", fmt.Sprintf("/api/v1/admin/orders/%d/status", orderID),
		map[string]interface{}{"status": "shipping"})
	assert.Equal(suite.T(), http.StatusPaymentRequired, resp.StatusCode)

	result := respData["data"].(map[string]interface{})
	assert.True(suite.T(), result["requires_payment"].(bool))
	feeSessionID := result["checkout"].(map[string]interface{})["session_id"].(string)

	resp, respData = suite.makeRequest("GET", fmt.Sprintf("/api/v1/orders/%d", orderID), nil)
	assert.Equal(suite.T(), http.StatusOK, resp.StatusCode)
	assert.Equal(suite.T(), "in_production", respData["data"].(map[string]interface{})["status"])

	// Settling the fee advances the order to shipping
	suite.NoError(suite.provider.CompleteSession(feeSessionID))
	wh := suite.deliverWebhook("checkout.session.completed", feeSessionID)
	assert.Equal(suite.T(), http.StatusOK, wh.StatusCode)

	resp, respData = suite.makeRequest("GET", fmt.Sprintf("/api/v1/orders/%d", orderID), nil)
	assert.Equal(suite.T(), http.StatusOK, resp.StatusCode)

	orderData := respData["data"].(map[string]interface{})
	assert.Equal(suite.T(), "shipping", orderData["status"])
	assert.NotNil(suite.T(), orderData["shipping_paid_at"])
}

// TestDuplicateWebhookDelivery_IsNoOp_Acceptance: re-delivering a settlement
// event changes nothing.
func (suite *OrderAcceptanceTestSuite) TestDuplicateWebhookDelivery_IsNoOp_Acceptance() {
	resp, respData := suite.makeRequest("POST", "/api/v1/orders", suite.createOrderBody(0))
	assert.Equal(suite.T(), http.StatusCreated, resp.StatusCode)
	orderID := int(respData["data"].(map[string]interface{})["id"].(float64))

	sessionID := suite.payAndComplete(orderID)

	for i := 0; i < 3; i++ {
		wh := suite.deliverWebhook("checkout.session.completed", sessionID)
		assert.Equal(suite.T(), http.StatusOK, wh.StatusCode, "Delivery %d must be acknowledged", i+1)
	}

	var rows int64
	suite.db.Model(&models.Payment{}).
		Where("order_id = ? AND status = ?", orderID, models.PaymentStatusSucceeded).
		Count(&rows)
	assert.EqualValues(suite.T(), 1, rows)

	var transitions int64
	suite.db.Model(&models.OrderTimelineEvent{}).
		Where("order_id = ? AND event_type = ?", orderID, models.EventStatusChanged).
		Count(&transitions)
	assert.EqualValues(suite.T(), 1, transitions)

	resp, respData = suite.makeRequest("GET", fmt.Sprintf("/api/v1/orders/%d", orderID), nil)
	assert.Equal(suite.T(), http.StatusOK, resp.StatusCode)
	assert.Equal(suite.T(), "paid", respData["data"].(map[string]interface{})["status"])
}

// TestNonAdjacentTransition_IsRejected_Acceptance: submitted → delivered is
// not an edge in the lifecycle graph.
func (suite *OrderAcceptanceTestSuite) TestNonAdjacentTransition_IsRejected_Acceptance() {
	resp, respData := suite.makeRequest("POST", "/api/v1/orders", suite.createOrderBody(0))
	assert.Equal(suite.T(), http.StatusCreated, resp.StatusCode)
	orderID := int(respData["data"].(map[string]interface{})["id"].(float64))

	resp, respData = suite.makeRequest("PATCH", fmt.Sprintf("/api/v1/admin/orders/%d/status", orderID),
		map[string]interface{}{"status": "delivered"})

	assert.Equal(suite.T(), http.StatusUnprocessableEntity, resp.StatusCode)
	assert.False(suite.T(), respData["success"].(bool))

	errorData := respData["error"].(map[string]interface{})
	assert.Equal(suite.T(), "INVALID_TRANSITION", errorData["code"])

	resp, respData = suite.makeRequest("GET", fmt.Sprintf("/api/v1/orders/%d", orderID), nil)
	assert.Equal(suite.T(), http.StatusOK, resp.StatusCode)
	assert.Equal(suite.T(), "submitted", respData["data"].(map[string]interface{})["status"])
}

// TestOrderAcceptanceSuite runs the test suite
func TestOrderAcceptanceSuite(t *testing.T) {
	suite.Run(t, new(OrderAcceptanceTestSuite))
}
