package services

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/threadcount/threadcount-api/config"
	"github.com/threadcount/threadcount-api/models"
)

// testEnv bundles a fresh in-memory database with a fully wired service
// layer backed by the mock payment provider
type testEnv struct {
	db             *gorm.DB
	provider       *MockPaymentProvider
	orders         *OrderService
	payments       *PaymentService
	timeline       *TimelineService
	reconciliation *ReconciliationService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	err = db.AutoMigrate(
		&models.User{},
		&models.Order{},
		&models.Payment{},
		&models.OrderTimelineEvent{},
		&models.ProductionUpdate{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	cfg := &config.Config{
		GoEnv:              "test",
		Currency:           "usd",
		CheckoutSuccessURL: "http://localhost:3000/orders/{ORDER_NUMBER}/success",
		CheckoutCancelURL:  "http://localhost:3000/orders/{ORDER_NUMBER}",
	}

	provider := NewMockPaymentProvider()
	timeline := NewTimelineService(db)
	payments := NewPaymentService(db, provider, cfg, timeline)
	orders := NewOrderService(db, payments, timeline)
	reconciliation := NewReconciliationService(db, provider, orders, timeline)

	return &testEnv{
		db:             db,
		provider:       provider,
		orders:         orders,
		payments:       payments,
		timeline:       timeline,
		reconciliation: reconciliation,
	}
}

// validOrderInput returns a creation payload that passes all validation:
// 50 units at $7.99 with sizes summing to the quantity
func validOrderInput() CreateOrderInput {
	return CreateOrderInput{
		GuestEmail:      "buyer@example.com",
		GuestName:       "Test Buyer",
		ProductName:     "Heavyweight Tee",
		ProductCategory: "t-shirts",
		Quantity:        50,
		UnitPrice:       7.99,
		Customization: models.Customization{
			Placements: []models.PrintPlacement{
				{Location: "front_center", Method: "screen_print", ArtworkURL: "https://assets.example.com/logo.png"},
			},
			Colors:   []string{"black"},
			SizesQty: map[string]int{"S": 10, "M": 20, "L": 15, "XL": 5},
		},
	}
}

// mustCreateOrder creates a valid guest order or fails the test
func (e *testEnv) mustCreateOrder(t *testing.T) *models.Order {
	t.Helper()

	order, err := e.orders.CreateOrder(validOrderInput())
	if err != nil {
		t.Fatalf("failed to create test order: %v", err)
	}
	return order
}

// mustAdvance applies a status transition or fails the test
func (e *testEnv) mustAdvance(t *testing.T, orderID uint, target string) *models.Order {
	t.Helper()

	result, err := e.orders.Transition(orderID, target, Actor{Source: models.TriggerSourceAdmin, TriggeredBy: "ops@example.com"}, nil)
	if err != nil {
		t.Fatalf("failed to transition order to %s: %v", target, err)
	}
	if result.RequiresPayment {
		t.Fatalf("transition to %s unexpectedly requires payment", target)
	}
	return result.Order
}

// timelineEventCount counts timeline events of one type for an order
func (e *testEnv) timelineEventCount(t *testing.T, orderID uint, eventType string) int64 {
	t.Helper()

	var count int64
	err := e.db.Model(&models.OrderTimelineEvent{}).
		Where("order_id = ? AND event_type = ?", orderID, eventType).
		Count(&count).Error
	if err != nil {
		t.Fatalf("failed to count timeline events: %v", err)
	}
	return count
}
