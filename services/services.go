package services

import (
	"gorm.io/gorm"

	"github.com/threadcount/threadcount-api/config"
)

var (
	orderServiceInstance          *OrderService
	paymentServiceInstance        *PaymentService
	timelineServiceInstance       *TimelineService
	reconciliationServiceInstance *ReconciliationService
)

// InitServices wires the service layer against the given database handle and
// payment provider. Tests call this with an in-memory sqlite connection and
// the mock provider.
func InitServices(db *gorm.DB, provider PaymentProvider, cfg *config.Config) {
	timeline := NewTimelineService(db)
	payments := NewPaymentService(db, provider, cfg, timeline)
	orders := NewOrderService(db, payments, timeline)
	reconciliation := NewReconciliationService(db, provider, orders, timeline)

	timelineServiceInstance = timeline
	paymentServiceInstance = payments
	orderServiceInstance = orders
	reconciliationServiceInstance = reconciliation
}

// GetOrderService returns the initialized order service instance
func GetOrderService() *OrderService {
	return orderServiceInstance
}

// GetPaymentService returns the initialized payment service instance
func GetPaymentService() *PaymentService {
	return paymentServiceInstance
}

// GetTimelineService returns the initialized timeline service instance
func GetTimelineService() *TimelineService {
	return timelineServiceInstance
}

// GetReconciliationService returns the initialized reconciliation service instance
func GetReconciliationService() *ReconciliationService {
	return reconciliationServiceInstance
}
