package services

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/threadcount/threadcount-api/models"
)

// TimelineService writes and reads the append-only order audit trail
type TimelineService struct {
	db *gorm.DB
}

// NewTimelineService creates a new timeline service
func NewTimelineService(db *gorm.DB) *TimelineService {
	return &TimelineService{db: db}
}

// AppendEvent inserts one timeline event. Events are never updated or
// deleted. When tx is non-nil the insert joins the caller's transaction so an
// order mutation and its audit record commit together.
func (s *TimelineService) AppendEvent(tx *gorm.DB, orderID uint, eventType, description string, data models.TimelineEventData, source, triggeredBy string) error {
	if tx == nil {
		tx = s.db
	}

	event := models.OrderTimelineEvent{
		OrderID:       orderID,
		EventType:     eventType,
		Description:   description,
		EventData:     data,
		TriggerSource: source,
		TriggeredBy:   triggeredBy,
	}

	if err := tx.Create(&event).Error; err != nil {
		return fmt.Errorf("failed to append timeline event: %w", err)
	}
	return nil
}

// GetTimeline returns all timeline events for an order, newest first
func (s *TimelineService) GetTimeline(orderID uint) ([]models.OrderTimelineEvent, error) {
	var events []models.OrderTimelineEvent
	if err := s.db.Where("order_id = ?", orderID).Order("created_at DESC, id DESC").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to load timeline: %w", err)
	}
	return events, nil
}

// CreateProductionUpdate records a production progress report and mirrors it
// onto the order timeline
func (s *TimelineService) CreateProductionUpdate(update *models.ProductionUpdate) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(update).Error; err != nil {
			return fmt.Errorf("failed to create production update: %w", err)
		}
		return s.AppendEvent(tx, update.OrderID, models.EventProductionUpdate,
			fmt.Sprintf("Production update: %s", update.Stage),
			models.TimelineEventData{Stage: update.Stage, Note: update.Description},
			models.TriggerSourceAdmin, update.CreatedBy)
	})
}

// ListProductionUpdates returns production updates for an order, newest
// first. Customer views only include rows flagged visible_to_customer.
func (s *TimelineService) ListProductionUpdates(orderID uint, customerView bool) ([]models.ProductionUpdate, error) {
	query := s.db.Where("order_id = ?", orderID)
	if customerView {
		query = query.Where("visible_to_customer = ?", true)
	}

	var updates []models.ProductionUpdate
	if err := query.Order("created_at DESC, id DESC").Find(&updates).Error; err != nil {
		return nil, fmt.Errorf("failed to load production updates: %w", err)
	}
	return updates, nil
}
