package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/threadcount/threadcount-api/models"
	"github.com/threadcount/threadcount-api/services"
)

// TimelineNoteRequest represents the request body for a manual timeline note
type TimelineNoteRequest struct {
	Description string `json:"description" binding:"required"`
}

// ProductionUpdateRequest represents the request body for a production update
type ProductionUpdateRequest struct {
	Stage             string   `json:"stage" binding:"required"`
	Status            string   `json:"status" binding:"required"`
	Description       string   `json:"description"`
	Photos            []string `json:"photos"`
	VisibleToCustomer bool     `json:"visible_to_customer"`
}

// GetTimeline handles GET /api/v1/orders/:id/timeline - the order's audit
// trail, newest first. Customers do not see admin notes.
func GetTimeline(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	order, err := services.GetOrderService().GetOrder(orderID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	if !canViewOrder(user, order) {
		c.JSON(http.StatusForbidden, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "FORBIDDEN",
				"message": "You do not have permission to view this order",
			},
		})
		return
	}

	events, err := services.GetTimelineService().GetTimeline(orderID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	if !user.IsAdmin() {
		visible := make([]models.OrderTimelineEvent, 0, len(events))
		for _, event := range events {
			if event.EventType == models.EventNote {
				continue
			}
			visible = append(visible, event)
		}
		events = visible
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    events,
	})
}

// AddTimelineNote handles POST /api/v1/orders/:id/timeline - admin-only
// manual note on the order's audit trail
func AddTimelineNote(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	var req TimelineNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid request data",
				"details": err.Error(),
			},
		})
		return
	}

	if _, err := services.GetOrderService().GetOrder(orderID); err != nil {
		handleServiceError(c, err)
		return
	}

	err := services.GetTimelineService().AppendEvent(nil, orderID, models.EventNote,
		req.Description, models.TimelineEventData{Note: req.Description},
		models.TriggerSourceAdmin, user.Email)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data": gin.H{
			"order_id":    orderID,
			"event_type":  models.EventNote,
			"description": req.Description,
		},
	})
}

// ListProductionUpdates handles GET /api/v1/orders/:id/production-updates.
// Customers only see updates flagged visible_to_customer.
func ListProductionUpdates(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	order, err := services.GetOrderService().GetOrder(orderID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	if !canViewOrder(user, order) {
		c.JSON(http.StatusForbidden, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "FORBIDDEN",
				"message": "You do not have permission to view this order",
			},
		})
		return
	}

	updates, err := services.GetTimelineService().ListProductionUpdates(orderID, !user.IsAdmin())
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    updates,
	})
}

// CreateProductionUpdate handles POST /api/v1/orders/:id/production-updates -
// admin-only progress report, mirrored onto the order timeline
func CreateProductionUpdate(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	var req ProductionUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid request data",
				"details": err.Error(),
			},
		})
		return
	}

	order, err := services.GetOrderService().GetOrder(orderID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	if order.Status != models.OrderStatusInProduction {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_STATE",
				"message": "Production updates can only be added while the order is in production",
			},
		})
		return
	}

	update := &models.ProductionUpdate{
		OrderID:           orderID,
		Stage:             req.Stage,
		Status:            req.Status,
		Description:       req.Description,
		Photos:            req.Photos,
		VisibleToCustomer: req.VisibleToCustomer,
		CreatedBy:         user.Email,
	}
	if err := services.GetTimelineService().CreateProductionUpdate(update); err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    update,
	})
}
