package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/threadcount/threadcount-api/config"
	"github.com/threadcount/threadcount-api/models"
	"github.com/threadcount/threadcount-api/services"
)

// CreateOrderRequest represents the request body for creating an order
type CreateOrderRequest struct {
	ProductName      string                  `json:"product_name" binding:"required"`
	ProductCategory  string                  `json:"product_category"`
	Quantity         int                     `json:"quantity" binding:"required,gt=0"`
	UnitPrice        float64                 `json:"unit_price" binding:"required,gt=0"`
	TotalAmount      *float64                `json:"total_amount"`
	Customization    models.Customization    `json:"customization" binding:"required"`
	ShippingAddress  *models.ShippingAddress `json:"shipping_address"`
	ShippingFeeCents int64                   `json:"shipping_fee_cents" binding:"omitempty,gte=0"`
}

// GuestCreateOrderRequest adds the guest contact info required when ordering
// without an account
type GuestCreateOrderRequest struct {
	CreateOrderRequest
	GuestEmail string `json:"guest_email" binding:"required,email"`
	GuestName  string `json:"guest_name"`
}

// UpdateOrderStatusRequest represents the request body for a status transition
type UpdateOrderStatusRequest struct {
	Status            string     `json:"status" binding:"required"`
	TrackingNumber    *string    `json:"tracking_number"`
	EstimatedDelivery *time.Time `json:"estimated_delivery"`
}

// CreateOrder handles POST /api/v1/orders - creates a new order (customers only)
func CreateOrder(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	// Only customers place orders; admins manage them
	if user.Role != "customer" {
		c.JSON(http.StatusForbidden, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "FORBIDDEN",
				"message": "Only customers can create orders",
			},
		})
		return
	}

	var req CreateOrderRequest
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

	order, err := services.GetOrderService().CreateOrder(services.CreateOrderInput{
		UserID:           &user.ID,
		ProductName:      req.ProductName,
		ProductCategory:  req.ProductCategory,
		Quantity:         req.Quantity,
		UnitPrice:        req.UnitPrice,
		TotalAmount:      req.TotalAmount,
		Customization:    req.Customization,
		ShippingAddress:  req.ShippingAddress,
		ShippingFeeCents: req.ShippingFeeCents,
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    order,
	})
}

// CreateGuestOrder handles POST /api/v1/orders/guest - creates an order
// without an account, identified by the guest's email
func CreateGuestOrder(c *gin.Context) {
	var req GuestCreateOrderRequest
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

	order, err := services.GetOrderService().CreateOrder(services.CreateOrderInput{
		GuestEmail:       req.GuestEmail,
		GuestName:        req.GuestName,
		ProductName:      req.ProductName,
		ProductCategory:  req.ProductCategory,
		Quantity:         req.Quantity,
		UnitPrice:        req.UnitPrice,
		TotalAmount:      req.TotalAmount,
		Customization:    req.Customization,
		ShippingAddress:  req.ShippingAddress,
		ShippingFeeCents: req.ShippingFeeCents,
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    order,
	})
}

// ListOrders handles GET /api/v1/orders - customers see their own orders,
// admins see all. Supports ?status= filtering and page/limit pagination.
func ListOrders(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	db := config.GetDB()
	query := db.Model(&models.Order{})
	if !user.IsAdmin() {
		query = query.Where("user_id = ?", user.ID)
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_ERROR",
				"message": "Failed to count orders",
			},
		})
		return
	}

	var orders []models.Order
	err := query.Preload("User").
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset((page - 1) * limit).
		Find(&orders).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_ERROR",
				"message": "Failed to fetch orders",
			},
		})
		return
	}

	totalPages := (total + int64(limit) - 1) / int64(limit)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    orders,
		"pagination": gin.H{
			"page":       page,
			"limit":      limit,
			"total":      total,
			"totalPages": totalPages,
		},
	})
}

// GetOrder handles GET /api/v1/orders/:id - owners and admins only
func GetOrder(c *gin.Context) {
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

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    order,
	})
}

// GuestOrderLookup handles GET /api/v1/orders/guest - loads a guest order by
// order number and email, no JWT required
func GuestOrderLookup(c *gin.Context) {
	orderNumber := c.Query("order_number")
	email := c.Query("email")
	if orderNumber == "" || email == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "order_number and email query parameters are required",
			},
		})
		return
	}

	order, err := services.GetOrderService().GetGuestOrder(orderNumber, email)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    order,
	})
}

// UpdateOrderStatus handles PATCH /api/v1/orders/:id/status. Admins can apply
// any valid transition; customers can only cancel their own orders. When the
// transition requires a shipping fee payment, the response carries the
// checkout session instead of an advanced order.
func UpdateOrderStatus(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	var req UpdateOrderStatusRequest
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

	if !user.IsAdmin() {
		order, err := services.GetOrderService().GetOrder(orderID)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		if !canViewOrder(user, order) || req.Status != models.OrderStatusCancelled {
			c.JSON(http.StatusForbidden, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "FORBIDDEN",
					"message": "Customers can only cancel their own orders",
				},
			})
			return
		}
	}

	result, err := services.GetOrderService().Transition(orderID, req.Status, actorFor(user), &services.TransitionOptions{
		TrackingNumber:    req.TrackingNumber,
		EstimatedDelivery: req.EstimatedDelivery,
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}

	status := http.StatusOK
	if result.RequiresPayment {
		// The order did not advance; the shipping fee must be paid first
		status = http.StatusPaymentRequired
	}
	c.JSON(status, gin.H{
		"success": true,
		"data":    result,
	})
}

// canViewOrder reports whether the user owns the order or is an admin
func canViewOrder(user *models.User, order *models.Order) bool {
	if user.IsAdmin() {
		return true
	}
	return order.UserID != nil && *order.UserID == user.ID
}
