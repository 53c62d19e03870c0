package controllers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/threadcount/threadcount-api/models"
	"github.com/threadcount/threadcount-api/services"
)

// CheckoutRequest selects the payment phase to collect. The phase defaults to
// full_payment when omitted.
type CheckoutRequest struct {
	Phase string `json:"phase"`
}

// ReconcileRequest identifies the payment to reconcile against the provider,
// either by checkout session or by (order, phase)
type ReconcileRequest struct {
	SessionID string `json:"session_id"`
	OrderID   uint   `json:"order_id"`
	Phase     string `json:"phase"`
}

// PayOrder handles POST /api/v1/orders/:id/pay - creates a checkout session
// for the order's full payment
func PayOrder(c *gin.Context) {
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
				"message": "You do not have permission to pay for this order",
			},
		})
		return
	}

	// The body is optional; an empty body means full payment
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
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
	phase := req.Phase
	if phase == "" {
		phase = models.PaymentPhaseFullPayment
	}

	session, payment, err := services.GetPaymentService().CreateCheckoutSession(order, phase, actorFor(user))
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data": gin.H{
			"checkout": session,
			"payment":  payment,
		},
	})
}

// GuestPayRequest identifies a guest order and the phase to collect
type GuestPayRequest struct {
	OrderNumber string `json:"order_number" binding:"required"`
	Email       string `json:"email" binding:"required,email"`
	Phase       string `json:"phase"`
}

// PayGuestOrder handles POST /api/v1/orders/guest/pay - checkout session for
// a guest order, scoped by (order_number, email) instead of a JWT
func PayGuestOrder(c *gin.Context) {
	var req GuestPayRequest
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
	if req.Phase == "" {
		req.Phase = models.PaymentPhaseFullPayment
	}

	order, err := services.GetOrderService().GetGuestOrder(req.OrderNumber, req.Email)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	actor := services.Actor{Source: models.TriggerSourceAPI, TriggeredBy: req.Email}
	session, payment, err := services.GetPaymentService().CreateCheckoutSession(order, req.Phase, actor)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data": gin.H{
			"checkout": session,
			"payment":  payment,
		},
	})
}

// CreateCheckoutSession handles POST /api/v1/orders/:id/checkout-session -
// admin endpoint for collecting any phase (e.g. the shipping fee)
func CreateCheckoutSession(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	var req CheckoutRequest
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
	if req.Phase == "" {
		req.Phase = models.PaymentPhaseFullPayment
	}

	order, err := services.GetOrderService().GetOrder(orderID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	session, payment, err := services.GetPaymentService().CreateCheckoutSession(order, req.Phase, actorFor(user))
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data": gin.H{
			"checkout": session,
			"payment":  payment,
		},
	})
}

// CreateInvoice handles POST /api/v1/orders/:id/invoice - admin endpoint that
// issues a hosted invoice instead of a checkout session
func CreateInvoice(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	var req CheckoutRequest
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
	if req.Phase == "" {
		req.Phase = models.PaymentPhaseFullPayment
	}

	order, err := services.GetOrderService().GetOrder(orderID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	invoice, payment, err := services.GetPaymentService().CreateInvoice(order, req.Phase, actorFor(user))
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data": gin.H{
			"invoice": invoice,
			"payment": payment,
		},
	})
}

// ListPayments handles GET /api/v1/orders/:id/payments - the order's payment
// ledger, oldest first
func ListPayments(c *gin.Context) {
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

	payments, err := services.GetPaymentService().ListPayments(orderID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    payments,
	})
}

// ReconcilePayment handles POST /api/v1/payments/reconcile - client-triggered
// reconciliation, used when the customer returns from hosted checkout before
// the webhook has been delivered. Safe to call repeatedly.
func ReconcilePayment(c *gin.Context) {
	var req ReconcileRequest
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

	actor := services.Actor{Source: models.TriggerSourceAPI, TriggeredBy: "client"}

	var (
		payment *models.Payment
		err     error
	)
	switch {
	case req.SessionID != "":
		payment, err = services.GetReconciliationService().ReconcileBySession(req.SessionID, actor)
	case req.OrderID != 0 && req.Phase != "":
		payment, err = services.GetReconciliationService().ReconcileByOrderPhase(req.OrderID, req.Phase, actor)
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "Either session_id or order_id and phase must be provided",
			},
		})
		return
	}
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    payment,
	})
}
