package controllers

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/threadcount/threadcount-api/services"
)

// StripeWebhook handles POST /api/v1/webhooks/stripe. The raw body is
// verified against the Stripe-Signature header before anything is trusted.
// Correlation failures return 400 so Stripe stops redelivering an event we
// can never process; transient failures return 500 so Stripe retries.
func StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "Failed to read request body",
			},
		})
		return
	}

	signature := c.GetHeader("Stripe-Signature")
	event, err := services.GetPaymentProvider().ParseWebhookEvent(payload, signature)
	if err != nil {
		log.Printf("Webhook signature verification failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_SIGNATURE",
				"message": "Webhook signature verification failed",
			},
		})
		return
	}

	payment, err := services.GetReconciliationService().HandleWebhookEvent(event)
	if err != nil {
		var reconciliationErr *services.ReconciliationError
		if errors.As(err, &reconciliationErr) {
			// Permanent: redelivery cannot fix a payment we cannot correlate
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "RECONCILIATION_ERROR",
					"message": reconciliationErr.Error(),
				},
			})
			return
		}

		log.Printf("Webhook processing failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to process webhook event",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"received": true,
			"payment":  payment,
		},
	})
}
