package controllers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/threadcount/threadcount-api/config"
	"github.com/threadcount/threadcount-api/middleware"
	"github.com/threadcount/threadcount-api/models"
	"github.com/threadcount/threadcount-api/services"
)

// currentUser resolves the authenticated user's profile. When the profile
// cannot be resolved the error response has already been written and the
// second return value is false.
func currentUser(c *gin.Context) (*models.User, bool) {
	if cached, exists := c.Get("current_user"); exists {
		if user, ok := cached.(*models.User); ok {
			return user, true
		}
	}

	auth0ID, err := middleware.GetUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "UNAUTHORIZED",
				"message": "Could not extract user information",
			},
		})
		return nil, false
	}

	db := config.GetDB()
	var user models.User
	if err := db.Where("auth0_id = ?", auth0ID).First(&user).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "USER_NOT_FOUND",
				"message": "User profile not found. Please create a profile first.",
			},
		})
		return nil, false
	}

	c.Set("current_user", &user)
	return &user, true
}

// orderIDParam parses the :id URL parameter. On failure the error response
// has already been written.
func orderIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "Order ID must be a positive integer",
			},
		})
		return 0, false
	}
	return uint(id), true
}

// actorFor builds the audit-trail actor for a request made by a user
func actorFor(user *models.User) services.Actor {
	source := models.TriggerSourceAPI
	if user.IsAdmin() {
		source = models.TriggerSourceAdmin
	}
	return services.Actor{Source: source, TriggeredBy: user.Email}
}

// handleServiceError maps typed service errors onto the API error envelope
func handleServiceError(c *gin.Context, err error) {
	var (
		validationErr     *services.ValidationError
		transitionErr     *services.InvalidTransitionError
		conflictErr       *services.ConflictError
		notFoundErr       *services.NotFoundError
		reconciliationErr *services.ReconciliationError
		providerErr       *services.ProviderError
	)

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": validationErr.Error(),
			},
		})
	case errors.As(err, &transitionErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_TRANSITION",
				"message": transitionErr.Error(),
			},
		})
	case errors.As(err, &conflictErr):
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "CONFLICT",
				"message": conflictErr.Error(),
			},
		})
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "NOT_FOUND",
				"message": notFoundErr.Error(),
			},
		})
	case errors.As(err, &reconciliationErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "RECONCILIATION_ERROR",
				"message": reconciliationErr.Error(),
			},
		})
	case errors.As(err, &providerErr):
		log.Printf("Payment provider error: %v", providerErr)
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "PAYMENT_PROVIDER_ERROR",
				"message": "The payment provider rejected the request",
			},
		})
	default:
		log.Printf("Unhandled service error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Something went wrong",
			},
		})
	}
}
