package main

import (
	"log"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/threadcount/threadcount-api/config"
	"github.com/threadcount/threadcount-api/controllers"
	"github.com/threadcount/threadcount-api/middleware"
	"github.com/threadcount/threadcount-api/models"
	"github.com/threadcount/threadcount-api/services"
)

func main() {
	// Basic logging
	log.Println("Starting Threadcount API server...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Connect to database
	if err := config.ConnectDatabase(); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Auto-migrate database models
	db := config.GetDB()
	if err := db.AutoMigrate(
		&models.User{},
		&models.Order{},
		&models.Payment{},
		&models.OrderTimelineEvent{},
		&models.ProductionUpdate{},
	); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	log.Println("Database migration completed successfully")

	// Wire the Stripe-backed payment provider and the service layer
	if _, err := services.InitStripeService(cfg); err != nil {
		log.Fatalf("Failed to initialize payment provider: %v", err)
	}
	services.InitServices(db, services.GetPaymentProvider(), cfg)

	router := setupRouter(cfg)

	// Start server
	port := ":" + cfg.Port
	log.Printf("Server is running on http://localhost%s", port)
	if err := router.Run(port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// setupRouter builds the Gin engine with all routes registered
func setupRouter(cfg *config.Config) *gin.Engine {
	router := gin.Default()

	corsConfig := cors.DefaultConfig()
	if cfg.FrontendOrigin != "" {
		corsConfig.AllowOrigins = []string{cfg.FrontendOrigin}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	router.Use(cors.New(corsConfig))

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Health check endpoint
		v1.GET("/health", healthCheck)

		// Database status endpoint
		v1.GET("/database/status", databaseStatus)

		// Guest storefront: no JWT, scoped by (order_number, email)
		v1.POST("/orders/guest", controllers.CreateGuestOrder)
		v1.GET("/orders/guest", controllers.GuestOrderLookup)
		v1.POST("/orders/guest/pay", controllers.PayGuestOrder)

		// Stripe calls this; verification is by webhook signature
		v1.POST("/webhooks/stripe", controllers.StripeWebhook)

		// Client-triggered reconciliation on return from hosted checkout
		v1.POST("/payments/reconcile", controllers.ReconcilePayment)

		// Authenticated routes
		authed := v1.Group("")
		authed.Use(middleware.EnsureValidToken(cfg))
		{
			authed.POST("/users", controllers.CreateUser)
			authed.GET("/users/me", controllers.GetMyProfile)
			authed.PUT("/users/me", controllers.UpdateMyProfile)

			authed.POST("/orders", controllers.CreateOrder)
			authed.GET("/orders", controllers.ListOrders)
			authed.GET("/orders/:id", controllers.GetOrder)
			authed.PATCH("/orders/:id/status", controllers.UpdateOrderStatus)

			authed.POST("/orders/:id/pay", controllers.PayOrder)
			authed.GET("/orders/:id/payments", controllers.ListPayments)

			authed.GET("/orders/:id/timeline", controllers.GetTimeline)
			authed.GET("/orders/:id/production-updates", controllers.ListProductionUpdates)

			// Admin-only surfaces
			admin := authed.Group("")
			admin.Use(middleware.RequireRole("admin"))
			{
				admin.POST("/orders/:id/checkout-session", controllers.CreateCheckoutSession)
				admin.POST("/orders/:id/invoice", controllers.CreateInvoice)
				admin.POST("/orders/:id/timeline", controllers.AddTimelineNote)
				admin.POST("/orders/:id/production-updates", controllers.CreateProductionUpdate)
			}
		}
	}

	return router
}

// healthCheck handles the health check endpoint
func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Threadcount API is running",
	})
}

// databaseStatus checks database connectivity and returns table information
func databaseStatus(c *gin.Context) {
	db := config.GetDB()

	// Get the underlying SQL database to check connection
	sqlDB, err := db.DB()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_ERROR",
				"message": "Failed to get database instance",
			},
		})
		return
	}

	// Ping the database to verify connection
	if err := sqlDB.Ping(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_CONNECTION_ERROR",
				"message": "Database connection failed",
			},
		})
		return
	}

	// Get list of tables
	var tables []string
	if err := db.Raw("SELECT tablename FROM pg_tables WHERE schemaname = 'public'").Scan(&tables).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_QUERY_ERROR",
				"message": "Failed to query tables",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Database connected",
		"tables":  tables,
	})
}
