// internal/router/router.go
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/javajoker/license-desk/internal/config"
	"github.com/javajoker/license-desk/internal/handlers"
	"github.com/javajoker/license-desk/internal/i18n"
	"github.com/javajoker/license-desk/internal/middleware"
	"github.com/javajoker/license-desk/internal/models"
	"github.com/javajoker/license-desk/internal/services"
	"github.com/javajoker/license-desk/internal/utils"
)

func Initialize(cfg *config.Config, svc *services.Services) *gin.Engine {
	// Initialize handlers
	authHandler := handlers.NewAuthHandler(svc.Auth)
	userHandler := handlers.NewUserHandler(svc.Users)
	requestHandler := handlers.NewRequestHandler(svc.Requests, svc.Approvals, svc.Licenses)
	procurementHandler := handlers.NewProcurementHandler(svc.Procurements)
	assignmentHandler := handlers.NewAssignmentHandler(svc.Assignments)
	licenseHandler := handlers.NewLicenseHandler(svc.Licenses)
	notificationHandler := handlers.NewNotificationHandler(svc.Notifications, svc.Audit)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	// Initialize Gin router
	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	r.Use(middleware.I18nMiddleware(cfg.I18n.DefaultLocale))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"version":   "1.0.0",
			"languages": i18n.GetSupportedLanguages(),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes
	v1 := r.Group("/v1")
	{
		// Authentication routes
		auth := v1.Group("/auth")
		{
			auth.POST("/login", middleware.AuthRateLimit(), authHandler.Login)
			auth.GET("/me", middleware.AuthRequired(), authHandler.Me)
		}

		protected := v1.Group("")
		protected.Use(middleware.AuthRequired(), middleware.GeneralRateLimit())

		// User directory
		users := protected.Group("/users")
		{
			users.GET("", userHandler.ListUsers)
			users.GET("/:id", userHandler.GetUser)
			users.POST("", userHandler.CreateUser)
		}

		// Requests and approvals
		requests := protected.Group("/requests")
		{
			requests.POST("", requestHandler.SubmitRequest)
			requests.GET("/mine", requestHandler.ListMine)
			requests.GET("/:id", requestHandler.GetRequest)
			requests.POST("/items/:itemId/approvals", requestHandler.AddApprover)
			requests.PUT("/items/:itemId/approvals/:approvalId", requestHandler.DecideApproval)
			requests.GET("/items/:itemId/supply", requestHandler.ItemSupply)
		}
		protected.GET("/approvals/pending", requestHandler.PendingApprovals)

		// Procurement routes
		procurements := protected.Group("/procurements")
		{
			procurements.POST("", procurementHandler.CreateProcurement)
			procurements.GET("/:id", procurementHandler.GetProcurement)
			procurements.PUT("/:id/decision", procurementHandler.DecideProcurement)
			procurements.POST("/:id/proof", middleware.UploadRateLimit(), procurementHandler.UploadProof)
			procurements.PUT("/:id/accept", procurementHandler.AcceptProof)
		}

		// Assignment routes
		assignments := protected.Group("/assignments")
		{
			assignments.POST("/manual", assignmentHandler.ManualAssign)
			assignments.POST("/auto", assignmentHandler.AutoAssign)
			assignments.GET("/mine", assignmentHandler.ListMine)
			assignments.PUT("/:id/confirm", assignmentHandler.ConfirmReceipt)
		}

		// License administration
		licenses := protected.Group("/licenses")
		{
			licenses.GET("", licenseHandler.ListLicenses)
			licenses.POST("", licenseHandler.CreateLicense)
			licenses.GET("/:id", licenseHandler.GetLicense)
			licenses.PUT("/:id/seats", licenseHandler.SetSeats)
			licenses.POST("/:id/keys", licenseHandler.AddKeys)
		}

		// Notification inbox
		notifications := protected.Group("/notifications")
		{
			notifications.GET("", notificationHandler.List)
			notifications.PUT("/:id/read", notificationHandler.MarkRead)
		}

		// Audit trail
		protected.GET("/audit/:entity/:id",
			middleware.RoleRequired(models.RoleAdmin, models.RoleAccountOwner, models.RoleManager),
			notificationHandler.AuditTrail)
	}

	// Local proof storage (when S3 is not configured)
	if cfg.AWS.AccessKeyID == "" {
		r.Static("/uploads", cfg.AWS.LocalUploadDir)
	}

	return r
}
