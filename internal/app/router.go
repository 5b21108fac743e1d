// internal/app/router.go
package app

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	authHandler "github.com/karhin20/flowback/internal/handlers/auth"
	batchHandler "github.com/karhin20/flowback/internal/handlers/batch"
	customerHandler "github.com/karhin20/flowback/internal/handlers/customer"
	ledgerHandler "github.com/karhin20/flowback/internal/handlers/ledger"
	notifyHandler "github.com/karhin20/flowback/internal/handlers/notification"
	templateHandler "github.com/karhin20/flowback/internal/handlers/template"
	wsHandler "github.com/karhin20/flowback/internal/handlers/websocket"
	"github.com/karhin20/flowback/internal/middleware"
)

const RoleAdmin = "admin"

type Handlers struct {
	AuthHandler     *authHandler.AuthHandler
	CustomerHandler *customerHandler.CustomerHandler
	LedgerHandler   *ledgerHandler.LedgerHandler
	BatchHandler    *batchHandler.BatchHandler
	TemplateHandler *templateHandler.TemplateHandler
	NotifHandler    *notifyHandler.NotificationHandler
	WSHandler       *wsHandler.WebSocketHandler
	AuthMiddleware  *middleware.AuthMiddleware
	RateLimiter     middleware.Limiter
	UploadRateLimit int64
	Health          func() gin.H
}

func SetupRouter(r *gin.Engine, logger *zap.Logger, h *Handlers) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")

	// ==================== Health Check ====================
	api.GET("/health", func(c *gin.Context) {
		body := gin.H{"status": "ok", "version": "1.0.0"}
		if h.Health != nil {
			for k, v := range h.Health() {
				body[k] = v
			}
		}
		c.JSON(http.StatusOK, body)
	})

	// ==================== WebSocket ====================
	r.GET("/ws", h.WSHandler.HandleConnection)

	auth := h.AuthMiddleware.Auth()
	adminOnly := h.AuthMiddleware.RequireRole(RoleAdmin)

	// ==================== Session ====================
	session := api.Group("/auth")
	session.Use(auth)
	{
		session.GET("/me", h.AuthHandler.GetMe)
		session.POST("/logout", h.AuthHandler.Logout)
		session.GET("/ws/stats", adminOnly, h.WSHandler.GetStats)
	}

	// ==================== Customers ====================
	customers := api.Group("/customers")
	customers.Use(auth)
	{
		customers.GET("", h.CustomerHandler.ListCustomers)
		customers.GET("/stats", h.CustomerHandler.GetStats)
		customers.POST("", h.CustomerHandler.CreateCustomer)
		customers.GET("/:id", h.CustomerHandler.GetCustomer)
		customers.PUT("/:id", h.CustomerHandler.UpdateCustomer)
		customers.DELETE("/:id", adminOnly, h.CustomerHandler.DeleteCustomer)
		customers.GET("/:id/actions", h.CustomerHandler.ListCustomerActions)

		customers.GET("/account/:account_number", h.CustomerHandler.GetCustomerByAccountNumber)
		customers.POST("/account/:account_number/actions", h.CustomerHandler.ApplyAction)

		customers.POST("/:id/sms", h.NotifHandler.SendCustom)
		customers.POST("/:id/sms/:action", h.NotifHandler.SendTemplate)
	}

	// ==================== Ledger ====================
	actions := api.Group("/actions")
	actions.Use(auth)
	{
		actions.GET("", h.LedgerHandler.ListActions)
	}

	// ==================== Batches ====================
	batches := api.Group("/batches")
	batches.Use(auth)
	{
		batches.POST("", h.BatchHandler.ProcessBatch)
		batches.POST("/upload",
			middleware.RateLimit(h.RateLimiter, "batch_upload", h.UploadRateLimit, time.Minute, logger),
			h.BatchHandler.UploadBatch,
		)
		batches.POST("/validate", h.BatchHandler.ValidateBatch)
		batches.GET("/:batch_id", h.LedgerHandler.VerifyBatch)
	}

	// ==================== Templates ====================
	templates := api.Group("/templates")
	templates.Use(auth)
	{
		templates.GET("", h.TemplateHandler.ListTemplates)
		templates.PUT("/:action", adminOnly, h.TemplateHandler.UpdateTemplate)
		templates.GET("/:action/preview", h.TemplateHandler.PreviewTemplate)
	}

	// ==================== SMS ====================
	sms := api.Group("/sms")
	sms.Use(auth)
	{
		sms.POST("/bulk", adminOnly, h.NotifHandler.SendBulk)
		sms.GET("/status/:message_id", h.NotifHandler.GetStatus)
		sms.GET("/deliveries", h.NotifHandler.ListDeliveries)
	}
}
