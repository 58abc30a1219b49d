// Package routes defines the HTTP routes of the live chat service.
package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/dramac/livechat-service/internal/api/handlers"
	"github.com/dramac/livechat-service/internal/api/middleware"
)

// BasePath is the prefix of every route.
const BasePath = "/api/v1/livechat"

// Config holds the dependencies for setting up routes.
type Config struct {
	HealthHandler        *handlers.HealthHandler
	ConversationsHandler *handlers.ConversationsHandler
	MessagesHandler      *handlers.MessagesHandler
	AgentsHandler        *handlers.AgentsHandler
	ConsoleHandler       *handlers.ConsoleHandler
	WebhooksHandler      *handlers.WebhooksHandler
	MaintenanceHandler   *handlers.MaintenanceHandler
	AuthMiddleware       *middleware.AuthMiddleware
	TenantMiddleware     *middleware.TenantMiddleware
}

// Setup configures all routes on the Gin engine.
func Setup(r *gin.Engine, cfg *Config) {
	v1 := r.Group(BasePath)
	{
		// Health check routes (no auth required)
		v1.GET("/health", cfg.HealthHandler.Health)
		v1.GET("/ready", cfg.HealthHandler.Ready)
		v1.GET("/live", cfg.HealthHandler.Live)

		tenants := v1.Group("/tenants/:tenantId")
		tenants.Use(cfg.TenantMiddleware.ExtractTenant())

		// Channel callbacks authenticate with the webhook token
		webhooks := tenants.Group("/webhooks/channel")
		webhooks.Use(cfg.AuthMiddleware.Webhook())
		{
			webhooks.POST("/inbound", cfg.WebhooksHandler.Inbound)
			webhooks.POST("/status", cfg.WebhooksHandler.Status)
		}

		protected := tenants.Group("")
		protected.Use(cfg.AuthMiddleware.Authenticate())

		conversations := protected.Group("/conversations")
		{
			conversations.POST("", cfg.ConversationsHandler.CreateConversation)
			conversations.GET("", cfg.ConversationsHandler.ListConversations)
		}

		conversation := protected.Group("/conversations/:conversationId")
		{
			conversation.GET("", cfg.ConversationsHandler.GetConversation)

			// Lifecycle
			conversation.POST("/assign", cfg.ConversationsHandler.Assign)
			conversation.POST("/requeue", cfg.ConversationsHandler.Requeue)
			conversation.POST("/resolve", cfg.ConversationsHandler.Resolve)
			conversation.POST("/close", cfg.ConversationsHandler.Close)
			conversation.POST("/reopen", cfg.ConversationsHandler.Reopen)
			conversation.POST("/transfer", cfg.ConversationsHandler.Transfer)
			conversation.POST("/rate", cfg.ConversationsHandler.Rate)

			// Messages and realtime
			conversation.GET("/messages", cfg.MessagesHandler.ListMessages)
			conversation.POST("/messages", cfg.MessagesHandler.PostMessage)
			conversation.POST("/read", cfg.MessagesHandler.MarkRead)
			conversation.POST("/typing", cfg.MessagesHandler.Typing)
			conversation.GET("/events", cfg.MessagesHandler.Events)
		}

		agents := protected.Group("/agents")
		{
			agents.GET("/presence", cfg.AgentsHandler.Presence)
			agents.PUT("/:agentId/status", cfg.AgentsHandler.SetStatus)
			agents.GET("/:agentId/console", cfg.ConsoleHandler.Console)
		}

		maintenance := protected.Group("/maintenance")
		{
			maintenance.POST("/sweep", cfg.MaintenanceHandler.Sweep)
			maintenance.POST("/reconcile", cfg.MaintenanceHandler.Reconcile)
			maintenance.POST("/rebalance", cfg.MaintenanceHandler.Rebalance)
		}
	}
}

// SetupWithMiddleware sets up routes with common middleware.
func SetupWithMiddleware(r *gin.Engine, cfg *Config, loggingMw *middleware.LoggingMiddleware, errorMw *middleware.ErrorMiddleware, cors gin.HandlerFunc) {
	// Apply global middleware
	r.Use(loggingMw.RequestLogger())
	r.Use(loggingMw.Logger())
	r.Use(errorMw.Recovery())
	if cors != nil {
		r.Use(cors)
	}

	r.HandleMethodNotAllowed = true
	r.NoRoute(middleware.NotFound())
	r.NoMethod(middleware.MethodNotAllowed())

	Setup(r, cfg)
}
