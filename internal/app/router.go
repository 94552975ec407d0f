package app

import (
	"github.com/gin-gonic/gin"

	"flockbridge.io/flockbridge/internal/api/handlers"
	"flockbridge.io/flockbridge/internal/api/middleware"
	"flockbridge.io/flockbridge/internal/config"
	"flockbridge.io/flockbridge/internal/subscription"
)

// newRouter registers the public webhook and health routes and the
// JWT-protected operator API.
func newRouter(cfg *config.Config, server *handlers.Server, jwtCfg middleware.JWTConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.ErrorHandler())
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins, cfg.Server.AllowCredentials))

	router.GET("/healthz", server.GetHealth)
	// Provider deliveries authenticate by body signature.
	router.POST(subscription.CallbackPath, server.ReceiveWebhook)

	api := router.Group("/api/v1", middleware.JWTAuth(jwtCfg))
	api.POST("/orgs/:org/sync", middleware.RequireScope(middleware.ScopeSync), server.StartSync)
	api.POST("/orgs/:org/subscriptions/reconcile", middleware.RequireScope(middleware.ScopeWebhooks), server.StartReconcile)
	return router
}
