package app

import (
	"github.com/gin-gonic/gin"

	"merchpulse.io/pulse/internal/api/handlers"
	"merchpulse.io/pulse/internal/api/middleware"
	"merchpulse.io/pulse/internal/pkg/logger"
)

func newRouter(server *handlers.Server) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.ErrorHandler())

	router.GET("/health/live", server.GetLiveness)
	router.GET("/health/ready", server.GetReadiness)
	// Runtime log level: GET returns the current level, PUT changes it.
	router.Any("/log/level", gin.WrapH(logger.HTTPHandler()))

	api := router.Group("/api/v1", middleware.RequireTenant())
	{
		api.POST("/sync", server.StartSync)
		api.GET("/sync/active", server.ListActiveSyncs)
		api.GET("/sync/stream", server.StreamSyncProgress)
		api.GET("/sync/runs/:id", server.GetSyncRun)
		api.GET("/sync/runs/:id/progress", server.GetSyncProgress)

		api.POST("/segments", server.CreateSegment)
		api.GET("/segments", server.ListSegments)
		api.POST("/segments/preview", server.PreviewSegment)
		api.GET("/segments/:id", server.GetSegment)
		api.PUT("/segments/:id", server.UpdateSegment)
		api.DELETE("/segments/:id", server.DeleteSegment)
		api.POST("/segments/:id/refresh", server.RefreshSegment)

		api.GET("/analytics/summary", server.GetAnalyticsSummary)
		api.GET("/customers/:id", server.GetCustomer)
		api.GET("/customers/:id/churn", server.PredictCustomerChurn)

		api.POST("/webhooks/platform", server.ReceivePlatformWebhook)
		api.POST("/webhooks/endpoints", server.CreateWebhookEndpoint)
		api.GET("/webhooks/endpoints", server.ListWebhookEndpoints)
		api.GET("/webhooks/endpoints/:id", server.GetWebhookEndpoint)
		api.DELETE("/webhooks/endpoints/:id", server.DeleteWebhookEndpoint)
	}

	return router
}
