package http

import (
	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/imgfirewall/internal/api/middleware"
	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/monitoring"
)

// RegisterRoutes mounts the API on router.
func RegisterRoutes(router *gin.Engine, h *Handlers, agg *MetricsAggregator) {
	router.GET("/", h.Root)
	router.GET("/health", h.Health)
	router.GET("/metrics", monitoring.Handler(agg.metrics))
	router.GET("/metrics/json", agg.GetAggregatedMetrics)

	api := router.Group("/api")
	api.Use(middleware.BodyLimit(middleware.MaxImportSize))
	{
		// Settings
		api.GET("/settings", h.GetSettings)
		api.PUT("/settings", h.PutSettings)
		api.PATCH("/settings", h.PatchSettings)
		api.PUT("/settings/:path", h.UpdateSetting)
		api.GET("/sites/:site/policy", h.SitePolicy)

		// Domain rules
		api.POST("/whitelist", h.Whitelist)
		api.DELETE("/whitelist/:site", h.RemoveWhitelist)

		// Statistics
		api.GET("/stats", h.GetStats)
		api.DELETE("/stats", h.ResetStats)

		// Backup
		api.GET("/export", h.Export)
		api.POST("/import", h.Import)

		// Categories and presets
		api.GET("/categories", h.Categories)
		api.POST("/profiles/:name/apply", h.ApplyProfile)

		// Client logs
		api.POST("/logs", h.StreamLogs)
	}

	router.POST("/api/scan", middleware.BodyLimit(middleware.MaxScanSize), h.Scan)
}
