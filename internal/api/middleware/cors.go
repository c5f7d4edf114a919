package middleware

import (
	"slices"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/tracing"
)

// CORS lets browser clients on origins call the API. An empty list or "*"
// admits every origin. Extension origins such as chrome-extension://id may
// be listed. Credentials are never allowed.
func CORS(origins []string) gin.HandlerFunc {
	return cors.New(corsConfig(origins))
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowBrowserExtensions = true
	cfg.AddAllowHeaders("Accept", "Cache-Control", "X-Requested-With", tracing.HeaderTraceID, tracing.HeaderSpanID)
	// Exports are downloads; clients read the suggested file name.
	cfg.AddExposeHeaders("Content-Disposition", tracing.HeaderTraceID, tracing.HeaderSpanID)

	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}
