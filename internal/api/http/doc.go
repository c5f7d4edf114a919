// Package http provides HTTP handlers and routing for the imgfirewall REST API.
//
// Endpoints:
//   - Health: /, /health, /metrics and /metrics/json
//   - Settings: /api/settings, /api/settings/:path, /api/sites/:site/policy
//   - Domain rules: /api/whitelist, /api/whitelist/:site
//   - Statistics: /api/stats
//   - Backup: /api/export, /api/import
//   - Categories: /api/categories, /api/profiles/:name/apply
//   - Scanning: /api/scan
//   - Client logs: /api/logs
//
// Settings errors map onto 400, unknown profiles onto 404, oversized bodies
// onto 413 and upstream page failures onto 502.
//
// Example Usage:
//
//	handlers := http.NewHandlers(settingsSvc, index, scanner, sandbox, logger)
//	http.RegisterRoutes(router, handlers, http.NewMetricsAggregator(metrics, "", logger))
package http
