/*
Package monitoring provides Prometheus metrics for the image firewall.

# Overview

Each Metrics value owns its registry, so several coordinators or test
servers can coexist in one process without duplicate registration.

# Coverage

  - HTTP request count and latency (gin middleware)
  - Scan coordinator: discovered images, terminal outcomes, pending
    requests, verdict latency, ignored verdicts, dropped statistics
  - Sandbox: classify requests, inference duration, model loads, open
    connections
  - Process uptime

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics, "/metrics"))
	router.GET("/metrics", monitoring.Handler(metrics))
*/
package monitoring
