// Package config provides 12-factor configuration for the image firewall.
//
// Configuration is loaded from environment variables with defaults; CLI
// flags override individual values.
//
// Sections:
//   - Server: API listen address
//   - Sandbox: remote sandbox URL, listen port, inference concurrency, top-K
//   - Model: model artifact location and category mapping document
//   - Scan: coordinator triggers, minimum size, pending timeout, selector
//   - Store: settings and statistics database path
//   - Logging, RateLimit
//
// Example:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("API on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
package config
