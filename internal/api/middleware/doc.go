// Package middleware provides the HTTP middleware for the settings API.
//
// CORS admits the configured browser origins. RateLimit keeps a token
// bucket per client IP and forgets idle ones; GlobalRateLimit shares one
// bucket. BodyLimit caps request bodies, with a larger cap on import and
// scan routes.
//
//	router.Use(middleware.CORS(cfg.Server.CORSOrigins))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
