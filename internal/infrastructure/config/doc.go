// Package config provides 12-factor configuration for the feed service.
//
// Configuration is loaded from environment variables with sensible defaults.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host)
//   - Feed: synthetic pagination page sizes
//   - Store: content store backend, Redis URL, fixture glob
//   - Logging: log level and output format
//   - RateLimit: per-IP rate limiting
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	provider := feed.NewProvider(feed.Deps{Config: cfg.Feed, ...})
//
// Environment Variables:
//   - PORT, HOST
//   - FEED_INITIAL_PAGE_SIZE, FEED_PAGE_SIZE, FEED_MIN_PAGE_SIZE
//   - STORE_BACKEND, REDIS_URL, STORE_PREFIX, FIXTURES
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
package config
