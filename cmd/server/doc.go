// Package main is the entry point of the feed model server.
//
// The server hosts feed sessions over HTTP: each session owns a model
// provider whose tree is built from a content store (in memory or Redis),
// optionally seeded from YAML/TOML fixtures.
//
// Configuration:
//   - Environment variables (see internal/infrastructure/config)
//   - CLI flags override a few of them
//
// Usage:
//
//	FIXTURES='fixtures/**/*.yaml' FEED_INITIAL_PAGE_SIZE=10 ./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
