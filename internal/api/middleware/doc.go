// Package middleware provides the HTTP middleware of the feed API: CORS for
// browser clients and per-IP rate limiting.
package middleware
