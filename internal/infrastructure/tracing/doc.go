// Package tracing provides lightweight request tracing.
//
// Spans are created per HTTP request and around content store calls, carried
// through context.Context, and logged asynchronously by a collector goroutine.
// Trace ids propagate through the X-Trace-ID and X-Span-ID headers.
package tracing
