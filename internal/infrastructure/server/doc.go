// Package server wires the feed service: content store, fixtures, session
// manager, executors, middleware and routes.
package server
