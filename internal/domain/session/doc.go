// Package session hosts feed model providers.
//
// The Manager is the SessionManager collaborator of every provider it
// creates: it resolves payloads from the content store, serves the pages
// behind server tokens, turns refresh requests into invalidation and forgets
// sessions once they end.
//
// Store access goes through a circuit breaker and is timed and traced.
//
// Each Session observes its provider and fans events out to subscribers,
// which is how the WebSocket endpoint learns about session and token
// progress.
//
// Example Usage:
//
//	manager := session.NewManager(session.Options{Store: store.NewMemory()})
//	sess, err := manager.Create(ctx)
//	children := sess.Provider().RootFeature().Cursor().Drain()
package session
