/*
Package resilience provides a circuit breaker for calls into the content store.

# Overview

When the store (Redis in production) starts failing, the breaker opens and
further calls fail fast with ErrCircuitOpen instead of piling up behind a dead
connection. Binding then fails quickly and the affected session is invalidated.

# Usage

	breaker := resilience.New("content-store", resilience.Settings{
		IsFailure: func(err error) bool {
			return err != nil && !errors.Is(err, store.ErrNotFound)
		},
	})
	payloads, err := resilience.Do(ctx, breaker, func(ctx context.Context) ([]feed.PayloadWithID, error) {
		return contentStore.Payloads(ctx, ids)
	})
*/
package resilience
