// Package observable provides an ordered observer set that is safe to mutate
// from inside a callback.
//
// Dispatchers take a Snapshot and iterate it; Register and Unregister mutate the
// live set. A callback that unregisters itself, or another observer, never
// disturbs the iteration in progress.
package observable

import "sync"

// Registry holds observers in registration order. Duplicates are ignored.
type Registry[T comparable] struct {
	mu        sync.RWMutex
	observers []T
}

// Register adds an observer. It reports false if it was already registered.
func (r *Registry[T]) Register(observer T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, o := range r.observers {
		if o == observer {
			return false
		}
	}
	r.observers = append(r.observers, observer)
	return true
}

// Unregister removes an observer. It reports false if it was not registered.
func (r *Registry[T]) Unregister(observer T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, o := range r.observers {
		if o == observer {
			r.observers = append(r.observers[:i:i], r.observers[i+1:]...)
			return true
		}
	}
	return false
}

// Contains reports whether the observer is currently registered.
func (r *Registry[T]) Contains(observer T) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, o := range r.observers {
		if o == observer {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the current observers.
func (r *Registry[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, len(r.observers))
	copy(out, r.observers)
	return out
}

// Len returns the number of registered observers.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.observers)
}
