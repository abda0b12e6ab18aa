package registry

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
)

// ErrExists indicates Add was called with a key that is already registered.
var ErrExists = errors.New("key already registered")

// Registry is a thread-safe registry for values indexed by key.
type Registry[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]V

	// changed is closed and replaced on every mutation.
	changed chan struct{}
}

// New creates a new empty registry.
func New[K comparable, V any]() *Registry[K, V] {
	return &Registry[K, V]{
		entries: make(map[K]V),
		changed: make(chan struct{}),
	}
}

// Register adds or updates a value in the registry.
func (r *Registry[K, V]) Register(key K, value V) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = value
	r.notifyLocked()
}

// Add registers value under key, failing if key is already present.
func (r *Registry[K, V]) Add(key K, value V) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[key]; ok {
		return fmt.Errorf("%w: %v", ErrExists, key)
	}
	r.entries[key] = value
	r.notifyLocked()
	return nil
}

// Delete removes a key from the registry. It reports whether the key was
// present.
func (r *Registry[K, V]) Delete(key K) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[key]; !ok {
		return false
	}
	delete(r.entries, key)
	r.notifyLocked()
	return true
}

// Keys returns all keys in the registry.
// The order is not guaranteed.
func (r *Registry[K, V]) Keys() []K {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]K, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of entries in the registry.
func (r *Registry[K, V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Range calls fn for each entry of a snapshot of the registry. If fn
// returns false, iteration stops.
func (r *Registry[K, V]) Range(fn func(K, V) bool) {
	r.mu.RLock()
	snapshot := maps.Clone(r.entries)
	r.mu.RUnlock()

	for k, v := range snapshot {
		if !fn(k, v) {
			return
		}
	}
}

// WaitEmpty blocks until the registry has no entries or ctx ends.
func (r *Registry[K, V]) WaitEmpty(ctx context.Context) error {
	for {
		r.mu.RLock()
		n := len(r.entries)
		ch := r.changed
		r.mu.RUnlock()
		if n == 0 {
			return nil
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Registry[K, V]) notifyLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}
