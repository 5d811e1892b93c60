// Package registry implements the symbol subscription index that drives
// broadcast routing: a mapping from instrument symbol to the set of
// downstream session identities subscribed to it.
package registry

import (
	"sync"

	"github.com/google/uuid"
)

// Registry tracks which sessions subscribe to which symbols. It holds
// session identities only, never session objects: the gateway's session
// table stays the single owner of session lifetimes.
//
// All mutations take the registry lock; SubscribersOf returns a snapshot
// so broadcast never observes a half-updated set.
type Registry struct {
	mu   sync.Mutex
	subs map[string]map[uuid.UUID]struct{}
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		subs: make(map[string]map[uuid.UUID]struct{}),
	}
}

// Subscribe adds a session to a symbol's subscriber set. Subscribing
// twice is a no-op.
func (r *Registry) Subscribe(id uuid.UUID, symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.subs[symbol]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		r.subs[symbol] = set
	}
	set[id] = struct{}{}
}

// Unsubscribe removes a session from a symbol's subscriber set.
// Unsubscribing a non-member is a no-op. Empty sets are pruned so the
// map does not grow unboundedly with subscribe/unsubscribe churn.
func (r *Registry) Unsubscribe(id uuid.UUID, symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.subs[symbol]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(r.subs, symbol)
	}
}

// RemoveSession removes a session from every symbol's subscriber set.
// Called exactly once when a session closes, whatever the cause.
func (r *Registry) RemoveSession(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for symbol, set := range r.subs {
		delete(set, id)
		if len(set) == 0 {
			delete(r.subs, symbol)
		}
	}
}

// SubscribersOf returns a snapshot of the sessions subscribed to symbol.
func (r *Registry) SubscribersOf(symbol string) []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.subs[symbol]
	ids := make([]uuid.UUID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// Symbols returns all symbols with at least one subscriber.
func (r *Registry) Symbols() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	symbols := make([]string, 0, len(r.subs))
	for s := range r.subs {
		symbols = append(symbols, s)
	}
	return symbols
}
