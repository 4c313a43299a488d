// Package runtime holds the process-local connection state: the registry of
// live sinks per user and the broadcaster that fans payloads out to them.
// It contains no business logic or domain rules.
package runtime

import (
	"sync"

	"github.com/google/uuid"

	"market-chat/contract"
)

type sinkSet map[uuid.UUID]contract.Sink

// Registry maps a user id to the set of its currently open sinks. It has a
// bounded lifecycle tied to process startup/shutdown and is injected into
// handlers rather than accessed as ambient global state. It is only valid
// within one process: two connections of the same user may land on
// different processes, and this registry only sees its own.
type Registry struct {
	mu    sync.RWMutex
	sinks map[int64]sinkSet
}

func NewRegistry() *Registry {
	return &Registry{
		sinks: make(map[int64]sinkSet),
	}
}

// Register adds a sink to the user's connection set, creating the set if
// absent. Registering the same sink twice is a no-op thanks to set semantics.
func (r *Registry) Register(userID int64, sink contract.Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sinks[userID]; !ok {
		r.sinks[userID] = make(sinkSet)
	}
	r.sinks[userID][sink.ID()] = sink
}

// Deregister removes a sink from the user's connection set. If the set
// becomes empty the user entry is removed entirely, so no empty sets linger.
// Removing an absent sink or an unknown user is an idempotent no-op:
// disconnect paths must tolerate being invoked twice.
func (r *Registry) Deregister(userID int64, sink contract.Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sinks[userID]
	if !ok {
		return
	}
	delete(set, sink.ID())
	if len(set) == 0 {
		delete(r.sinks, userID)
	}
}

// ConnectionsFor returns the user's live sinks. Unknown users yield an empty
// slice, never an error.
func (r *Registry) ConnectionsFor(userID int64) []contract.Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.sinks[userID]
	if !ok {
		return nil
	}
	sinks := make([]contract.Sink, 0, len(set))
	for _, sink := range set {
		sinks = append(sinks, sink)
	}
	return sinks
}
