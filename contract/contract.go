//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"

	"github.com/google/uuid"
)

// Sink is the outbound side of one live connection. A sink belongs to
// exactly one accepted, not-yet-closed transport handle; its identity is
// what lets the registry drop the right handle on disconnect.
type Sink interface {
	ID() uuid.UUID
	Send(ctx context.Context, payload any) error
}

// IRegistry tracks, per user id, the set of currently open sinks. A user may
// hold several connections at once (multiple devices). The registry is
// process-local: it never outlives the process and is never shared across
// processes, so a broadcast here only reaches sockets owned by this process.
type IRegistry interface {
	Register(userID int64, sink Sink)
	Deregister(userID int64, sink Sink)
	ConnectionsFor(userID int64) []Sink
}

// IBroadcaster fans a payload out to every live sink of every target user.
// Users with no live connection are skipped silently.
type IBroadcaster interface {
	Broadcast(ctx context.Context, payload any, userIDs []int64)
}

// IAuthenticator resolves a bearer credential to a stable numeric user id.
// It is the single swappable authentication step performed at connection
// accept time; handlers receive an already-resolved identity.
type IAuthenticator interface {
	Resolve(credential string) (int64, error)
}
