package runtime

import (
	"context"
	"log/slog"

	"market-chat/contract"
)

// Broadcaster delivers a payload to every live sink of a set of target
// users. Delivery is best-effort: users with no open connection are skipped
// without queuing or error, and a failing sink never blocks delivery to the
// others.
type Broadcaster struct {
	log      *slog.Logger
	registry contract.IRegistry
}

func NewBroadcaster(log *slog.Logger, registry contract.IRegistry) *Broadcaster {
	return &Broadcaster{log: log, registry: registry}
}

// Broadcast pushes payload to every sink of every user in userIDs. Order
// across users is unspecified; within one user it follows the registry's
// iteration order, which is all the protocol requires.
func (b *Broadcaster) Broadcast(ctx context.Context, payload any, userIDs []int64) {
	for _, userID := range userIDs {
		for _, sink := range b.registry.ConnectionsFor(userID) {
			if err := sink.Send(ctx, payload); err != nil {
				b.log.Warn("broadcast delivery failed",
					"user_id", userID, "sink_id", sink.ID(), "error", err)
			}
		}
	}
}
