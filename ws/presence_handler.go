package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"market-chat/contract"
	"market-chat/domain"
	"market-chat/membership"
)

// PresenceHandler drives one presence-channel connection. Unlike the chat
// channel, a missing or invalid credential is not fatal: the connection is
// tracked under a random synthetic id in the reserved high range and simply
// never appears in the online set.
type PresenceHandler struct {
	log           *slog.Logger
	upgrader      websocket.Upgrader
	authenticator contract.IAuthenticator
	registry      contract.IRegistry
	broadcaster   contract.IBroadcaster
	store         membership.IStore
}

func NewPresenceHandler(
	log *slog.Logger,
	allowedOrigins []string,
	authenticator contract.IAuthenticator,
	registry contract.IRegistry,
	broadcaster contract.IBroadcaster,
	store membership.IStore,
) *PresenceHandler {
	return &PresenceHandler{
		log:           log,
		upgrader:      createUpgrader(allowedOrigins),
		authenticator: authenticator,
		registry:      registry,
		broadcaster:   broadcaster,
		store:         store,
	}
}

// ServeHTTP handles GET /ws/users/online.
func (h *PresenceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	conn := NewConn(socket)
	ctx := r.Context()

	userID, err := h.authenticator.Resolve(bearerCredential(r))
	isAuthUser := err == nil
	if !isAuthUser {
		userID = domain.AnonymousID()
	}

	h.registry.Register(userID, conn)
	h.log.Debug("presence connection open",
		"user_id", userID, "authenticated", isAuthUser, "sink_id", conn.ID())

	// The single cleanup path: deregistration and presence teardown happen
	// exactly once, whatever made the loop exit.
	defer h.cleanup(userID, conn, isAuthUser)

	if isAuthUser {
		if err = h.announceOnline(ctx, userID); err != nil {
			h.log.Warn("presence online announcement failed", "user_id", userID, "error", err)
			return
		}
	}

	h.listen(ctx, userID, conn)
}

// announceOnline marks the user online in the shared store and pushes an
// online=true event to its current subscribers, if any.
func (h *PresenceHandler) announceOnline(ctx context.Context, userID int64) error {
	if err := h.store.SetOnline(ctx, userID); err != nil {
		return err
	}
	subscribers, err := h.store.Subscribers(ctx, userID)
	if err != nil {
		return err
	}
	if len(subscribers) > 0 {
		h.broadcaster.Broadcast(ctx, domain.PresenceEvent(userID, true), subscribers)
	}
	return nil
}

func (h *PresenceHandler) listen(ctx context.Context, userID int64, conn *Conn) {
	for {
		raw, err := conn.ReadFrame()
		if err != nil {
			// Transport-level disconnect: expected, cleanup is silent
			return
		}

		var frame presenceFrame
		if err = json.Unmarshal(raw, &frame); err != nil {
			conn.CloseWith(websocket.CloseUnsupportedData, "malformed payload")
			return
		}
		if err = validate.Struct(frame); err != nil {
			_ = conn.SendText(err.Error())
			conn.CloseWith(websocket.CloseUnsupportedData, "invalid payload")
			return
		}

		// Validation runs fully before any store mutation: a violating
		// request leaves the membership store untouched
		if err = validateTargets(frame.Subscribe, frame.Unsubscribe, userID); err != nil {
			conn.CloseWith(websocket.CloseProtocolError, err.Error())
			return
		}

		if err = h.handleSubscriptions(ctx, userID, conn, frame); err != nil {
			h.log.Warn("presence connection terminated", "user_id", userID, "error", err)
			return
		}
	}
}

// handleSubscriptions applies the request as one atomic pipeline and
// answers with the current online state of each subscribe target. The
// online reads happen outside the pipeline: pipelines do not return
// intermediate reads.
func (h *PresenceHandler) handleSubscriptions(ctx context.Context, userID int64, conn *Conn, frame presenceFrame) error {
	if err := h.store.ApplySubscriptions(ctx, userID, frame.Subscribe, frame.Unsubscribe); err != nil {
		return err
	}

	var reply presenceReply
	if len(frame.Subscribe) > 0 {
		statuses := make([]bool, 0, len(frame.Subscribe))
		for _, target := range frame.Subscribe {
			online, err := h.store.IsOnline(ctx, target)
			if err != nil {
				return err
			}
			statuses = append(statuses, online)
		}
		reply.Subscribe = statuses
	}
	if len(frame.Unsubscribe) > 0 {
		reply.Unsubscribe = "ok"
	}
	return conn.Send(ctx, reply)
}

// cleanup deregisters the sink and, when this was the user's last live
// connection, tears down its presence state. The subscriber set for the
// offline broadcast is snapshotted before any relation is removed,
// mirroring the snapshot taken at connect time.
func (h *PresenceHandler) cleanup(userID int64, conn *Conn, isAuthUser bool) {
	h.registry.Deregister(userID, conn)
	_ = conn.Close()

	if len(h.registry.ConnectionsFor(userID)) > 0 {
		return
	}

	// The request context is gone by now; teardown must still run
	ctx := context.Background()

	subscribers, err := h.store.Subscribers(ctx, userID)
	if err != nil {
		h.log.Warn("presence cleanup: subscriber snapshot failed", "user_id", userID, "error", err)
		subscribers = nil
	}
	if isAuthUser {
		if err = h.store.SetOffline(ctx, userID); err != nil {
			h.log.Warn("presence cleanup: offline mark failed", "user_id", userID, "error", err)
		}
	}
	if err = h.store.ClearSubscriptions(ctx, userID); err != nil {
		h.log.Warn("presence cleanup: relation teardown failed", "user_id", userID, "error", err)
	}
	if len(subscribers) > 0 {
		h.broadcaster.Broadcast(ctx, domain.PresenceEvent(userID, false), subscribers)
	}
	h.log.Debug("presence connection closed",
		"user_id", userID, "notified_subscribers", len(subscribers))
}
