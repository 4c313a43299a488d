package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"market-chat/contract"
	"market-chat/domain"
	apperrors "market-chat/errors"
	"market-chat/membership"
	"market-chat/repositories"
)

// ChatHandler drives one chat-channel connection through its lifecycle:
// authenticate, register, receive frames, persist and broadcast messages,
// deregister. Authentication is fatal here, unlike on the presence channel:
// an unidentified sender cannot be attributed to a chat member.
type ChatHandler struct {
	log           *slog.Logger
	upgrader      websocket.Upgrader
	authenticator contract.IAuthenticator
	registry      contract.IRegistry
	broadcaster   contract.IBroadcaster
	chats         repositories.IChatRepository
	messages      repositories.IMessageRepository
	files         repositories.IFileRepository
	store         membership.IStore

	// waitUnit scales need_wait; production uses seconds, tests compress it
	waitUnit time.Duration
}

func NewChatHandler(
	log *slog.Logger,
	allowedOrigins []string,
	authenticator contract.IAuthenticator,
	registry contract.IRegistry,
	broadcaster contract.IBroadcaster,
	chats repositories.IChatRepository,
	messages repositories.IMessageRepository,
	files repositories.IFileRepository,
	store membership.IStore,
) *ChatHandler {
	return &ChatHandler{
		log:           log,
		upgrader:      createUpgrader(allowedOrigins),
		authenticator: authenticator,
		registry:      registry,
		broadcaster:   broadcaster,
		chats:         chats,
		messages:      messages,
		files:         files,
		store:         store,
		waitUnit:      time.Second,
	}
}

// ServeHTTP handles GET /ws/chat/my.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	conn := NewConn(socket)

	// Identity is resolved once, at accept time. Nothing is registered yet,
	// so a refused connection has nothing to clean up.
	userID, err := h.authenticator.Resolve(bearerCredential(r))
	if err != nil {
		h.log.Info("chat connection refused", "error", err)
		conn.CloseWith(websocket.ClosePolicyViolation, "authentication required")
		return
	}

	h.registry.Register(userID, conn)
	h.log.Debug("chat connection open", "user_id", userID, "sink_id", conn.ID())

	// The single cleanup path. Every exit from the receive loop lands here
	// exactly once, including collaborator failures mid-request.
	defer func() {
		h.registry.Deregister(userID, conn)
		_ = conn.Close()
		h.log.Debug("chat connection closed", "user_id", userID, "sink_id", conn.ID())
	}()

	h.listen(r.Context(), userID, conn)
}

// listen runs the receive loop until the transport drops or a protocol
// violation closes the connection.
func (h *ChatHandler) listen(ctx context.Context, userID int64, conn *Conn) {
	for {
		raw, err := conn.ReadFrame()
		if err != nil {
			// Transport-level disconnect: expected, cleanup is silent
			return
		}

		var frame chatFrame
		if err = json.Unmarshal(raw, &frame); err != nil {
			conn.CloseWith(websocket.CloseUnsupportedData, "malformed payload")
			return
		}

		frame.Content = domain.NormalizeContent(frame.Content)
		if err = validate.Struct(frame); err != nil {
			// Tell, then close: the client gets the specific error as a text
			// frame before the unsupported-data close lands
			_ = conn.SendText(err.Error())
			conn.CloseWith(websocket.CloseUnsupportedData, "invalid payload")
			return
		}

		if err = h.handleMessage(ctx, userID, conn, frame); err != nil {
			h.log.Warn("chat connection terminated", "user_id", userID, "error", err)
			return
		}
	}
}

var errConnectionClosed = errors.New("connection closed by protocol violation")

func (h *ChatHandler) handleMessage(ctx context.Context, userID int64, conn *Conn, frame chatFrame) error {
	member, err := h.chats.Member(frame.ChatID, userID)
	if errors.Is(err, apperrors.ErrMembershipNotFound) {
		conn.CloseWith(websocket.CloseProtocolError, "not a real chat id")
		return errConnectionClosed
	}
	if err != nil {
		return err
	}

	if frame.NeedWait == 0 {
		return h.deliverNow(ctx, member, frame.Content)
	}
	return h.deliverAfterWait(ctx, member, conn, frame)
}

// deliverNow persists the message and fans it out to the chat's current
// member set in one go.
func (h *ChatHandler) deliverNow(ctx context.Context, member domain.ChatMember, content string) error {
	message, err := h.messages.CreateMessage(member, content, time.Now().UTC())
	if err != nil {
		return err
	}
	members, err := h.chatMembers(ctx, member.ChatID)
	if err != nil {
		return err
	}
	h.broadcaster.Broadcast(ctx, toMessageFrame(message, nil), members)
	return nil
}

// deliverAfterWait implements the delayed reveal: acknowledge immediately,
// persist with created_at shifted by the wait, suspend, then broadcast the
// message enriched with whatever attachments appeared during the window.
// Membership is deliberately not re-checked after the wait; the member
// resolved at receive time stays authoritative for this message.
func (h *ChatHandler) deliverAfterWait(ctx context.Context, member domain.ChatMember, conn *Conn, frame chatFrame) error {
	wait := time.Duration(frame.NeedWait) * h.waitUnit
	message, err := h.messages.CreateMessage(member, frame.Content, time.Now().UTC().Add(wait))
	if err != nil {
		return err
	}
	if err = conn.Send(ctx, waitAck{MessageID: message.ID, Waiting: frame.NeedWait}); err != nil {
		return err
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	files, err := h.files.FilesForMessage(message.ID)
	if err != nil {
		return err
	}
	members, err := h.chatMembers(ctx, member.ChatID)
	if err != nil {
		return err
	}
	h.broadcaster.Broadcast(ctx, toMessageFrame(message, files), members)
	return nil
}

// chatMembers resolves the chat's member set through the shared cache,
// falling back to persistence on a miss and re-populating the cache with
// its bounded TTL.
func (h *ChatHandler) chatMembers(ctx context.Context, chatID int64) ([]int64, error) {
	members, err := h.store.ChatMembers(ctx, chatID)
	if err == nil {
		return members, nil
	}
	if !errors.Is(err, apperrors.ErrCacheMiss) {
		return nil, err
	}

	members, err = h.chats.MemberUserIDs(chatID)
	if err != nil {
		return nil, err
	}
	if err = h.store.CacheChatMembers(ctx, chatID, members); err != nil {
		return nil, err
	}
	return members, nil
}

// bearerCredential pulls the credential supplied out-of-band with the
// upgrade request.
func bearerCredential(r *http.Request) string {
	return r.URL.Query().Get("token")
}
