package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"market-chat/contract"
	apperrors "market-chat/errors"
	"market-chat/repositories"
)

const defaultFeedLimit = 50

// Router wires the two websocket endpoints and the history endpoint onto
// one HTTP surface.
type Router struct {
	log           *slog.Logger
	authenticator contract.IAuthenticator
	chats         repositories.IChatRepository
	messages      repositories.IMessageRepository
}

func NewRouter(
	log *slog.Logger,
	allowedOrigins []string,
	chat *ChatHandler,
	presence *PresenceHandler,
	authenticator contract.IAuthenticator,
	chats repositories.IChatRepository,
	messages repositories.IMessageRepository,
) http.Handler {
	router := &Router{log: log, authenticator: authenticator, chats: chats, messages: messages}

	r := mux.NewRouter()
	r.Handle("/ws/chat/my", chat)
	r.Handle("/ws/users/online", presence)
	r.HandleFunc("/message/list", router.handleFeed).Methods(http.MethodGet)

	return cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet},
	}).Handler(r)
}

// handleFeed handles GET /message/list?chat_id=&offset=&limit=. It returns
// one chronological page of the merged message/system-message history,
// restricted to members of the chat.
func (rt *Router) handleFeed(w http.ResponseWriter, r *http.Request) {
	userID, err := rt.authenticator.Resolve(bearerCredential(r))
	if err != nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	chatID, err := strconv.ParseInt(r.URL.Query().Get("chat_id"), 10, 64)
	if err != nil || chatID <= 0 {
		http.Error(w, "invalid chat_id", http.StatusBadRequest)
		return
	}
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", defaultFeedLimit)

	if _, err = rt.chats.Member(chatID, userID); errors.Is(err, apperrors.ErrMembershipNotFound) {
		http.Error(w, "not a member of this chat", http.StatusForbidden)
		return
	} else if err != nil {
		rt.log.Error("feed membership lookup failed", "chat_id", chatID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	feed, err := rt.messages.Feed(chatID, offset, limit)
	if err != nil {
		rt.log.Error("feed read failed", "chat_id", chatID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err = json.NewEncoder(w).Encode(toFeedFrames(feed)); err != nil {
		rt.log.Warn("feed response write failed", "error", err)
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	value, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
