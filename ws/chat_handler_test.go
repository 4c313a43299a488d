package ws

import (
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"market-chat/auth"
	"market-chat/domain"
	"market-chat/membership"
	"market-chat/repositories"
	"market-chat/runtime"
)

type chatFixture struct {
	authenticator *auth.Authenticator
	registry      *runtime.Registry
	chats         *repositories.ChatRepository
	messages      *repositories.MessageRepository
	files         *repositories.FileRepository
	store         *membership.Store
	handler       *ChatHandler
	server        *httptest.Server
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	log := slog.New(slog.DiscardHandler)

	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	redisServer := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: redisServer.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	chats, err := repositories.NewChatRepository(db, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = chats.Close() })
	files := repositories.NewFileRepository(db, log)
	messages, err := repositories.NewMessageRepository(db, log, files)
	require.NoError(t, err)
	t.Cleanup(func() { _ = messages.Close() })

	store := membership.NewStore(redisClient, log, 10*time.Minute, 24*time.Hour)
	registry := runtime.NewRegistry()
	broadcaster := runtime.NewBroadcaster(log, registry)
	authenticator := auth.NewAuthenticator("test-secret")

	handler := NewChatHandler(log, nil, authenticator, registry, broadcaster,
		chats, messages, files, store)
	// Compress need_wait so delayed-reveal tests run in milliseconds
	handler.waitUnit = 100 * time.Millisecond

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &chatFixture{
		authenticator: authenticator,
		registry:      registry,
		chats:         chats,
		messages:      messages,
		files:         files,
		store:         store,
		handler:       handler,
		server:        server,
	}
}

func (f *chatFixture) dial(t *testing.T, userID int64) *websocket.Conn {
	t.Helper()
	credential, err := f.authenticator.Mint(userID, time.Hour)
	require.NoError(t, err)
	conn := dialURL(t, f.server.URL+"?token="+credential)

	// Registration runs in the handler goroutine after the handshake; wait
	// for it so broadcasts sent right after dialing cannot miss this sink
	require.Eventually(t, func() bool {
		return len(f.registry.ConnectionsFor(userID)) > 0
	}, 2*time.Second, 5*time.Millisecond)
	return conn
}

func dialURL(t *testing.T, httpURL string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(httpURL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, code), "expected close %d, got %v", code, err)
}

func expectNoFrame(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
}

func readMessageFrame(t *testing.T, conn *websocket.Conn) messageFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame messageFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func Test_ChatChannel_Refuses_Unauthenticated_Connection(t *testing.T) {
	fixture := newChatFixture(t)

	// Missing credential is fatal on the chat channel
	conn := dialURL(t, fixture.server.URL)
	expectClose(t, conn, websocket.ClosePolicyViolation)
}

func Test_ChatChannel_Broadcasts_To_Members_Only(t *testing.T) {
	req := require.New(t)
	fixture := newChatFixture(t)

	// Given users 10 and 20 share chat C while user 30 is an outsider
	chat, _, err := fixture.chats.CreateChat(true, []int64{10, 20})
	req.NoError(err)

	sender := fixture.dial(t, 10)
	member := fixture.dial(t, 20)
	outsider := fixture.dial(t, 30)

	// When the sender posts a message
	req.NoError(sender.WriteJSON(map[string]any{"chat_id": chat.ID, "content": "hi"}))

	// Then both members receive it within the same broadcast
	for _, conn := range []*websocket.Conn{sender, member} {
		frame := readMessageFrame(t, conn)
		req.Equal(chat.ID, frame.ChatID)
		req.Equal(int64(10), frame.UserID)
		req.Equal("hi", frame.Content)
		req.Nil(frame.Files)
		req.NotZero(frame.ID)
		req.NotZero(frame.CreatedAt)
	}

	// And the outsider never does, connected or not
	expectNoFrame(t, outsider)
}

func Test_ChatChannel_Normalizes_Content_Before_Broadcast(t *testing.T) {
	req := require.New(t)
	fixture := newChatFixture(t)
	chat, _, err := fixture.chats.CreateChat(true, []int64{10, 20})
	req.NoError(err)

	sender := fixture.dial(t, 10)
	member := fixture.dial(t, 20)

	// Three spaces lose exactly one: the collapse is single-pass
	req.NoError(sender.WriteJSON(map[string]any{"chat_id": chat.ID, "content": "  a   b  "}))

	frame := readMessageFrame(t, member)
	req.Equal("a  b", frame.Content)
}

func Test_ChatChannel_Closes_On_Malformed_Payload(t *testing.T) {
	req := require.New(t)
	fixture := newChatFixture(t)
	_, _, err := fixture.chats.CreateChat(true, []int64{10, 20})
	req.NoError(err)

	sender := fixture.dial(t, 10)
	req.NoError(sender.WriteMessage(websocket.TextMessage, []byte("not json at all")))

	expectClose(t, sender, websocket.CloseUnsupportedData)
}

func Test_ChatChannel_Tells_Then_Closes_On_Invalid_Frame(t *testing.T) {
	req := require.New(t)
	fixture := newChatFixture(t)
	chat, _, err := fixture.chats.CreateChat(true, []int64{10, 20})
	req.NoError(err)

	sender := fixture.dial(t, 10)

	// Content beyond 4096 characters fails schema validation
	tooLong := strings.Repeat("a", domain.MaxContentLength+1)
	req.NoError(sender.WriteJSON(map[string]any{"chat_id": chat.ID, "content": tooLong}))

	// The client is told the specific error first...
	req.NoError(sender.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, explanation, err := sender.ReadMessage()
	req.NoError(err)
	req.Contains(string(explanation), "Content")

	// ...then the unsupported-data close lands
	expectClose(t, sender, websocket.CloseUnsupportedData)
}

func Test_ChatChannel_Closes_On_Unknown_Chat_Membership(t *testing.T) {
	req := require.New(t)
	fixture := newChatFixture(t)
	chat, _, err := fixture.chats.CreateChat(true, []int64{20, 30})
	req.NoError(err)

	// User 10 is not a member of that chat
	sender := fixture.dial(t, 10)
	req.NoError(sender.WriteJSON(map[string]any{"chat_id": chat.ID, "content": "hi"}))

	expectClose(t, sender, websocket.CloseProtocolError)
}

func Test_ChatChannel_Delayed_Reveal_Acks_Then_Broadcasts_Enriched(t *testing.T) {
	req := require.New(t)
	fixture := newChatFixture(t)
	chat, _, err := fixture.chats.CreateChat(true, []int64{10, 20})
	req.NoError(err)

	sender := fixture.dial(t, 10)
	member := fixture.dial(t, 20)

	// When the sender posts a delayed-reveal message
	req.NoError(sender.WriteJSON(map[string]any{"chat_id": chat.ID, "content": "wait", "need_wait": 3}))

	// Then it is acknowledged immediately
	req.NoError(sender.SetReadDeadline(time.Now().Add(2 * time.Second)))
	var ack waitAck
	req.NoError(sender.ReadJSON(&ack))
	req.NotZero(ack.MessageID)
	req.Equal(int64(3), ack.Waiting)

	// An attachment uploaded during the wait window makes it into the reveal
	req.NoError(fixture.files.AttachFile(ack.MessageID, "https://cdn.example/late.png"))

	frame := readMessageFrame(t, member)
	req.Equal(ack.MessageID, frame.ID)
	req.Equal("wait", frame.Content)
	req.Equal([]string{"https://cdn.example/late.png"}, frame.Files)
}

func Test_ChatChannel_Deregisters_On_Disconnect(t *testing.T) {
	req := require.New(t)
	fixture := newChatFixture(t)
	_, _, err := fixture.chats.CreateChat(true, []int64{10, 20})
	req.NoError(err)

	conn := fixture.dial(t, 10)
	req.Eventually(func() bool {
		return len(fixture.registry.ConnectionsFor(10)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	req.NoError(conn.Close())

	// The registry never holds a handle after its close event is processed
	req.Eventually(func() bool {
		return len(fixture.registry.ConnectionsFor(10)) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func Test_ChatChannel_Populates_Member_Cache_On_Miss(t *testing.T) {
	req := require.New(t)
	fixture := newChatFixture(t)
	chat, _, err := fixture.chats.CreateChat(true, []int64{10, 20})
	req.NoError(err)

	sender := fixture.dial(t, 10)
	req.NoError(sender.WriteJSON(map[string]any{"chat_id": chat.ID, "content": "hi"}))
	readMessageFrame(t, sender)

	// The broadcast walked persistence once and left the cache populated
	members, err := fixture.store.ChatMembers(t.Context(), chat.ID)
	req.NoError(err)
	req.ElementsMatch([]int64{10, 20}, members)
}

func Test_MessageFrame_Serializes_Files_As_Null_When_Absent(t *testing.T) {
	req := require.New(t)
	data, err := json.Marshal(messageFrame{ID: 1, ChatID: 7, UserID: 10, Content: "hi", CreatedAt: 1700000000})
	req.NoError(err)
	req.Contains(string(data), `"files":null`)
}
