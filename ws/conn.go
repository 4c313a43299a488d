// Package ws carries the two websocket protocol handlers of the chat
// subsystem: the chat channel and the presence channel. Handlers own the
// full connection lifecycle from upgrade to cleanup; everything durable or
// cross-process lives behind the injected collaborators.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const closeWriteTimeout = 5 * time.Second

// Conn adapts one gorilla websocket connection to contract.Sink. A write
// mutex serializes payload writes: gorilla allows at most one concurrent
// writer and broadcasts arrive from other connections' goroutines.
type Conn struct {
	id     uuid.UUID
	socket *websocket.Conn
	mu     sync.Mutex
}

func NewConn(socket *websocket.Conn) *Conn {
	return &Conn{id: uuid.New(), socket: socket}
}

func (c *Conn) ID() uuid.UUID {
	return c.id
}

// Send writes payload as one JSON text frame.
func (c *Conn) Send(_ context.Context, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socket.WriteJSON(payload)
}

// SendText writes a plain text frame, used to report a validation error to
// the client before the connection is closed.
func (c *Conn) SendText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socket.WriteMessage(websocket.TextMessage, []byte(text))
}

// ReadFrame blocks until the next frame arrives. Any error means the
// transport is gone and the caller must head for its cleanup path.
func (c *Conn) ReadFrame() ([]byte, error) {
	_, data, err := c.socket.ReadMessage()
	return data, err
}

// CloseWith signals the close code to the peer and drops the transport.
// Close codes are protocol signals here, not decoration: clients key their
// error handling off them.
func (c *Conn) CloseWith(code int, reason string) {
	message := websocket.FormatCloseMessage(code, reason)
	_ = c.socket.WriteControl(websocket.CloseMessage, message, time.Now().Add(closeWriteTimeout))
	_ = c.socket.Close()
}

func (c *Conn) Close() error {
	return c.socket.Close()
}

// createUpgrader creates a WebSocket upgrader with the given allowed origins.
// An empty list accepts any origin, which is what local development wants.
func createUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowedMap := make(map[string]bool)
	for _, origin := range allowedOrigins {
		allowedMap[origin] = true
	}

	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedMap) == 0 {
				return true
			}
			return allowedMap[r.Header.Get("Origin")]
		},
	}
}
