package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jswanson6857/shop-analytics/internal/transport"
	logpkg "github.com/jswanson6857/shop-analytics/pkg/log"
)

// Hub maps connection ids to live WebSocket connections and implements
// transport.Sender over them. Registration rows live in the registry; the hub
// only tracks in-process sockets, so an id registered on another run of the
// process resolves to ErrGone here.
type Hub struct {
	logger       logpkg.Logger
	writeTimeout time.Duration

	mu    sync.RWMutex
	conns map[string]*client
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes; gorilla allows one writer at a time
}

// NewHub builds an empty hub.
func NewHub(logger logpkg.Logger, writeTimeout time.Duration) *Hub {
	if logger == nil {
		logger = logpkg.NewLogger().With(logpkg.Component("ws"))
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Hub{
		logger:       logger,
		writeTimeout: writeTimeout,
		conns:        map[string]*client{},
	}
}

// Attach binds a socket to a connection id, replacing and closing any
// previous socket under the same id.
func (h *Hub) Attach(connectionID string, conn *websocket.Conn) {
	h.mu.Lock()
	prev := h.conns[connectionID]
	h.conns[connectionID] = &client{conn: conn}
	h.mu.Unlock()
	if prev != nil {
		prev.conn.Close()
	}
}

// Detach drops the socket for a connection id if it is the one currently
// bound. The socket itself is closed by its read loop.
func (h *Hub) Detach(connectionID string, conn *websocket.Conn) {
	h.mu.Lock()
	if cur, ok := h.conns[connectionID]; ok && cur.conn == conn {
		delete(h.conns, connectionID)
	}
	h.mu.Unlock()
}

// Len returns the number of attached sockets.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Send writes one text message to the connection. Unknown ids report ErrGone
// outright. Write failures, deadline exhaustion included, also report
// ErrGone rather than a transient error: gorilla marks the connection
// corrupt after any failed write, so the socket cannot take a later
// delivery and its read loop is about to tear it down.
func (h *Hub) Send(ctx context.Context, connectionID string, payload []byte) error {
	h.mu.RLock()
	c, ok := h.conns[connectionID]
	h.mu.RUnlock()
	if !ok {
		return transport.ErrGone
	}

	deadline := time.Now().Add(h.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return transport.ErrGone
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		h.logger.Debug("write failed", logpkg.Str("connection_id", connectionID), logpkg.Err(err))
		return transport.ErrGone
	}
	return nil
}

// CloseAll shuts every attached socket, typically on server shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.conns {
		c.conn.Close()
		delete(h.conns, id)
	}
}
