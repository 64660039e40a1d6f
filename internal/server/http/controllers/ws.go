package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jswanson6857/shop-analytics/internal/filter"
	"github.com/jswanson6857/shop-analytics/internal/registry"
	"github.com/jswanson6857/shop-analytics/internal/runtime"
	logpkg "github.com/jswanson6857/shop-analytics/pkg/log"
)

// WSController upgrades subscriber connections and runs their read loops.
type WSController struct {
	rt       *runtime.Runtime
	logger   logpkg.Logger
	upgrader websocket.Upgrader
}

// NewWSController creates a new WebSocket controller.
func NewWSController(rt *runtime.Runtime, logger logpkg.Logger) *WSController {
	return &WSController{
		rt:     rt,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Hook dashboards connect from arbitrary origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// RegisterRoutes registers the subscription route with the given mux.
func (c *WSController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/ws", c.handleWS)
}

type wsInbound struct {
	Type string `json:"type"`
}

type wsOutbound struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
	Timestamp    string `json:"timestamp"`
}

// handleWS upgrades the connection, registers it, and serves ping/pong until
// the peer goes away. An optional filter query parameter is validated before
// registration and gates which events the connection receives.
func (c *WSController) handleWS(w http.ResponseWriter, r *http.Request) {
	filterExpr := r.URL.Query().Get("filter")
	if _, err := filter.Compile(filterExpr); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter expression")
		return
	}

	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}
	connectionID := uuid.NewString()

	if err := c.rt.Registry().Register(r.Context(), registry.Connection{
		ID:         connectionID,
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
		Filter:     filterExpr,
	}); err != nil {
		c.logger.Error("connection registration failed", logpkg.Err(err))
		conn.Close()
		return
	}
	c.rt.Hub().Attach(connectionID, conn)
	c.logger.Info("subscriber connected",
		logpkg.Str("connection_id", connectionID),
		logpkg.Str("remote", r.RemoteAddr))

	c.send(connectionID, wsOutbound{
		Type:         "connected",
		ConnectionID: connectionID,
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
	})

	go c.readLoop(connectionID, conn)
}

// send routes control frames through the hub so they serialize with
// broadcast writes on the same socket.
func (c *WSController) send(connectionID string, msg wsOutbound) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	ctx, cancel := cleanupContext()
	defer cancel()
	if err := c.rt.Hub().Send(ctx, connectionID, raw); err != nil {
		c.logger.Debug("control frame dropped",
			logpkg.Str("connection_id", connectionID), logpkg.Err(err))
	}
}

func cleanupContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// readLoop consumes inbound frames until the peer disconnects. Ping frames
// get a pong and renew the registration lease; anything else is ignored.
// Disconnect cleanup never surfaces errors to the already gone peer.
func (c *WSController) readLoop(connectionID string, conn *websocket.Conn) {
	defer func() {
		c.rt.Hub().Detach(connectionID, conn)
		conn.Close()
		ctx, cancel := cleanupContext()
		defer cancel()
		if err := c.rt.Registry().Unregister(ctx, connectionID); err != nil {
			c.logger.Warn("unregister on disconnect failed",
				logpkg.Str("connection_id", connectionID), logpkg.Err(err))
		}
		c.rt.Broadcast().Forget(connectionID)
		c.logger.Info("subscriber disconnected", logpkg.Str("connection_id", connectionID))
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("read loop ended",
					logpkg.Str("connection_id", connectionID), logpkg.Err(err))
			}
			return
		}
		// Anything that is not a ping frame is ignored, including frames
		// that do not parse at all.
		var msg wsInbound
		if json.Unmarshal(raw, &msg) != nil || msg.Type != "ping" {
			continue
		}
		ctx, cancel := cleanupContext()
		if err := c.rt.Registry().Touch(ctx, connectionID); err != nil {
			c.logger.Warn("lease renewal failed",
				logpkg.Str("connection_id", connectionID), logpkg.Err(err))
		}
		cancel()
		c.send(connectionID, wsOutbound{
			Type:         "pong",
			ConnectionID: connectionID,
			Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		})
	}
}
