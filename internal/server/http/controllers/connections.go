package controllers

import (
	"net/http"
	"time"

	"github.com/jswanson6857/shop-analytics/internal/runtime"
)

// ConnectionsController exposes the subscriber registry for operators.
type ConnectionsController struct {
	rt *runtime.Runtime
}

// NewConnectionsController creates a new connections controller.
func NewConnectionsController(rt *runtime.Runtime) *ConnectionsController {
	return &ConnectionsController{rt: rt}
}

// RegisterRoutes registers connection inspection routes with the given mux.
func (c *ConnectionsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/connections", c.handleList)
}

type connectionView struct {
	ConnectionID string    `json:"connectionId"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LeaseExpires time.Time `json:"leaseExpires"`
	RemoteAddr   string    `json:"remoteAddr,omitempty"`
	Filter       string    `json:"filter,omitempty"`
}

// handleList returns the active registrations.
func (c *ConnectionsController) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	conns, err := c.rt.Registry().ListActive(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list connections")
		return
	}
	out := make([]connectionView, 0, len(conns))
	for _, conn := range conns {
		out = append(out, connectionView{
			ConnectionID: conn.ID,
			ConnectedAt:  conn.ConnectedAt,
			LeaseExpires: conn.LeaseExpires,
			RemoteAddr:   conn.RemoteAddr,
			Filter:       conn.Filter,
		})
	}
	writeJSON(w, map[string]any{"connections": out, "count": len(out)})
}
