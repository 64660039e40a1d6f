package controllers

import (
	"net/http"

	"github.com/jswanson6857/shop-analytics/internal/runtime"
	logpkg "github.com/jswanson6857/shop-analytics/pkg/log"
)

// HooksController receives webhook deliveries on the ingestion route.
type HooksController struct {
	rt     *runtime.Runtime
	logger logpkg.Logger
}

// NewHooksController creates a new hooks controller.
func NewHooksController(rt *runtime.Runtime, logger logpkg.Logger) *HooksController {
	return &HooksController{rt: rt, logger: logger}
}

// RegisterRoutes registers the hook intake routes with the given mux.
//
// The trailing-slash variant accepts any path suffix so senders can encode a
// discriminator in the URL without prior setup.
func (c *HooksController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/hooks", c.handleHook)
	mux.HandleFunc("/v1/hooks/", c.handleHook)
}

// handleHook accepts one webhook delivery with any method and body shape.
// Only a storage failure produces an error status; a malformed body is
// stored raw and still acknowledged.
func (c *HooksController) handleHook(w http.ResponseWriter, r *http.Request) {
	receipt, err := c.rt.Ingest().Accept(r.Context(), r)
	if err != nil {
		c.logger.Error("hook ingestion failed", logpkg.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to store webhook")
		return
	}
	writeJSON(w, receipt)
}
