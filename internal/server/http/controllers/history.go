package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/jswanson6857/shop-analytics/internal/eventstore"
	"github.com/jswanson6857/shop-analytics/internal/history"
	"github.com/jswanson6857/shop-analytics/internal/runtime"
	logpkg "github.com/jswanson6857/shop-analytics/pkg/log"
)

// HistoryController serves paginated event history.
type HistoryController struct {
	rt     *runtime.Runtime
	logger logpkg.Logger
}

// NewHistoryController creates a new history controller.
func NewHistoryController(rt *runtime.Runtime, logger logpkg.Logger) *HistoryController {
	return &HistoryController{rt: rt, logger: logger}
}

// RegisterRoutes registers history routes with the given mux.
func (c *HistoryController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/events/history", c.handleHistory)
}

// historyEvent is the client-facing projection of one stored event.
type historyEvent struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	Source     string            `json:"source"`
	HTTPMethod string            `json:"httpMethod,omitempty"`
	SourceIP   string            `json:"sourceIp,omitempty"`
	UserAgent  string            `json:"userAgent,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Query      map[string]string `json:"query,omitempty"`
	Payload    map[string]any    `json:"payload"`
	RequestID  string            `json:"requestId,omitempty"`
}

type historyResponse struct {
	Events    []historyEvent `json:"events"`
	NextToken *string        `json:"nextToken"`
}

// handleHistory answers GET /v1/events/history.
//
// Query parameters: limit, hours, continuationToken, exhaustive, filter.
// Invalid tokens and filters produce a 400 with a distinct error body; store
// failures a 500 with no partial data.
func (c *HistoryController) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	params := r.URL.Query()
	q := history.Query{
		Limit:  parseLimit(params.Get("limit")),
		Window: parseHours(params.Get("hours")),
		Token:  params.Get("continuationToken"),
		Filter: params.Get("filter"),
	}

	start := time.Now()
	mode := "page"
	var res history.Result
	var err error
	if parseBool(params.Get("exhaustive")) {
		mode = "exhaustive"
		res, err = c.rt.History().Exhaustive(r.Context(), q)
	} else {
		res, err = c.rt.History().Page(r.Context(), q)
	}
	if err != nil {
		switch {
		case errors.Is(err, history.ErrInvalidToken):
			c.rt.Metrics().ObserveHistory(mode, "invalid_token", time.Since(start))
			writeError(w, http.StatusBadRequest, "Invalid continuation token")
		case errors.Is(err, history.ErrInvalidFilter):
			c.rt.Metrics().ObserveHistory(mode, "invalid_filter", time.Since(start))
			writeError(w, http.StatusBadRequest, "Invalid filter expression")
		default:
			c.logger.Error("history query failed", logpkg.Err(err))
			c.rt.Metrics().ObserveHistory(mode, "error", time.Since(start))
			writeError(w, http.StatusInternalServerError, "Failed to query history")
		}
		return
	}
	c.rt.Metrics().ObserveHistory(mode, "ok", time.Since(start))

	out := historyResponse{Events: make([]historyEvent, 0, len(res.Events))}
	for _, ev := range res.Events {
		out.Events = append(out.Events, projectEvent(ev))
	}
	if res.NextToken != "" {
		out.NextToken = &res.NextToken
	}
	writeJSON(w, out)
}

func projectEvent(ev eventstore.Event) historyEvent {
	return historyEvent{
		ID:         ev.ID,
		Timestamp:  ev.Timestamp,
		Source:     ev.Source,
		HTTPMethod: ev.HTTPMethod,
		SourceIP:   ev.SourceIP,
		UserAgent:  ev.UserAgent,
		Headers:    ev.Headers,
		Query:      ev.Query,
		Payload:    ev.Payload,
		RequestID:  ev.RequestID,
	}
}
