package ingest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jswanson6857/shop-analytics/internal/eventstore"
	logpkg "github.com/jswanson6857/shop-analytics/pkg/log"
)

// MaxBodyBytes bounds how much of a hook body is read.
const MaxBodyBytes = 1 << 20

// Receipt is the acknowledgement returned to the hook sender.
type Receipt struct {
	Message   string `json:"message"`
	WebhookID string `json:"webhook_id"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
	Status    string `json:"status"`
}

// MetricsHook observes accepted hooks. Optional.
type MetricsHook interface {
	ObserveIngest(source string, bytes int, elapsed time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) ObserveIngest(string, int, time.Duration) {}

// Options configures a FrontDoor.
type Options struct {
	// EventTTL is how long accepted events live before expiry.
	EventTTL time.Duration
	Logger   logpkg.Logger
	Metrics  MetricsHook
	Now      func() time.Time
	NewID    func() string
}

// FrontDoor normalizes incoming hook requests into events and persists them.
// It accepts anything: malformed bodies are stored with a nil payload rather
// than rejected, so a misbehaving sender still leaves a trace.
type FrontDoor struct {
	store    *eventstore.Store
	logger   logpkg.Logger
	metrics  MetricsHook
	eventTTL time.Duration
	now      func() time.Time
	newID    func() string
}

// New builds an ingestion front door over the store.
func New(store *eventstore.Store, opts Options) *FrontDoor {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger().With(logpkg.Component("ingest"))
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if opts.EventTTL <= 0 {
		opts.EventTTL = 30 * 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &FrontDoor{
		store:    store,
		logger:   logger,
		metrics:  metrics,
		eventTTL: opts.EventTTL,
		now:      opts.Now,
		newID:    opts.NewID,
	}
}

// Accept normalizes one hook request, persists the event, and returns the
// receipt. Only storage failure is an error; anything wrong with the request
// body itself is tolerated and recorded as-is.
func (fd *FrontDoor) Accept(ctx context.Context, r *http.Request) (Receipt, error) {
	start := time.Now()

	body, _ := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes))
	now := fd.now()

	ev := &eventstore.Event{
		ID:         fd.newID(),
		Timestamp:  now,
		HTTPMethod: r.Method,
		SourceIP:   clientIP(r),
		UserAgent:  r.UserAgent(),
		Headers:    safeHeaders(r.Header),
		Query:      flattenQuery(r),
		RawBody:    string(body),
		RequestID:  r.Header.Get("X-Request-Id"),
		Expiry:     now.Add(fd.eventTTL),
	}

	if isJSONContent(r.Header.Get("Content-Type")) {
		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err == nil {
			ev.Payload = payload
		} else {
			fd.logger.Debug("unparseable json body kept raw",
				logpkg.Str("event_id", ev.ID), logpkg.Err(err))
		}
	}
	ev.Source = classify(r.Header, r.UserAgent(), ev.Payload)

	if err := fd.store.PutEvent(ctx, ev); err != nil {
		return Receipt{}, err
	}

	fd.metrics.ObserveIngest(ev.Source, len(body), time.Since(start))
	fd.logger.Info("hook accepted",
		logpkg.Str("event_id", ev.ID),
		logpkg.Str("source", ev.Source),
		logpkg.Str("method", r.Method),
		logpkg.Int("bytes", len(body)))

	return Receipt{
		Message:   "webhook received",
		WebhookID: ev.ID,
		Timestamp: ev.Timestamp.Format(time.RFC3339Nano),
		Source:    ev.Source,
		Status:    "stored",
	}, nil
}

// classify names the sender from its fingerprints: signature headers first,
// then the user agent, then body shape heuristics.
func classify(h http.Header, userAgent string, payload map[string]any) string {
	switch {
	case h.Get("X-GitHub-Event") != "":
		return "github"
	case h.Get("Stripe-Signature") != "":
		return "stripe"
	case strings.Contains(strings.ToLower(userAgent), "discord"):
		return "discord"
	}
	if payload != nil {
		if _, ok := payload["object"]; ok {
			return "stripe"
		}
		if _, ok := payload["repository"]; ok {
			return "github"
		}
	}
	return "unknown"
}

// droppedHeaders never make it into stored events.
var droppedHeaders = map[string]struct{}{
	"authorization":       {},
	"cookie":              {},
	"set-cookie":          {},
	"proxy-authorization": {},
	"x-api-key":           {},
}

func safeHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, vals := range h {
		lower := strings.ToLower(name)
		if _, drop := droppedHeaders[lower]; drop {
			continue
		}
		if len(vals) > 0 {
			out[lower] = vals[0]
		}
	}
	return out
}

func flattenQuery(r *http.Request) map[string]string {
	q := r.URL.Query()
	if len(q) == 0 {
		return nil
	}
	out := make(map[string]string, len(q))
	for k, vals := range q {
		if len(vals) > 0 {
			out[k] = vals[0]
		}
	}
	return out
}

func isJSONContent(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	return strings.HasPrefix(ct, "application/json") ||
		strings.HasSuffix(strings.SplitN(ct, ";", 2)[0], "+json")
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}
