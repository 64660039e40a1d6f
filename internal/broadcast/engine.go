package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jswanson6857/shop-analytics/internal/eventstore"
	"github.com/jswanson6857/shop-analytics/internal/filter"
	"github.com/jswanson6857/shop-analytics/internal/registry"
	"github.com/jswanson6857/shop-analytics/internal/transport"
	logpkg "github.com/jswanson6857/shop-analytics/pkg/log"
)

// Result counts the outcome of one fan-out.
type Result struct {
	Targets   int
	Delivered int
	Stale     int
	Transient int
	Filtered  int
}

// MetricsHook observes fan-out outcomes. Optional.
type MetricsHook interface {
	ObserveBroadcast(r Result, elapsed time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) ObserveBroadcast(Result, time.Duration) {}

// Options configures an Engine.
type Options struct {
	// MaxConcurrency bounds in-flight deliveries per fan-out.
	MaxConcurrency int
	// DeliveryTimeout bounds each single delivery attempt.
	DeliveryTimeout time.Duration
	Logger          logpkg.Logger
	Metrics         MetricsHook
}

// Engine pushes newly stored events to every active subscriber. Delivery is
// at-most-once: one attempt per connection per event, no queue, no retry.
type Engine struct {
	reg     *registry.Registry
	sender  transport.Sender
	logger  logpkg.Logger
	metrics MetricsHook

	maxConcurrency  int
	deliveryTimeout time.Duration

	mu      sync.Mutex
	filters map[string]filter.Filter // connection id -> compiled filter
}

// NewEngine builds a broadcast engine over a registry and a sender.
func NewEngine(reg *registry.Registry, sender transport.Sender, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger().With(logpkg.Component("broadcast"))
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 16
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = 5 * time.Second
	}
	return &Engine{
		reg:             reg,
		sender:          sender,
		logger:          logger,
		metrics:         metrics,
		maxConcurrency:  opts.MaxConcurrency,
		deliveryTimeout: opts.DeliveryTimeout,
		filters:         map[string]filter.Filter{},
	}
}

// connFilter returns the compiled filter for a connection, compiling and
// caching on first sight. A broken expression fails open to match-all; it was
// validated at connect time, so breakage here means the row was edited.
func (e *Engine) connFilter(conn registry.Connection) filter.Filter {
	if conn.Filter == "" {
		return filter.Filter{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if f, ok := e.filters[conn.ID]; ok {
		return f
	}
	f, err := filter.Compile(conn.Filter)
	if err != nil {
		e.logger.Warn("stored connection filter no longer compiles",
			logpkg.Str("connection_id", conn.ID), logpkg.Err(err))
		f = filter.Filter{}
	}
	e.filters[conn.ID] = f
	return f
}

// Forget drops the cached filter for a connection. Called on unregister.
func (e *Engine) Forget(connectionID string) {
	e.mu.Lock()
	delete(e.filters, connectionID)
	e.mu.Unlock()
}

// Broadcast fans one event out to every active connection. Individual
// delivery failures never abort peers; connections reported gone by the
// transport are unregistered after the fan-out completes.
func (e *Engine) Broadcast(ctx context.Context, ev eventstore.Event) (Result, error) {
	start := time.Now()

	conns, err := e.reg.ListActive(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(conns) == 0 {
		return Result{}, nil
	}

	payload, err := EncodeEnvelope(ev)
	if err != nil {
		return Result{}, err
	}

	type outcome struct {
		connID string
		err    error
		skip   bool
	}
	outcomes := make([]outcome, len(conns))

	sem := make(chan struct{}, e.maxConcurrency)
	var wg sync.WaitGroup
	for i, conn := range conns {
		if !e.connFilter(conn).Match(ev) {
			outcomes[i] = outcome{connID: conn.ID, skip: true}
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, connID string) {
			defer wg.Done()
			defer func() { <-sem }()
			dctx, cancel := context.WithTimeout(ctx, e.deliveryTimeout)
			defer cancel()
			outcomes[i] = outcome{connID: connID, err: e.sender.Send(dctx, connID, payload)}
		}(i, conn.ID)
	}
	wg.Wait()

	res := Result{Targets: len(conns)}
	var gone []string
	for _, o := range outcomes {
		switch {
		case o.skip:
			res.Filtered++
		case o.err == nil:
			res.Delivered++
		case errors.Is(o.err, transport.ErrGone):
			res.Stale++
			gone = append(gone, o.connID)
		default:
			res.Transient++
			e.logger.Warn("delivery failed",
				logpkg.Str("connection_id", o.connID),
				logpkg.Str("event_id", ev.ID),
				logpkg.Err(o.err))
		}
	}

	for _, connID := range gone {
		if err := e.reg.Unregister(ctx, connID); err != nil {
			e.logger.Warn("unregister of gone connection failed",
				logpkg.Str("connection_id", connID), logpkg.Err(err))
		}
		e.Forget(connID)
	}

	e.metrics.ObserveBroadcast(res, time.Since(start))
	e.logger.Debug("broadcast complete",
		logpkg.Str("event_id", ev.ID),
		logpkg.Int("targets", res.Targets),
		logpkg.Int("delivered", res.Delivered),
		logpkg.Int("stale", res.Stale),
		logpkg.Int("transient", res.Transient))
	return res, nil
}

// HandleChange adapts the engine to the store's watch callback. Only created
// and updated changes fan out; expiry is internal housekeeping.
func (e *Engine) HandleChange(ctx context.Context) func(eventstore.Change) {
	return func(ch eventstore.Change) {
		if ch.Kind != eventstore.ChangeCreated && ch.Kind != eventstore.ChangeUpdated {
			return
		}
		if _, err := e.Broadcast(ctx, ch.Event); err != nil {
			e.logger.Error("broadcast failed", logpkg.Str("event_id", ch.Event.ID), logpkg.Err(err))
		}
	}
}
