package runtime

import (
	"context"
	"crypto/rand"
	"errors"
	"time"

	"github.com/jswanson6857/shop-analytics/internal/broadcast"
	cfgpkg "github.com/jswanson6857/shop-analytics/internal/config"
	"github.com/jswanson6857/shop-analytics/internal/eventstore"
	"github.com/jswanson6857/shop-analytics/internal/history"
	"github.com/jswanson6857/shop-analytics/internal/ingest"
	"github.com/jswanson6857/shop-analytics/internal/metrics"
	"github.com/jswanson6857/shop-analytics/internal/registry"
	pebblestore "github.com/jswanson6857/shop-analytics/internal/storage/pebble"
	"github.com/jswanson6857/shop-analytics/internal/transport/ws"
	logpkg "github.com/jswanson6857/shop-analytics/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	DataDir       string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
	Logger        logpkg.Logger
}

// Runtime wires storage and the domain services for a single-node instance.
// It owns the database; everything else borrows it.
type Runtime struct {
	db      *pebblestore.DB
	config  cfgpkg.Config
	logger  logpkg.Logger
	metrics *metrics.Metrics

	store    *eventstore.Store
	registry *registry.Registry
	hub      *ws.Hub
	engine   *broadcast.Engine
	history  *history.Engine
	ingest   *ingest.FrontDoor
}

// Open initializes storage and builds the service graph. New events fan out
// to subscribers as soon as Open returns.
func Open(opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	m := metrics.New()

	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       opts.DataDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Metrics:       m,
	})
	if err != nil {
		return nil, err
	}

	cfg := opts.Config
	secret := []byte(cfg.TokenSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("no token secret configured, using per-process secret")
	}

	store := eventstore.Open(db, eventstore.Options{
		Partition: cfg.IndexPartition,
		PageItems: cfg.History.StorePageItems,
		Logger:    logger.With(logpkg.Component("eventstore")),
	})
	reg := registry.New(db, registry.Options{
		LeaseTTL: time.Duration(cfg.Registry.LeaseTTLMinutes) * time.Minute,
		Logger:   logger.With(logpkg.Component("registry")),
	})
	hub := ws.NewHub(logger.With(logpkg.Component("ws")),
		time.Duration(cfg.Broadcast.DeliveryTimeoutMs)*time.Millisecond)
	engine := broadcast.NewEngine(reg, hub, broadcast.Options{
		MaxConcurrency:  cfg.Broadcast.MaxConcurrency,
		DeliveryTimeout: time.Duration(cfg.Broadcast.DeliveryTimeoutMs) * time.Millisecond,
		Logger:          logger.With(logpkg.Component("broadcast")),
		Metrics:         m,
	})
	hist := history.NewEngine(store, history.Options{
		DefaultLimit:      cfg.History.DefaultLimit,
		MaxLimit:          cfg.History.MaxLimit,
		DefaultWindow:     time.Duration(cfg.History.DefaultWindowHours) * time.Hour,
		MaxWindow:         time.Duration(cfg.History.MaxWindowHours) * time.Hour,
		StorePageItems:    cfg.History.StorePageItems,
		ExhaustiveMaxScan: cfg.History.ExhaustiveMaxScan,
		Strategy:          cfg.History.Strategy,
		Segments:          cfg.History.Segments,
		Secret:            secret,
		Logger:            logger.With(logpkg.Component("history")),
	})
	front := ingest.New(store, ingest.Options{
		EventTTL: time.Duration(cfg.Retention.EventTTLDays) * 24 * time.Hour,
		Logger:   logger.With(logpkg.Component("ingest")),
		Metrics:  m,
	})

	store.Watch(engine.HandleChange(context.Background()))

	return &Runtime{
		db:       db,
		config:   cfg,
		logger:   logger,
		metrics:  m,
		store:    store,
		registry: reg,
		hub:      hub,
		engine:   engine,
		history:  hist,
		ingest:   front,
	}, nil
}

// Close stops services and the underlying database.
func (r *Runtime) Close() error {
	if r.store != nil {
		r.store.Close()
	}
	if r.hub != nil {
		r.hub.CloseAll()
	}
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth verifies the storage engine answers.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	it.Close()
	return nil
}

// RunReaper periodically removes expired events and lapsed connection rows.
// Blocks until ctx is cancelled.
func (r *Runtime) RunReaper(ctx context.Context) {
	interval := time.Duration(r.config.Retention.ReapIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.store.ReapExpired(ctx, time.Now().UTC(), r.config.Retention.ReapBatch)
			if err != nil {
				r.logger.Warn("event reap failed", logpkg.Err(err))
			} else if n > 0 {
				r.metrics.AddReaped(n)
			}
			if _, err := r.registry.ReapExpired(ctx); err != nil {
				r.logger.Warn("connection reap failed", logpkg.Err(err))
			}
			if count, err := r.registry.Count(ctx); err == nil {
				r.metrics.SetActiveConnections(count)
			}
		}
	}
}

// Store returns the event store.
func (r *Runtime) Store() *eventstore.Store { return r.store }

// Registry returns the connection registry.
func (r *Runtime) Registry() *registry.Registry { return r.registry }

// Hub returns the in-process WebSocket hub.
func (r *Runtime) Hub() *ws.Hub { return r.hub }

// Broadcast returns the fan-out engine.
func (r *Runtime) Broadcast() *broadcast.Engine { return r.engine }

// History returns the paginated query engine.
func (r *Runtime) History() *history.Engine { return r.history }

// Ingest returns the ingestion front door.
func (r *Runtime) Ingest() *ingest.FrontDoor { return r.ingest }

// Metrics returns the process metrics.
func (r *Runtime) Metrics() *metrics.Metrics { return r.metrics }

// Logger returns the process logger.
func (r *Runtime) Logger() logpkg.Logger { return r.logger }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
