package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/jswanson6857/shop-analytics/internal/storage/pebble"
	logpkg "github.com/jswanson6857/shop-analytics/pkg/log"
)

// ErrRegistryUnavailable wraps storage failures in registry operations.
var ErrRegistryUnavailable = errors.New("connection registry unavailable")

func regErr(err error) error {
	return fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
}

var connPrefix = []byte("conn/")

func keyConn(connectionID string) []byte {
	k := make([]byte, 0, len(connPrefix)+len(connectionID))
	k = append(k, connPrefix...)
	k = append(k, connectionID...)
	return k
}

// Connection is one registered subscriber. The lease deadline bounds how long
// a row can outlive its transport; rows past their lease are treated as gone
// even before the reaper removes them.
type Connection struct {
	ID           string    `json:"connectionId"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LeaseExpires time.Time `json:"leaseExpires"`
	RemoteAddr   string    `json:"remoteAddr,omitempty"`
	UserAgent    string    `json:"userAgent,omitempty"`
	// Filter is an optional CEL expression gating which events this
	// connection receives. Validated at connect time.
	Filter string `json:"filter,omitempty"`
}

// Options configures a Registry.
type Options struct {
	// LeaseTTL is how long a registration stays active without renewal.
	LeaseTTL time.Duration
	Logger   logpkg.Logger
}

// Registry tracks live subscriber connections in Pebble so membership
// survives process restarts and stays consistent across the broadcast path.
type Registry struct {
	db       *pebblestore.DB
	logger   logpkg.Logger
	leaseTTL time.Duration
	now      func() time.Time
}

// New builds a Registry over an open database.
func New(db *pebblestore.DB, opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger().With(logpkg.Component("registry"))
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 2 * time.Hour
	}
	return &Registry{
		db:       db,
		logger:   logger,
		leaseTTL: opts.LeaseTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Register records a connection, replacing any prior row with the same id.
func (r *Registry) Register(ctx context.Context, conn Connection) error {
	if conn.ID == "" {
		return errors.New("registry: connection id required")
	}
	now := r.now()
	if conn.ConnectedAt.IsZero() {
		conn.ConnectedAt = now
	}
	conn.LeaseExpires = now.Add(r.leaseTTL)

	raw, err := json.Marshal(conn)
	if err != nil {
		return err
	}
	if err := r.db.Set(keyConn(conn.ID), raw); err != nil {
		return regErr(err)
	}
	r.logger.Debug("connection registered", logpkg.Str("connection_id", conn.ID))
	return nil
}

// Touch renews the lease on an existing registration. Missing rows are not an
// error; the connection simply re-registers on its next message.
func (r *Registry) Touch(ctx context.Context, connectionID string) error {
	raw, err := r.db.Get(keyConn(connectionID))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return nil
		}
		return regErr(err)
	}
	var conn Connection
	if err := json.Unmarshal(raw, &conn); err != nil {
		return err
	}
	conn.LeaseExpires = r.now().Add(r.leaseTTL)
	out, err := json.Marshal(conn)
	if err != nil {
		return err
	}
	if err := r.db.Set(keyConn(connectionID), out); err != nil {
		return regErr(err)
	}
	return nil
}

// Unregister removes a connection row. Removing an absent row is a no-op so
// the disconnect path and the gone-reaping path can race safely.
func (r *Registry) Unregister(ctx context.Context, connectionID string) error {
	if err := r.db.Delete(keyConn(connectionID)); err != nil {
		return regErr(err)
	}
	r.logger.Debug("connection unregistered", logpkg.Str("connection_id", connectionID))
	return nil
}

// ListActive returns the current registrations whose lease has not lapsed.
// Lapsed rows are skipped, not deleted; ReapExpired handles removal.
func (r *Registry) ListActive(ctx context.Context) ([]Connection, error) {
	it, err := r.db.NewIter(&pebble.IterOptions{
		LowerBound: connPrefix,
		UpperBound: append(append([]byte(nil), connPrefix...), 0xff),
	})
	if err != nil {
		return nil, regErr(err)
	}
	defer it.Close()

	now := r.now()
	var conns []Connection
	for valid := it.First(); valid; valid = it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var conn Connection
		if err := json.Unmarshal(it.Value(), &conn); err != nil {
			r.logger.Warn("skipping unreadable connection row", logpkg.Err(err))
			continue
		}
		if !conn.LeaseExpires.After(now) {
			continue
		}
		conns = append(conns, conn)
	}
	return conns, nil
}

// Count returns the number of active registrations.
func (r *Registry) Count(ctx context.Context) (int, error) {
	conns, err := r.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	return len(conns), nil
}

// ReapExpired deletes rows whose lease has lapsed and returns how many were
// removed.
func (r *Registry) ReapExpired(ctx context.Context) (int, error) {
	it, err := r.db.NewIter(&pebble.IterOptions{
		LowerBound: connPrefix,
		UpperBound: append(append([]byte(nil), connPrefix...), 0xff),
	})
	if err != nil {
		return 0, regErr(err)
	}

	now := r.now()
	var stale [][]byte
	for valid := it.First(); valid; valid = it.Next() {
		var conn Connection
		if err := json.Unmarshal(it.Value(), &conn); err != nil {
			stale = append(stale, append([]byte(nil), it.Key()...))
			continue
		}
		if !conn.LeaseExpires.After(now) {
			stale = append(stale, append([]byte(nil), it.Key()...))
		}
	}
	it.Close()

	for _, key := range stale {
		if err := r.db.Delete(key); err != nil {
			return 0, regErr(err)
		}
	}
	if len(stale) > 0 {
		r.logger.Info("stale connections reaped", logpkg.Int("count", len(stale)))
	}
	return len(stale), nil
}
