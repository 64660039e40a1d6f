package registry

import (
	"context"
	"testing"
	"time"

	pebblestore "github.com/jswanson6857/shop-analytics/internal/storage/pebble"
)

func openTestRegistry(t *testing.T, ttl time.Duration) *Registry {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, Options{LeaseTTL: ttl})
}

func TestRegisterListUnregister(t *testing.T) {
	r := openTestRegistry(t, time.Hour)
	ctx := context.Background()

	if err := r.Register(ctx, Connection{ID: "c1", RemoteAddr: "10.0.0.1"}); err != nil {
		t.Fatalf("register c1: %v", err)
	}
	if err := r.Register(ctx, Connection{ID: "c2"}); err != nil {
		t.Fatalf("register c2: %v", err)
	}

	conns, err := r.ListActive(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(conns) != 2 {
		t.Fatalf("active count: %d", len(conns))
	}

	if err := r.Unregister(ctx, "c1"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	conns, err = r.ListActive(ctx)
	if err != nil {
		t.Fatalf("list after unregister: %v", err)
	}
	if len(conns) != 1 || conns[0].ID != "c2" {
		t.Fatalf("unexpected survivors: %+v", conns)
	}

	// Unregistering an absent row is a no-op.
	if err := r.Unregister(ctx, "c1"); err != nil {
		t.Fatalf("double unregister: %v", err)
	}
}

func TestRegisterReplacesExisting(t *testing.T) {
	r := openTestRegistry(t, time.Hour)
	ctx := context.Background()

	if err := r.Register(ctx, Connection{ID: "c1", RemoteAddr: "10.0.0.1", Filter: `source == "github"`}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(ctx, Connection{ID: "c1", RemoteAddr: "10.0.0.2", UserAgent: "curl"}); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	conns, err := r.ListActive(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(conns) != 1 {
		t.Fatalf("expected one row after re-register, got %d", len(conns))
	}
	got := conns[0]
	if got.RemoteAddr != "10.0.0.2" || got.UserAgent != "curl" || got.Filter != "" {
		t.Fatalf("stale row survived re-register: %+v", got)
	}
}

func TestLeaseExpiryHidesConnection(t *testing.T) {
	r := openTestRegistry(t, time.Hour)
	ctx := context.Background()

	if err := r.Register(ctx, Connection{ID: "c1"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(ctx, Connection{ID: "c2"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Move the clock past c1 and c2's lease, then renew only c2.
	base := time.Now().UTC()
	r.now = func() time.Time { return base.Add(2 * time.Hour) }
	if err := r.Touch(ctx, "c2"); err != nil {
		t.Fatalf("touch: %v", err)
	}

	conns, err := r.ListActive(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(conns) != 1 || conns[0].ID != "c2" {
		t.Fatalf("expected only renewed connection: %+v", conns)
	}
}

func TestReapExpired(t *testing.T) {
	r := openTestRegistry(t, time.Hour)
	ctx := context.Background()

	if err := r.Register(ctx, Connection{ID: "dead"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	base := time.Now().UTC()
	r.now = func() time.Time { return base.Add(3 * time.Hour) }
	if err := r.Register(ctx, Connection{ID: "alive"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	n, err := r.ReapExpired(ctx)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if n != 1 {
		t.Fatalf("reaped %d, want 1", n)
	}
	conns, err := r.ListActive(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(conns) != 1 || conns[0].ID != "alive" {
		t.Fatalf("unexpected rows after reap: %+v", conns)
	}
}

func TestTouchMissingIsNoop(t *testing.T) {
	r := openTestRegistry(t, time.Hour)
	if err := r.Touch(context.Background(), "ghost"); err != nil {
		t.Fatalf("touch missing: %v", err)
	}
}
