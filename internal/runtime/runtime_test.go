package runtime

import (
	"context"
	"testing"
	"time"

	cfgpkg "github.com/jswanson6857/shop-analytics/internal/config"
	"github.com/jswanson6857/shop-analytics/internal/eventstore"
	"github.com/jswanson6857/shop-analytics/internal/history"
	pebblestore "github.com/jswanson6857/shop-analytics/internal/storage/pebble"
)

func TestOpenCloseHealth(t *testing.T) {
	rt, err := Open(Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever, Config: cfgpkg.Default()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()

	if err := rt.CheckHealth(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
	if rt.Store() == nil || rt.Registry() == nil || rt.History() == nil || rt.Ingest() == nil {
		t.Fatal("service graph incomplete")
	}
}

func TestStoredEventReachesHistory(t *testing.T) {
	rt, err := Open(Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever, Config: cfgpkg.Default()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	ctx := context.Background()

	ev := &eventstore.Event{
		ID:        "evt-rt",
		Timestamp: time.Now().UTC(),
		Source:    "github",
		Payload:   map[string]any{"k": "v"},
	}
	if err := rt.Store().PutEvent(ctx, ev); err != nil {
		t.Fatalf("put: %v", err)
	}

	res, err := rt.History().Page(ctx, history.Query{})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(res.Events) != 1 || res.Events[0].ID != "evt-rt" {
		t.Fatalf("event missing from history: %+v", res.Events)
	}
}
