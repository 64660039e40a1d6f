package eventstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jswanson6857/shop-analytics/pkg/id"

	pebblestore "github.com/jswanson6857/shop-analytics/internal/storage/pebble"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s := Open(db, Options{Partition: "ALL", PageItems: 100})
	t.Cleanup(s.Close)
	return s
}

func testEvent(idStr string, ts time.Time) *Event {
	return &Event{
		ID:        idStr,
		Timestamp: ts,
		Source:    "shopify",
		Payload:   map[string]any{"order_id": idStr},
		Expiry:    ts.Add(30 * 24 * time.Hour),
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ev := testEvent("evt-1", time.Now().UTC().Truncate(time.Millisecond))
	ev.Headers = map[string]string{"content-type": "application/json"}
	if err := s.PutEvent(ctx, ev); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.GetEvent("evt-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "evt-1" || got.Source != "shopify" {
		t.Fatalf("unexpected event: %+v", got)
	}
	if got.Headers["content-type"] != "application/json" {
		t.Fatalf("headers lost: %+v", got.Headers)
	}
	if got.SortKey == (id.ID{}) {
		t.Fatal("sort key not persisted")
	}
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetEvent("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutUpdateKeepsSortPosition(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ev := testEvent("evt-up", time.Now().UTC())
	if err := s.PutEvent(ctx, ev); err != nil {
		t.Fatalf("put: %v", err)
	}
	first := ev.SortKey

	again := testEvent("evt-up", time.Now().UTC())
	again.Payload = map[string]any{"version": 2}
	if err := s.PutEvent(ctx, again); err != nil {
		t.Fatalf("update: %v", err)
	}
	if again.SortKey != first {
		t.Fatalf("sort position changed on update: %v vs %v", again.SortKey, first)
	}

	items, _, err := s.QueryRange(ctx, id.FromMs(0), id.MaxForMs(time.Now().UnixMilli()+1000), 10, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("time index holds %d entries for one event", len(items))
	}
	if items[0].Payload["version"] != float64(2) {
		t.Fatalf("index projection stale: %+v", items[0].Payload)
	}
}

func TestDeleteEvent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ev := testEvent("evt-del", time.Now().UTC())
	if err := s.PutEvent(ctx, ev); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.DeleteEvent(ctx, "evt-del"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetEvent("evt-del"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	items, _, err := s.QueryRange(ctx, id.FromMs(0), id.MaxForMs(time.Now().UnixMilli()+1000), 10, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("time index entry survived delete: %d", len(items))
	}
	// Deleting twice is fine.
	if err := s.DeleteEvent(ctx, "evt-del"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestQueryRangeDescendingWithResume(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 7; i++ {
		ev := testEvent(fmt.Sprintf("evt-%d", i), base.Add(time.Duration(i)*time.Second))
		if err := s.PutEvent(ctx, ev); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	lower := id.FromMs(base.UnixMilli())
	upper := id.MaxForMs(base.Add(time.Minute).UnixMilli())

	page1, resume, err := s.QueryRange(ctx, lower, upper, 3, nil)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(page1) != 3 {
		t.Fatalf("page 1 size: %d", len(page1))
	}
	if page1[0].ID != "evt-6" || page1[2].ID != "evt-4" {
		t.Fatalf("not descending: %s .. %s", page1[0].ID, page1[2].ID)
	}
	if resume == nil {
		t.Fatal("expected resume key after partial scan")
	}

	page2, resume2, err := s.QueryRange(ctx, lower, upper, 3, resume)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(page2) != 3 || page2[0].ID != "evt-3" {
		t.Fatalf("page 2 wrong: %+v", page2)
	}

	page3, resume3, err := s.QueryRange(ctx, lower, upper, 3, resume2)
	if err != nil {
		t.Fatalf("page 3: %v", err)
	}
	if len(page3) != 1 || page3[0].ID != "evt-0" {
		t.Fatalf("page 3 wrong: %+v", page3)
	}
	if resume3 != nil {
		t.Fatal("expected no resume key at end of range")
	}
}

func TestQueryRangeCancelledContext(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 5; i++ {
		ev := testEvent(fmt.Sprintf("evt-%d", i), base.Add(time.Duration(i)*time.Second))
		if err := s.PutEvent(ctx, ev); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}
	lower := id.FromMs(base.UnixMilli())
	upper := id.MaxForMs(base.Add(time.Minute).UnixMilli())

	dead, cancel := context.WithCancel(context.Background())
	cancel()

	// A fresh scan under a dead context must error, not report the window
	// drained.
	if _, _, err := s.QueryRange(dead, lower, upper, 10, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}

	// A resumed scan keeps its position instead.
	_, resume, err := s.QueryRange(ctx, lower, upper, 2, nil)
	if err != nil || resume == nil {
		t.Fatalf("partial scan: resume=%v err=%v", resume, err)
	}
	items, resume2, err := s.QueryRange(dead, lower, upper, 2, resume)
	if err != nil {
		t.Fatalf("resumed scan under dead context: %v", err)
	}
	if len(items) != 0 || string(resume2) != string(resume) {
		t.Fatalf("position lost: items=%d resume2=%q", len(items), resume2)
	}
}

func TestQueryRangeWindowExcludesOutside(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	old := testEvent("evt-old", base.Add(-48*time.Hour))
	old.SortKey = id.FromMs(base.Add(-48 * time.Hour).UnixMilli())
	if err := s.PutEvent(ctx, old); err != nil {
		t.Fatalf("put old: %v", err)
	}
	recent := testEvent("evt-new", base)
	if err := s.PutEvent(ctx, recent); err != nil {
		t.Fatalf("put new: %v", err)
	}

	lower := id.FromMs(base.Add(-24 * time.Hour).UnixMilli())
	upper := id.MaxForMs(base.Add(time.Minute).UnixMilli())
	items, _, err := s.QueryRange(ctx, lower, upper, 10, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(items) != 1 || items[0].ID != "evt-new" {
		t.Fatalf("window leaked: %+v", items)
	}
}

func TestWatchDeliversChanges(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	got := make(chan Change, 4)
	s.Watch(func(ch Change) { got <- ch })

	if err := s.PutEvent(ctx, testEvent("evt-w", time.Now().UTC())); err != nil {
		t.Fatalf("put: %v", err)
	}
	select {
	case ch := <-got:
		if ch.Kind != ChangeCreated || ch.Event.ID != "evt-w" {
			t.Fatalf("unexpected change: %+v", ch)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification")
	}

	if err := s.PutEvent(ctx, testEvent("evt-w", time.Now().UTC())); err != nil {
		t.Fatalf("update: %v", err)
	}
	select {
	case ch := <-got:
		if ch.Kind != ChangeUpdated {
			t.Fatalf("expected updated, got %s", ch.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no update notification")
	}
}

func TestReapExpired(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	dead := testEvent("evt-dead", now.Add(-time.Hour))
	dead.Expiry = now.Add(-time.Minute)
	if err := s.PutEvent(ctx, dead); err != nil {
		t.Fatalf("put dead: %v", err)
	}
	alive := testEvent("evt-alive", now)
	if err := s.PutEvent(ctx, alive); err != nil {
		t.Fatalf("put alive: %v", err)
	}

	expired := make(chan Change, 4)
	s.Watch(func(ch Change) {
		if ch.Kind == ChangeExpired {
			expired <- ch
		}
	})

	n, err := s.ReapExpired(ctx, now, 128)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if n != 1 {
		t.Fatalf("reaped %d, want 1", n)
	}
	if _, err := s.GetEvent("evt-dead"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("dead event still present: %v", err)
	}
	if _, err := s.GetEvent("evt-alive"); err != nil {
		t.Fatalf("live event reaped: %v", err)
	}
	select {
	case ch := <-expired:
		if ch.Event.ID != "evt-dead" {
			t.Fatalf("expired wrong event: %s", ch.Event.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no expired notification")
	}

	// Second pass finds nothing.
	n, err = s.ReapExpired(ctx, now, 128)
	if err != nil || n != 0 {
		t.Fatalf("second reap: n=%d err=%v", n, err)
	}
}

func TestRecordCorruptionDetected(t *testing.T) {
	ev := Event{ID: "x", Timestamp: time.Now().UTC(), Payload: map[string]any{"k": "v"}}
	raw, err := EncodeEvent(ev)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	raw[len(raw)/2] ^= 0xff
	if _, ok := DecodeEvent(raw); ok {
		t.Fatal("corrupt frame decoded")
	}
}
