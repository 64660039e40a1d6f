package eventstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/jswanson6857/shop-analytics/internal/storage/pebble"
	"github.com/jswanson6857/shop-analytics/pkg/id"
	logpkg "github.com/jswanson6857/shop-analytics/pkg/log"
)

// ErrStoreUnavailable wraps storage engine failures. Callers treat it as a
// transient infrastructure error and surface it; data is never dropped
// silently.
var ErrStoreUnavailable = errors.New("event store unavailable")

// ErrNotFound is returned when an event does not exist.
var ErrNotFound = errors.New("event not found")

// ErrCorruptRecord is returned when a stored record fails its checksum.
var ErrCorruptRecord = errors.New("corrupt event record")

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// Options configures a Store.
type Options struct {
	// Partition is the time-index partition value all entries share.
	Partition string
	// PageItems is the hard per-scan item cap enforced regardless of the
	// caller's requested limit.
	PageItems int
	Logger    logpkg.Logger
}

// Store persists events in Pebble with a time-ordered secondary index and
// emits change notifications on commit. It is the single owner of persisted
// events; consumers only hold transient copies.
type Store struct {
	db        *pebblestore.DB
	logger    logpkg.Logger
	partition string
	pageItems int
	gen       *id.Generator

	mu       sync.Mutex
	watchers []func(Change)

	notifyCh  chan Change
	done      chan struct{}
	closeOnce sync.Once
}

// Open builds a Store over an open database and starts its notification
// dispatcher.
func Open(db *pebblestore.DB, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger().With(logpkg.Component("eventstore"))
	}
	if opts.Partition == "" {
		opts.Partition = "ALL"
	}
	if opts.PageItems <= 0 {
		opts.PageItems = 100
	}
	s := &Store{
		db:        db,
		logger:    logger,
		partition: opts.Partition,
		pageItems: opts.PageItems,
		gen:       id.NewGenerator(),
		notifyCh:  make(chan Change, 256),
		done:      make(chan struct{}),
	}
	go s.dispatch()
	return s
}

// Close stops the notification dispatcher. The underlying DB is owned by the
// caller and stays open.
func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Watch registers a change watcher. Watchers receive each committed change at
// most once; notifications queued past the buffer are dropped, so a lost
// trigger means that change is never re-delivered.
func (s *Store) Watch(fn func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, fn)
}

func (s *Store) notify(ch Change) {
	select {
	case s.notifyCh <- ch:
	case <-s.done:
	default:
		s.logger.Warn("change notification dropped", logpkg.Str("event_id", ch.Event.ID))
	}
}

func (s *Store) dispatch() {
	for {
		select {
		case <-s.done:
			return
		case ch := <-s.notifyCh:
			s.mu.Lock()
			watchers := append([]func(Change){}, s.watchers...)
			s.mu.Unlock()
			for _, fn := range watchers {
				fn(ch)
			}
		}
	}
}

// PutEvent commits the event record and its time-index entry atomically, then
// emits a created or updated change. A put with an existing id replaces the
// record and reuses its sort position so the index never holds duplicates.
func (s *Store) PutEvent(ctx context.Context, ev *Event) error {
	if ev.ID == "" {
		return errors.New("eventstore: event id required")
	}
	kind := ChangeCreated
	var staleExpiry int64
	if prev, err := s.db.Get(KeyEvent(ev.ID)); err == nil {
		if old, ok := DecodeEvent(prev); ok {
			ev.SortKey = old.SortKey
			kind = ChangeUpdated
			if !old.Expiry.IsZero() && !old.Expiry.Equal(ev.Expiry) {
				staleExpiry = old.Expiry.UnixMilli()
			}
		}
	} else if !errors.Is(err, pebblestore.ErrNotFound) {
		return storeErr(err)
	}

	var zero id.ID
	if ev.SortKey == zero {
		// Sort position follows the event timestamp so index order matches
		// event time, with arrival order breaking same-millisecond ties.
		if !ev.Timestamp.IsZero() {
			ev.SortKey = s.gen.NextAt(ev.Timestamp.UnixMilli())
		} else {
			ev.SortKey = s.gen.Next()
		}
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.UnixMilli(ev.SortKey.TimestampMs()).UTC()
	}

	rec, err := EncodeEvent(*ev)
	if err != nil {
		return err
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(KeyEvent(ev.ID), rec, nil); err != nil {
		return storeErr(err)
	}
	if err := b.Set(KeyTimeIndex(s.partition, ev.SortKey), rec, nil); err != nil {
		return storeErr(err)
	}
	if !ev.Expiry.IsZero() {
		if err := b.Set(KeyExpiry(ev.Expiry.UnixMilli(), ev.ID), nil, nil); err != nil {
			return storeErr(err)
		}
	}
	if staleExpiry != 0 {
		if err := b.Delete(KeyExpiry(staleExpiry, ev.ID), nil); err != nil {
			return storeErr(err)
		}
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return storeErr(err)
	}
	s.notify(Change{Kind: kind, Event: *ev})
	return nil
}

// TimeIndexKey returns the time-index key an event with the given sort
// position occupies. Callers use it to build resume positions from returned
// events.
func (s *Store) TimeIndexKey(sort id.ID) []byte {
	return KeyTimeIndex(s.partition, sort)
}

// GetEvent loads one event by id.
func (s *Store) GetEvent(eventID string) (Event, error) {
	raw, err := s.db.Get(KeyEvent(eventID))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return Event{}, ErrNotFound
		}
		return Event{}, storeErr(err)
	}
	ev, ok := DecodeEvent(raw)
	if !ok {
		return Event{}, ErrCorruptRecord
	}
	return ev, nil
}

// DeleteEvent removes the record from the primary, time, and expiry
// keyspaces in one commit. Absence is not an error.
func (s *Store) DeleteEvent(ctx context.Context, eventID string) error {
	raw, err := s.db.Get(KeyEvent(eventID))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return nil
		}
		return storeErr(err)
	}
	ev, ok := DecodeEvent(raw)
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete(KeyEvent(eventID), nil); err != nil {
		return storeErr(err)
	}
	if ok {
		if err := b.Delete(KeyTimeIndex(s.partition, ev.SortKey), nil); err != nil {
			return storeErr(err)
		}
		if !ev.Expiry.IsZero() {
			if err := b.Delete(KeyExpiry(ev.Expiry.UnixMilli(), eventID), nil); err != nil {
				return storeErr(err)
			}
		}
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return storeErr(err)
	}
	return nil
}

// QueryRange scans the time index descending between lower and upper
// (inclusive). startAfter, when present, is the time-index key of the last
// item a previous scan returned; the scan resumes strictly below it. At most
// min(limit, store page cap) items are returned. The second return value is
// the resume key, present iff more matching entries remain. A context
// cancelled before a fresh scan consumes anything is an error, never an
// empty drained result.
func (s *Store) QueryRange(ctx context.Context, lower, upper id.ID, limit int, startAfter []byte) ([]Event, []byte, error) {
	if limit <= 0 || limit > s.pageItems {
		limit = s.pageItems
	}
	lo := KeyTimeIndex(s.partition, lower)
	hi := KeyTimeIndex(s.partition, upper)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: append(hi, 0x00)})
	if err != nil {
		return nil, nil, storeErr(err)
	}
	defer it.Close()

	var valid bool
	if len(startAfter) > 0 {
		valid = it.SeekLT(startAfter)
	} else {
		valid = it.Last()
	}

	items := make([]Event, 0, limit)
	var lastKey []byte
	for valid && len(items) < limit {
		if err := ctx.Err(); err != nil {
			break
		}
		if ev, ok := DecodeEvent(it.Value()); ok {
			items = append(items, ev)
			lastKey = append(lastKey[:0], it.Key()...)
		} else {
			s.logger.Warn("skipping corrupt time-index entry")
		}
		valid = it.Prev()
	}
	if !valid {
		return items, nil, nil
	}
	if lastKey == nil {
		if len(startAfter) == 0 {
			// A fresh scan interrupted before consuming anything has no
			// position to hand back; reporting it drained would drop the
			// whole window.
			return nil, nil, ctx.Err()
		}
		// Interrupted mid-traversal: hold the caller's position.
		return items, startAfter, nil
	}
	return items, lastKey, nil
}
