package eventstore

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/cockroachdb/pebble"

	logpkg "github.com/jswanson6857/shop-analytics/pkg/log"
)

// ReapExpired removes events whose expiry is at or before now, up to batch
// entries per call, and emits an expired change for each. It returns the
// number of events removed. Stale expiry-index entries pointing at missing or
// rewritten events are cleaned up without counting.
func (s *Store) ReapExpired(ctx context.Context, now time.Time, batch int) (int, error) {
	if batch <= 0 {
		batch = 512
	}
	cutoff := now.UnixMilli()

	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: expPrefix,
		UpperBound: append(append([]byte(nil), expPrefix...), 0xff),
	})
	if err != nil {
		return 0, storeErr(err)
	}
	defer it.Close()

	type victim struct {
		expKey []byte
		ev     Event
		live   bool
	}
	var victims []victim
	for valid := it.First(); valid && len(victims) < batch; valid = it.Next() {
		if err := ctx.Err(); err != nil {
			break
		}
		key := it.Key()
		if len(key) < len(expPrefix)+9 {
			continue
		}
		ms := int64(binary.BigEndian.Uint64(key[len(expPrefix) : len(expPrefix)+8]))
		if ms > cutoff {
			break
		}
		eventID := string(key[len(expPrefix)+9:])
		v := victim{expKey: append([]byte(nil), key...)}
		if ev, err := s.GetEvent(eventID); err == nil {
			// An event rewritten with a later expiry keeps living; only its
			// stale index entry goes.
			if ev.Expiry.UnixMilli() == ms {
				v.ev = ev
				v.live = true
			}
		}
		victims = append(victims, v)
	}
	if len(victims) == 0 {
		return 0, nil
	}

	b := s.db.NewBatch()
	defer b.Close()
	removed := 0
	for _, v := range victims {
		if err := b.Delete(v.expKey, nil); err != nil {
			return 0, storeErr(err)
		}
		if !v.live {
			continue
		}
		if err := b.Delete(KeyEvent(v.ev.ID), nil); err != nil {
			return 0, storeErr(err)
		}
		if err := b.Delete(KeyTimeIndex(s.partition, v.ev.SortKey), nil); err != nil {
			return 0, storeErr(err)
		}
		removed++
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return 0, storeErr(err)
	}
	for _, v := range victims {
		if v.live {
			s.notify(Change{Kind: ChangeExpired, Event: v.ev})
		}
	}
	if removed > 0 {
		s.logger.Info("expired events reaped", logpkg.Int("count", removed))
	}
	return removed, nil
}
