package eventstore

import (
	"encoding/binary"

	"github.com/jswanson6857/shop-analytics/pkg/id"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
//   - ev/{uuid}                     (primary event record)
//   - ts/{partition}/{sort_id16}    (time index, value = encoded record)
//   - exp/{expiry_ms_be8}/{uuid}    (expiry index for the reaper)
//
// The time index projects the full record so range scans never need a
// second point lookup, at the cost of storing each record twice.

var (
	evPrefix  = []byte("ev/")
	tsPrefix  = []byte("ts/")
	expPrefix = []byte("exp/")
	sep       = byte('/')
)

// KeyEvent builds the primary record key.
func KeyEvent(eventID string) []byte {
	k := make([]byte, 0, len(evPrefix)+len(eventID))
	k = append(k, evPrefix...)
	k = append(k, eventID...)
	return k
}

// KeyTimeIndex builds the time-index key for a partition and sort position.
func KeyTimeIndex(partition string, sort id.ID) []byte {
	k := make([]byte, 0, len(tsPrefix)+len(partition)+17)
	k = append(k, tsPrefix...)
	k = append(k, partition...)
	k = append(k, sep)
	k = append(k, sort[:]...)
	return k
}

// KeyExpiry builds the expiry-index key, big-endian so the reaper scans
// oldest-first.
func KeyExpiry(expiryMs int64, eventID string) []byte {
	k := make([]byte, 0, len(expPrefix)+9+len(eventID))
	k = append(k, expPrefix...)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(expiryMs))
	k = append(k, b[:]...)
	k = append(k, sep)
	k = append(k, eventID...)
	return k
}

// SortFromTimeIndexKey extracts the 16-byte sort ID from a time-index key.
func SortFromTimeIndexKey(key []byte) (id.ID, bool) {
	if len(key) < 16 {
		return id.ID{}, false
	}
	return id.FromBytes(key[len(key)-16:])
}
