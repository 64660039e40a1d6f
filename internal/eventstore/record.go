package eventstore

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"time"

	"github.com/jswanson6857/shop-analytics/pkg/id"
)

// Record encoding: varint headerLen | header | body | crc32c(header|body)
//
// The header is fixed 24 bytes: sort ID (16) followed by expiry ms (8 BE).
// The body is the event JSON. Keeping sort position and expiry outside the
// JSON lets the reaper and index scans work without decoding the body.

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

const recordHeaderLen = 24

func encodeFrame(header, body []byte) []byte {
	out := make([]byte, 0, 10+len(header)+len(body)+4)
	var tmp [10]byte
	n := binary.PutUvarint(tmp[:], uint64(len(header)))
	out = append(out, tmp[:n]...)
	out = append(out, header...)
	out = append(out, body...)

	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, body)
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc)
	out = append(out, crcb[:]...)
	return out
}

func decodeFrame(b []byte) (header, body []byte, ok bool) {
	if len(b) < 1+4 {
		return nil, nil, false
	}
	hlen, n := binary.Uvarint(b)
	if n <= 0 {
		return nil, nil, false
	}
	if int(n)+int(hlen)+4 > len(b) {
		return nil, nil, false
	}
	header = b[n : n+int(hlen)]
	body = b[n+int(hlen) : len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, body)
	if crc != expect {
		return nil, nil, false
	}
	return append([]byte(nil), header...), append([]byte(nil), body...), true
}

// EncodeEvent frames an event for storage.
func EncodeEvent(ev Event) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	header := make([]byte, recordHeaderLen)
	copy(header[:16], ev.SortKey[:])
	binary.BigEndian.PutUint64(header[16:24], uint64(ev.Expiry.UnixMilli()))
	return encodeFrame(header, body), nil
}

// DecodeEvent reverses EncodeEvent. Returns false on framing or checksum
// corruption.
func DecodeEvent(b []byte) (Event, bool) {
	header, body, ok := decodeFrame(b)
	if !ok || len(header) < recordHeaderLen {
		return Event{}, false
	}
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, false
	}
	sort, ok := id.FromBytes(header[:16])
	if !ok {
		return Event{}, false
	}
	ev.SortKey = sort
	ev.Expiry = time.UnixMilli(int64(binary.BigEndian.Uint64(header[16:24]))).UTC()
	return ev, true
}
