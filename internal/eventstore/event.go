package eventstore

import (
	"time"

	"github.com/jswanson6857/shop-analytics/pkg/id"
)

// Event is one persisted ingested occurrence. Events are created once by the
// ingestion front door and never mutated; only the store's expiry mechanism
// removes them.
type Event struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	Source     string            `json:"source"`
	HTTPMethod string            `json:"httpMethod,omitempty"`
	SourceIP   string            `json:"sourceIp,omitempty"`
	UserAgent  string            `json:"userAgent,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Query      map[string]string `json:"query,omitempty"`
	Payload    map[string]any    `json:"payload,omitempty"`
	RawBody    string            `json:"rawBody,omitempty"`
	RequestID  string            `json:"requestId,omitempty"`
	Expiry     time.Time         `json:"expiry"`

	// SortKey is the event's position in the time index. Assigned by the
	// store on first put; zero for events not yet persisted.
	SortKey id.ID `json:"-"`
}

// HasPayload reports whether the event carries a useful structured body.
// History queries drop events without one.
func (e *Event) HasPayload() bool { return len(e.Payload) > 0 }

// ChangeKind tags a change notification emitted by the store.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeExpired ChangeKind = "expired"
)

// Change describes one committed mutation of the store.
type Change struct {
	Kind  ChangeKind
	Event Event
}
