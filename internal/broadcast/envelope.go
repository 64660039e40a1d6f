package broadcast

import (
	"encoding/json"
	"time"

	"github.com/jswanson6857/shop-analytics/internal/eventstore"
)

// envelope is the wire shape pushed to subscribers. It projects only the
// event fields subscribers should see; storage internals such as expiry,
// sort position, and the raw body stay server-side.
type envelope struct {
	Type  string        `json:"type"`
	Event envelopeEvent `json:"event"`
}

type envelopeEvent struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	Source     string            `json:"source"`
	HTTPMethod string            `json:"httpMethod,omitempty"`
	SourceIP   string            `json:"sourceIp,omitempty"`
	UserAgent  string            `json:"userAgent,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Payload    map[string]any    `json:"payload,omitempty"`
	RequestID  string            `json:"requestId,omitempty"`
}

// EncodeEnvelope renders the subscriber-facing JSON for one event.
func EncodeEnvelope(ev eventstore.Event) ([]byte, error) {
	return json.Marshal(envelope{
		Type: "event",
		Event: envelopeEvent{
			ID:         ev.ID,
			Timestamp:  ev.Timestamp,
			Source:     ev.Source,
			HTTPMethod: ev.HTTPMethod,
			SourceIP:   ev.SourceIP,
			UserAgent:  ev.UserAgent,
			Headers:    ev.Headers,
			Payload:    ev.Payload,
			RequestID:  ev.RequestID,
		},
	})
}
