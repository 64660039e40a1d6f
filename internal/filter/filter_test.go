package filter

import (
	"testing"
	"time"

	"github.com/jswanson6857/shop-analytics/internal/eventstore"
)

func sampleEvent() eventstore.Event {
	return eventstore.Event{
		ID:         "evt-1",
		Timestamp:  time.Now().UTC(),
		Source:     "stripe",
		HTTPMethod: "POST",
		Headers:    map[string]string{"content-type": "application/json"},
		Payload:    map[string]any{"object": "charge", "amount": 1200.0},
	}
}

func TestEmptyExpressionMatchesAll(t *testing.T) {
	f, err := Compile("   ")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if f.Enabled() {
		t.Fatal("empty filter should be disabled")
	}
	if !f.Match(sampleEvent()) {
		t.Fatal("disabled filter must match")
	}
}

func TestSourceFilter(t *testing.T) {
	f, err := Compile(`source == "stripe"`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !f.Match(sampleEvent()) {
		t.Fatal("stripe event should match")
	}
	ev := sampleEvent()
	ev.Source = "github"
	if f.Match(ev) {
		t.Fatal("github event should not match")
	}
}

func TestPayloadFieldFilter(t *testing.T) {
	f, err := Compile(`payload.object == "charge" && payload.amount > 1000.0`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !f.Match(sampleEvent()) {
		t.Fatal("expected payload match")
	}
	ev := sampleEvent()
	ev.Payload = nil
	if f.Match(ev) {
		t.Fatal("nil payload should evaluate to non-match, not error")
	}
}

func TestInvalidExpression(t *testing.T) {
	if _, err := Compile(`source ==`); err == nil {
		t.Fatal("expected compile error")
	}
}
