// Package filter compiles CEL expressions used to gate event delivery and
// history results.
package filter

import (
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/jswanson6857/shop-analytics/internal/eventstore"
)

// Filter wraps a compiled CEL program evaluated against events. The zero
// value and any filter compiled from an empty expression match everything.
type Filter struct {
	prog    cel.Program
	enabled bool
}

// Compile parses and checks a CEL expression over the event variables below.
// An empty expression yields a disabled filter that matches all events.
//
//	source   string   classified event source
//	method   string   HTTP method the hook arrived with
//	id       string   event id
//	ts_ms    int      event timestamp in unix ms
//	headers  map      sanitized request headers
//	payload  dyn      parsed JSON body
//	now_ms   int      evaluation time in unix ms
func Compile(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("source", cel.StringType),
		cel.Variable("method", cel.StringType),
		cel.Variable("id", cel.StringType),
		cel.Variable("ts_ms", cel.IntType),
		cel.Variable("headers", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("payload", cel.DynType),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return Filter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return Filter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return Filter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return Filter{}, err
	}
	return Filter{prog: prog, enabled: true}, nil
}

// Enabled reports whether the filter carries a compiled expression.
func (f Filter) Enabled() bool { return f.enabled }

// Match evaluates the filter against an event. Evaluation errors count as a
// non-match rather than failing the caller.
func (f Filter) Match(ev eventstore.Event) bool {
	if !f.enabled {
		return true
	}
	headers := ev.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	var payload any
	if ev.Payload != nil {
		payload = ev.Payload
	}
	out, _, err := f.prog.Eval(map[string]any{
		"source":  ev.Source,
		"method":  ev.HTTPMethod,
		"id":      ev.ID,
		"ts_ms":   ev.Timestamp.UnixMilli(),
		"headers": headers,
		"payload": payload,
		"now_ms":  time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
