package history

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jswanson6857/shop-analytics/internal/eventstore"
	"github.com/jswanson6857/shop-analytics/internal/filter"
	"github.com/jswanson6857/shop-analytics/pkg/id"
	logpkg "github.com/jswanson6857/shop-analytics/pkg/log"
)

// Strategy selects how Exhaustive walks the time window.
const (
	StrategySequential = "sequential"
	StrategySegmented  = "segmented"
)

// Options configures an Engine from the history section of the config.
type Options struct {
	DefaultLimit  int
	MaxLimit      int
	DefaultWindow time.Duration
	MaxWindow     time.Duration
	// StorePageItems is the per-scan batch size used by Exhaustive.
	StorePageItems int
	// ExhaustiveMaxScan caps raw items examined in one Exhaustive call.
	ExhaustiveMaxScan int
	Strategy          string
	Segments          int
	// Secret keys the continuation token HMAC.
	Secret []byte
	Logger logpkg.Logger
	Now    func() time.Time
}

// Query is one history request after HTTP-level parsing.
type Query struct {
	// Limit is the number of events wanted; 0 means the default, values
	// above the configured max are clamped.
	Limit int
	// Window is how far back from the upper bound to scan; 0 means the
	// default, values above the configured max are clamped.
	Window time.Duration
	// Token resumes a previous traversal. Empty starts a new one.
	Token string
	// Filter is an optional CEL expression applied after the empty-payload
	// filter.
	Filter string
}

// Result is one page of history, newest first.
type Result struct {
	Events []eventstore.Event
	// NextToken resumes the traversal; empty when the window is exhausted.
	NextToken string
}

// Engine answers paginated history queries over the event store's time
// index.
type Engine struct {
	store  *eventstore.Store
	logger logpkg.Logger
	opts   Options
}

// NewEngine builds a history engine. Secret must be non-empty; tokens from
// one secret never validate under another.
func NewEngine(store *eventstore.Store, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logpkg.NewLogger().With(logpkg.Component("history"))
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 50
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 100
	}
	if opts.DefaultWindow <= 0 {
		opts.DefaultWindow = 24 * time.Hour
	}
	if opts.MaxWindow <= 0 {
		opts.MaxWindow = 168 * time.Hour
	}
	if opts.StorePageItems <= 0 {
		opts.StorePageItems = 100
	}
	if opts.ExhaustiveMaxScan <= 0 {
		opts.ExhaustiveMaxScan = 1000
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategySequential
	}
	if opts.Segments <= 0 {
		opts.Segments = 4
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{store: store, logger: opts.Logger, opts: opts}
}

func (e *Engine) clamp(q Query) (limit int, window time.Duration) {
	limit = q.Limit
	if limit <= 0 {
		limit = e.opts.DefaultLimit
	}
	if limit > e.opts.MaxLimit {
		limit = e.opts.MaxLimit
	}
	window = q.Window
	if window <= 0 {
		window = e.opts.DefaultWindow
	}
	if window > e.opts.MaxWindow {
		window = e.opts.MaxWindow
	}
	return limit, window
}

// resolve turns a query into scan bounds and a resume key. A token pins the
// window's upper bound to the first page's time so later pages traverse the
// same range.
func (e *Engine) resolve(q Query, window time.Duration) (lower, upper id.ID, startAfter []byte, upperMs int64, err error) {
	if q.Token != "" {
		p, derr := decodeToken(e.opts.Secret, q.Token)
		if derr != nil {
			return id.ID{}, id.ID{}, nil, 0, derr
		}
		upperMs = p.upperMs
		startAfter = p.lastKey
	} else {
		upperMs = e.opts.Now().UnixMilli()
	}
	lower = id.FromMs(upperMs - window.Milliseconds())
	upper = id.MaxForMs(upperMs)
	return lower, upper, startAfter, upperMs, nil
}

func compileFilter(expr string) (filter.Filter, error) {
	if expr == "" {
		return filter.Filter{}, nil
	}
	f, err := filter.Compile(expr)
	if err != nil {
		return filter.Filter{}, errors.Join(ErrInvalidFilter, err)
	}
	return f, nil
}

// ErrInvalidFilter reports a history filter expression that does not
// compile.
var ErrInvalidFilter = errors.New("invalid filter expression")

// keep reports whether an event survives the empty-payload filter and the
// optional CEL filter.
func keep(ev eventstore.Event, f filter.Filter) bool {
	return ev.HasPayload() && f.Match(ev)
}

// Page answers a capped single-page query: one store scan, empty-payload
// events dropped afterward. The page may undershoot the limit and is never
// padded; NextToken is present exactly when the store had more entries in
// range.
func (e *Engine) Page(ctx context.Context, q Query) (Result, error) {
	limit, window := e.clamp(q)
	lower, upper, startAfter, upperMs, err := e.resolve(q, window)
	if err != nil {
		return Result{}, err
	}
	f, err := compileFilter(q.Filter)
	if err != nil {
		return Result{}, err
	}

	items, resume, err := e.store.QueryRange(ctx, lower, upper, limit, startAfter)
	if err != nil {
		return Result{}, err
	}

	events := make([]eventstore.Event, 0, len(items))
	for _, ev := range items {
		if keep(ev, f) {
			events = append(events, ev)
		}
	}
	res := Result{Events: events}
	if resume != nil {
		res.NextToken = encodeToken(e.opts.Secret, tokenPayload{upperMs: upperMs, lastKey: resume})
	}
	return res, nil
}

// Exhaustive pages through the window until the limit is met with events
// that survive filtering, the raw-scan ceiling is reached, or the context
// deadline fires. A deadline yields the partial result with a resumable
// token rather than an error.
func (e *Engine) Exhaustive(ctx context.Context, q Query) (Result, error) {
	limit, window := e.clamp(q)
	lower, upper, startAfter, upperMs, err := e.resolve(q, window)
	if err != nil {
		return Result{}, err
	}
	f, err := compileFilter(q.Filter)
	if err != nil {
		return Result{}, err
	}

	var events []eventstore.Event
	var resume []byte
	switch e.opts.Strategy {
	case StrategySegmented:
		events, resume, err = e.scanSegmented(ctx, lower, upper, limit, startAfter, f)
	default:
		events, resume, err = e.scanSequential(ctx, lower, upper, limit, e.opts.ExhaustiveMaxScan, startAfter, f)
	}
	if err != nil {
		return Result{}, err
	}

	res := Result{Events: events}
	if resume != nil {
		res.NextToken = encodeToken(e.opts.Secret, tokenPayload{upperMs: upperMs, lastKey: resume})
	}
	return res, nil
}

// scanSequential follows store resume keys in order, newest first. The
// returned key is the position to resume strictly below; nil means the
// window is drained.
func (e *Engine) scanSequential(ctx context.Context, lower, upper id.ID, limit, maxScan int, startAfter []byte, f filter.Filter) ([]eventstore.Event, []byte, error) {
	var events []eventstore.Event
	cursor := startAfter
	scanned := 0
	for {
		items, resume, err := e.store.QueryRange(ctx, lower, upper, e.opts.StorePageItems, cursor)
		if err != nil {
			return nil, nil, err
		}
		scanned += len(items)
		for i, ev := range items {
			if keep(ev, f) {
				events = append(events, ev)
				if len(events) == limit {
					// Items remain after this one, in this page or beyond.
					if i < len(items)-1 || resume != nil {
						return events, e.store.TimeIndexKey(ev.SortKey), nil
					}
					return events, nil, nil
				}
			}
		}
		if resume == nil {
			return events, nil, nil
		}
		if scanned >= maxScan || ctx.Err() != nil {
			return events, resume, nil
		}
		cursor = resume
	}
}

// scanSegmented splits the window into disjoint sub-ranges scanned
// concurrently and concatenates newest first. Segments never overlap, so the
// merged result needs no cross-segment ordering beyond concatenation.
func (e *Engine) scanSegmented(ctx context.Context, lower, upper id.ID, limit int, startAfter []byte, f filter.Filter) ([]eventstore.Event, []byte, error) {
	segments := e.opts.Segments
	lowMs := lower.TimestampMs()
	highMs := upper.TimestampMs()
	if highMs <= lowMs || segments < 2 {
		return e.scanSequential(ctx, lower, upper, limit, e.opts.ExhaustiveMaxScan, startAfter, f)
	}
	// A resumed traversal restarts below the cursor; segments above it would
	// only re-yield already-delivered events.
	if len(startAfter) > 0 {
		if sortID, ok := eventstore.SortFromTimeIndexKey(startAfter); ok {
			if ms := sortID.TimestampMs(); ms < highMs {
				highMs = ms
			}
		}
	}

	span := (highMs - lowMs + int64(segments)) / int64(segments)
	perSegScan := e.opts.ExhaustiveMaxScan / segments
	if perSegScan < e.opts.StorePageItems {
		perSegScan = e.opts.StorePageItems
	}

	type segResult struct {
		events []eventstore.Event
		resume []byte
		err    error
	}
	results := make([]segResult, segments)
	var wg sync.WaitGroup
	for i := 0; i < segments; i++ {
		segLow := lowMs + int64(i)*span
		segHigh := segLow + span - 1
		if segHigh > highMs {
			segHigh = highMs
		}
		if segLow > segHigh {
			continue
		}
		var cursor []byte
		if i == segments-1 {
			cursor = startAfter
		}
		wg.Add(1)
		go func(i int, lo, hi id.ID, cursor []byte) {
			defer wg.Done()
			ev, resume, err := e.scanSequential(ctx, lo, hi, limit, perSegScan, cursor, f)
			results[i] = segResult{events: ev, resume: resume, err: err}
		}(i, id.FromMs(segLow), id.MaxForMs(segHigh), cursor)
	}
	wg.Wait()

	for i := range results {
		if results[i].err != nil {
			return nil, nil, results[i].err
		}
	}
	// When a segment stops early, everything older must be discarded: a
	// resume position below the unscanned remainder would skip it forever.
	// The newest incomplete segment's own position carries the traversal.
	oldest := 0
	var resume []byte
	for i := segments - 1; i >= 0; i-- {
		if results[i].resume != nil {
			oldest = i
			resume = results[i].resume
			break
		}
	}

	var events []eventstore.Event
	// Newest segment first; each segment is already descending.
	for i := segments - 1; i >= oldest; i-- {
		events = append(events, results[i].events...)
	}
	sort.SliceStable(events, func(a, b int) bool {
		return events[a].SortKey.Compare(events[b].SortKey) > 0
	})
	if len(events) > limit {
		events = events[:limit]
		resume = e.store.TimeIndexKey(events[len(events)-1].SortKey)
	}
	return events, resume, nil
}
