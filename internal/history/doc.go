// Package history answers paginated queries over stored events.
//
// Results come back newest first within a bounded time window. Page does one
// capped store scan; Exhaustive keeps scanning until enough events survive
// filtering or a ceiling is hit. Continuation tokens are opaque, HMAC-tagged
// resume positions that also pin the window's upper bound, so a traversal
// started at one moment stays stable while new events keep arriving.
package history
