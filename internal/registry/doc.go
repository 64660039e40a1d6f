// Package registry persists live subscriber connections.
//
// Rows carry a lease deadline renewed on traffic; a row whose lease lapses is
// treated as disconnected even if no close frame ever arrived. The broadcast
// path reads ListActive before each fan-out, so registry rows are the single
// source of truth for delivery targets.
package registry
