// Package broadcast fans newly stored events out to live subscribers.
//
// Each fan-out snapshots the registry, delivers through a bounded worker
// pool with a per-delivery timeout, and classifies each outcome as
// delivered, gone, or transient. Gone connections are unregistered after the
// fan-out; transient failures are logged and never retried.
package broadcast
