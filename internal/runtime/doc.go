// Package runtime assembles storage and the domain services into a
// single-node instance: one Pebble database shared by the event store and
// the connection registry, a broadcast engine watching the store, and the
// query and ingestion services on top.
package runtime
