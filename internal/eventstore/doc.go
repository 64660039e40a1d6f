// Package eventstore persists ingested events in Pebble.
//
// Each event is written twice: under its primary key for point lookups and
// under a time-ordered index key for descending range scans. A third keyspace
// orders events by expiry so a periodic reaper can drop them oldest-first.
// Committed mutations fan out to registered watchers through a buffered
// dispatcher; a full buffer drops the notification rather than blocking the
// writer.
package eventstore
