// Package serverrun boots the single-node server: runtime, HTTP surface,
// and the background expiry reaper.
package serverrun
