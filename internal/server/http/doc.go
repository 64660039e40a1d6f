// Package httpserver exposes the runtime over HTTP: hook intake on
// /v1/hooks, history on /v1/events/history, live subscriptions on /v1/ws,
// plus health and Prometheus metrics.
package httpserver
