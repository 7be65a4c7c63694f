// Package server implements the HTTP surface of the service: the
// Telegram webhook that turns updates into queued jobs or synchronous
// expense entries, and the monitoring endpoints (health, stats, job
// lookup, sanitized config, Prometheus metrics).
package server
