// Package monitoring provides Prometheus metrics for the engine: navigation
// verdict counters, filter compile/block stats, session persistence health,
// and favicon fetch outcomes.
package monitoring
