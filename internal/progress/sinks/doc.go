// Package sinks implements concrete telemetry consumers: structured logs,
// Prometheus counters, repository-backed storage, Pub/Sub fan-out, and HTTP
// form submission. Each sink satisfies progress.Sink; errors are returned to
// the Hub, which logs and drops them.
package sinks
