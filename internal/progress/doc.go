// Package progress carries milestone telemetry records from the tracker to
// pluggable sinks. The Hub accepts records without ever blocking the caller,
// batches them on a background goroutine, and fans each batch out to sinks
// such as structured logs, Prometheus counters, Postgres, Pub/Sub, or an HTTP
// form endpoint. Delivery is best-effort: sink failures are logged and the
// batch is dropped, never retried.
package progress
