// Package store defines interfaces for persisting telemetry records.
// Implementations live in other packages; this package must not import
// database drivers or concrete clients.
package store
