// Package source groups the snapshot.Fetcher implementations: a local file
// (the default, written by the tooling that tracks progress), an HTTP endpoint,
// and a Google Cloud Storage object. Every source returns raw bytes that are
// decoded with snapshot.Decode, so the completion rules are identical no matter
// where the document lives.
package source
