// Package snapshot models one sample of the external milestone flag document
// and the Fetcher contract used to retrieve it.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JakeFAU/milestone-tracker/internal/catalog"
)

// ErrMalformed signals a status document that is not a JSON object.
var ErrMalformed = errors.New("status document is malformed")

// Snapshot maps every catalog key to its completion flag.
type Snapshot map[string]bool

// Fetcher retrieves the current snapshot from an external source. A non-nil
// error means "no new information this tick".
type Fetcher interface {
	Fetch(ctx context.Context) (Snapshot, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context) (Snapshot, error)

// Fetch calls f(ctx).
func (f FetcherFunc) Fetch(ctx context.Context) (Snapshot, error) {
	return f(ctx)
}

// Decode parses a raw status document against the catalog. Only the JSON
// boolean true marks a milestone complete; unknown keys are ignored and
// missing keys are false.
func Decode(c *catalog.Catalog, raw []byte) (Snapshot, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: document is null", ErrMalformed)
	}
	snap := make(Snapshot, c.Len())
	for _, m := range c.All() {
		var flag bool
		if v, ok := doc[m.Key]; ok {
			if err := json.Unmarshal(v, &flag); err != nil {
				flag = false
			}
		}
		snap[m.Key] = flag
	}
	return snap, nil
}

// FromFlags builds a Snapshot from positional flags in catalog order. Extra
// flags are ignored and missing ones are false.
func FromFlags(c *catalog.Catalog, flags ...bool) Snapshot {
	snap := make(Snapshot, c.Len())
	for i, m := range c.All() {
		snap[m.Key] = i < len(flags) && flags[i]
	}
	return snap
}

// Clone returns an independent copy.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Completed reports whether key is marked complete. Absent keys are false.
func (s Snapshot) Completed(key string) bool {
	return s[key]
}
