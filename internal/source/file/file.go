// Package file reads the status document from the local filesystem.
package file

import (
	"context"
	"fmt"
	"os"

	"github.com/JakeFAU/milestone-tracker/internal/catalog"
	"github.com/JakeFAU/milestone-tracker/internal/snapshot"
)

// Source reads a JSON status document from disk on every Fetch.
type Source struct {
	path    string
	catalog *catalog.Catalog
}

// New creates a file Source for path.
func New(path string, c *catalog.Catalog) (*Source, error) {
	if path == "" {
		return nil, fmt.Errorf("status file path is required")
	}
	if c == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	return &Source{path: path, catalog: c}, nil
}

// Path returns the watched file path.
func (s *Source) Path() string {
	return s.path
}

// Fetch reads and decodes the file. A missing file is an error; callers treat
// it as "no update".
func (s *Source) Fetch(ctx context.Context) (snapshot.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fetch status file: %w", err)
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read status file: %w", err)
	}
	snap, err := snapshot.Decode(s.catalog, raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return snap, nil
}
