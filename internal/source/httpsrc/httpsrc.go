// Package httpsrc fetches the status document over HTTP.
package httpsrc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/JakeFAU/milestone-tracker/internal/catalog"
	"github.com/JakeFAU/milestone-tracker/internal/snapshot"
)

const maxDocumentBytes = 1 << 20

// Config controls the HTTP source.
type Config struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

// Source GETs the status document on every Fetch.
type Source struct {
	url     string
	client  *http.Client
	catalog *catalog.Catalog
}

// New builds an HTTP Source.
func New(cfg Config, c *catalog.Catalog) (*Source, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("status url is required")
	}
	if c == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 3 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Source{url: cfg.URL, client: client, catalog: c}, nil
}

// Fetch performs the GET. Transport errors and non-2xx statuses are failures.
func (s *Source) Fetch(ctx context.Context) (snapshot.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get status document: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("get status document: unexpected status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("read status document: %w", err)
	}
	snap, err := snapshot.Decode(s.catalog, raw)
	if err != nil {
		return nil, fmt.Errorf("decode status document: %w", err)
	}
	return snap, nil
}
