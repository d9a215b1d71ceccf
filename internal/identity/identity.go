// Package identity resolves the name and email attached to telemetry records.
// Lookups are best-effort: callers substitute an empty Identity on failure.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Identity is the user identity attached to a telemetry record.
type Identity struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Lookup resolves the current identity.
type Lookup interface {
	Lookup(ctx context.Context) (Identity, error)
}

// Resolve runs l and falls back to an empty Identity on any failure. The
// returned error is informational only.
func Resolve(ctx context.Context, l Lookup) (Identity, error) {
	if l == nil {
		return Identity{}, nil
	}
	id, err := l.Lookup(ctx)
	if err != nil {
		return Identity{}, err
	}
	return id, nil
}

// Static always returns the same identity.
type Static Identity

// Lookup returns the static identity.
func (s Static) Lookup(context.Context) (Identity, error) {
	return Identity(s), nil
}

// FileLookup reads {"name": ..., "email": ...} from a local JSON file. Other
// keys in the file are ignored; missing or non-string fields become "".
type FileLookup struct {
	Path string
}

// Lookup reads and parses the identity file.
func (f FileLookup) Lookup(ctx context.Context) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, fmt.Errorf("identity lookup: %w", err)
	}
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return Identity{}, fmt.Errorf("read identity file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes an identity document, tolerating non-string values.
func Parse(raw []byte) (Identity, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Identity{}, fmt.Errorf("parse identity: %w", err)
	}
	name, _ := doc["name"].(string)
	email, _ := doc["email"].(string)
	return Identity{Name: name, Email: email}, nil
}

// HTTPLookup GETs an identity document such as the /api/userinfo endpoint.
type HTTPLookup struct {
	URL    string
	Client *http.Client
}

// NewHTTPLookup creates an HTTPLookup with a bounded client.
func NewHTTPLookup(url string, timeout time.Duration) *HTTPLookup {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPLookup{URL: url, Client: &http.Client{Timeout: timeout}}
}

// Lookup performs the request. Non-2xx statuses are failures.
func (h *HTTPLookup) Lookup(ctx context.Context) (Identity, error) {
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return Identity{}, fmt.Errorf("build identity request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("get identity: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Identity{}, fmt.Errorf("get identity: unexpected status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Identity{}, fmt.Errorf("read identity: %w", err)
	}
	return Parse(raw)
}
