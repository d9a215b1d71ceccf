// Package gcs reads the status document from a Google Cloud Storage object.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/milestone-tracker/internal/catalog"
	"github.com/JakeFAU/milestone-tracker/internal/snapshot"
)

const maxDocumentBytes = 1 << 20

// Config captures the object location.
type Config struct {
	Bucket string
	Object string
}

// ObjectReader opens an object for reading. *storage.Client is adapted by
// ClientReader; tests substitute a fake.
type ObjectReader interface {
	NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error)
}

// ClientReader adapts a storage.Client to ObjectReader.
type ClientReader struct {
	Client *storage.Client
}

// NewReader opens bucket/object.
func (r ClientReader) NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	reader, err := r.Client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open gs://%s/%s: %w", bucket, object, err)
	}
	return reader, nil
}

// Source fetches the status document from GCS on every Fetch.
type Source struct {
	reader  ObjectReader
	bucket  string
	object  string
	catalog *catalog.Catalog
}

// New creates a GCS-backed status source.
func New(reader ObjectReader, cfg Config, c *catalog.Catalog) (*Source, error) {
	if reader == nil {
		return nil, fmt.Errorf("object reader is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if strings.TrimSpace(cfg.Object) == "" {
		return nil, fmt.Errorf("object name is required")
	}
	if c == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	return &Source{reader: reader, bucket: cfg.Bucket, object: cfg.Object, catalog: c}, nil
}

// URI returns the gs:// location of the document.
func (s *Source) URI() string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.object)
}

// Fetch downloads and decodes the object. storage.ErrObjectNotExist is
// surfaced wrapped so callers can match it.
func (s *Source) Fetch(ctx context.Context) (snapshot.Snapshot, error) {
	rc, err := s.reader.NewReader(ctx, s.bucket, s.object)
	if err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(io.LimitReader(rc, maxDocumentBytes))
	closeErr := rc.Close()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.URI(), errors.Join(err, closeErr))
	}
	snap, err := snapshot.Decode(s.catalog, raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.URI(), err)
	}
	return snap, nil
}
