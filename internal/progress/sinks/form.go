package sinks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/milestone-tracker/internal/policy/ratelimit"
	"github.com/JakeFAU/milestone-tracker/internal/progress"
)

// isoMillis matches the JavaScript Date.toISOString layout expected by form backends.
const isoMillis = "2006-01-02T15:04:05.000Z"

// FormFields maps record attributes to form field names, e.g. Google Forms
// "entry.NNN" identifiers.
type FormFields struct {
	Name      string
	Email     string
	Milestone string
	Timestamp string
}

// FormConfig configures the FormSink.
type FormConfig struct {
	URL     string
	Fields  FormFields
	Timeout time.Duration
	Client  *http.Client
	Limiter *ratelimit.Limiter
}

// FormSink submits one application/x-www-form-urlencoded POST per record.
type FormSink struct {
	url     string
	fields  FormFields
	client  *http.Client
	limiter *ratelimit.Limiter
}

// NewFormSink validates cfg and builds the sink.
func NewFormSink(cfg FormConfig) (*FormSink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("form url is required")
	}
	if _, err := url.ParseRequestURI(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid form url: %w", err)
	}
	fields := cfg.Fields
	if fields.Name == "" {
		fields.Name = "name"
	}
	if fields.Email == "" {
		fields.Email = "email"
	}
	if fields.Milestone == "" {
		fields.Milestone = "milestone"
	}
	if fields.Timestamp == "" {
		fields.Timestamp = "timestamp"
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.Config{})
	}
	return &FormSink{url: cfg.URL, fields: fields, client: client, limiter: limiter}, nil
}

// Consume posts each record in order.
func (s *FormSink) Consume(ctx context.Context, batch []progress.Record) error {
	var errs []error
	for _, rec := range batch {
		if err := s.post(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("submit %s: %w", rec.MilestoneKey, err))
			if ctx.Err() != nil {
				break
			}
		}
	}
	return errors.Join(errs...)
}

func (s *FormSink) post(ctx context.Context, rec progress.Record) error {
	if err := s.limiter.Wait(ctx, s.url); err != nil {
		return err
	}
	form := url.Values{}
	form.Set(s.fields.Name, rec.Name)
	form.Set(s.fields.Email, rec.Email)
	form.Set(s.fields.Milestone, rec.MilestoneKey)
	form.Set(s.fields.Timestamp, rec.Timestamp.UTC().Format(isoMillis))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build form request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post form: %w", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post form: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *FormSink) Close(context.Context) error {
	return nil
}
