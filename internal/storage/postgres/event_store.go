// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/milestone-tracker/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// EventStoreConfig controls the connection pool used for milestone events.
type EventStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// EventStore implements store.EventRepository on Postgres.
type EventStore struct {
	pool  pool
	table string
}

// NewEventStore connects to Postgres using cfg.
func NewEventStore(ctx context.Context, cfg EventStoreConfig) (*EventStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &EventStore{pool: p, table: table}, nil
}

// NewEventStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewEventStoreWithPool(p pool, table string) (*EventStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &EventStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = "milestone_events"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *EventStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// InsertEvents writes each event; duplicate IDs are ignored.
func (s *EventStore) InsertEvents(ctx context.Context, events []store.MilestoneEvent) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, milestone_key, step, name, email, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING;`, s.table)
	for _, evt := range events {
		if _, err := s.pool.Exec(ctx, query,
			evt.ID,
			evt.MilestoneKey,
			evt.Step,
			evt.Name,
			evt.Email,
			evt.OccurredAt,
		); err != nil {
			return fmt.Errorf("insert milestone event %s: %w", evt.ID, err)
		}
	}
	return nil
}

// GetEvent loads a single event by ID.
func (s *EventStore) GetEvent(ctx context.Context, id uuid.UUID) (store.MilestoneEvent, error) {
	query := fmt.Sprintf(`
SELECT id, milestone_key, step, name, email, occurred_at
FROM %s
WHERE id = $1;`, s.table)
	var evt store.MilestoneEvent
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&evt.ID,
		&evt.MilestoneKey,
		&evt.Step,
		&evt.Name,
		&evt.Email,
		&evt.OccurredAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.MilestoneEvent{}, store.ErrNotFound
		}
		return store.MilestoneEvent{}, fmt.Errorf("get milestone event: %w", err)
	}
	return evt, nil
}

// ListEvents returns events newest first.
func (s *EventStore) ListEvents(ctx context.Context, limit, offset int) ([]store.MilestoneEvent, error) {
	query := fmt.Sprintf(`
SELECT id, milestone_key, step, name, email, occurred_at
FROM %s
ORDER BY occurred_at DESC, id DESC
LIMIT $1 OFFSET $2;`, s.table)
	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list milestone events: %w", err)
	}
	defer rows.Close()

	events := []store.MilestoneEvent{}
	for rows.Next() {
		var evt store.MilestoneEvent
		if err := rows.Scan(
			&evt.ID,
			&evt.MilestoneKey,
			&evt.Step,
			&evt.Name,
			&evt.Email,
			&evt.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("scan milestone event: %w", err)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate milestone events: %w", err)
	}
	return events, nil
}
