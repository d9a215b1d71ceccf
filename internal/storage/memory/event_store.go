// Package memory provides in-memory persistence for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/JakeFAU/milestone-tracker/internal/store"
)

// EventStore keeps milestone events in process memory.
type EventStore struct {
	mu     sync.RWMutex
	events map[uuid.UUID]store.MilestoneEvent
}

// NewEventStore constructs an EventStore.
func NewEventStore() *EventStore {
	return &EventStore{events: make(map[uuid.UUID]store.MilestoneEvent)}
}

// InsertEvents stores events, ignoring IDs already present.
func (s *EventStore) InsertEvents(_ context.Context, events []store.MilestoneEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range events {
		if _, exists := s.events[evt.ID]; exists {
			continue
		}
		s.events[evt.ID] = evt
	}
	return nil
}

// GetEvent loads an event by ID.
func (s *EventStore) GetEvent(_ context.Context, id uuid.UUID) (store.MilestoneEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evt, ok := s.events[id]
	if !ok {
		return store.MilestoneEvent{}, store.ErrNotFound
	}
	return evt, nil
}

// ListEvents returns events newest first.
func (s *EventStore) ListEvents(_ context.Context, limit, offset int) ([]store.MilestoneEvent, error) {
	s.mu.RLock()
	all := make([]store.MilestoneEvent, 0, len(s.events))
	for _, evt := range s.events {
		all = append(all, evt)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].OccurredAt.Equal(all[j].OccurredAt) {
			return all[i].ID.String() > all[j].ID.String()
		}
		return all[i].OccurredAt.After(all[j].OccurredAt)
	})
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []store.MilestoneEvent{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}
