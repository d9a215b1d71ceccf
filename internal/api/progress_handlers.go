package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/milestone-tracker/internal/store"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
	progressTimeout   = 3 * time.Second
)

// ProgressHandler exposes read-only progress and telemetry endpoints.
type ProgressHandler struct {
	views   ViewSource
	repo    store.EventRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewProgressHandler wires the view source, repository and logger.
func NewProgressHandler(views ViewSource, repo store.EventRepository, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{
		views:   views,
		repo:    repo,
		timeout: progressTimeout,
		logger:  logger,
	}
}

// Progress handles GET /v1/progress. It returns the current tracker.View, or
// 503 when the tracker is disabled.
func (h *ProgressHandler) Progress(w http.ResponseWriter, _ *http.Request) {
	if h.views == nil {
		writeError(w, http.StatusServiceUnavailable, "tracker disabled")
		return
	}
	writeJSON(w, http.StatusOK, h.views.View())
}

// ListEvents handles GET /v1/events?limit=&offset=. It returns {"events": [...]}
// newest first, 400 for invalid paging, 503 when no repository is configured,
// or 500 if the repository call fails.
func (h *ProgressHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "event repository unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultEventLimit, maxEventLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	events, err := h.repo.ListEvents(ctx, limit, offset)
	if err != nil {
		h.logger.Error("list events failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": toEventDTOs(events),
	})
}

// GetEvent handles GET /v1/events/{event_id}. It returns {"event": {...}},
// 400 for malformed IDs, 404 when the repository reports store.ErrNotFound,
// 503 without a repository, or 500 otherwise.
func (h *ProgressHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "event repository unavailable")
		return
	}
	eventID, err := parseEventID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ev, err := h.repo.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		h.logger.Error("get event failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load event")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"event": toEventDTO(ev)})
}

func parseEventID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "event_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("event_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid event_id")
	}
	return id, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func toEventDTOs(in []store.MilestoneEvent) []eventDTO {
	out := make([]eventDTO, 0, len(in))
	for _, ev := range in {
		out = append(out, toEventDTO(ev))
	}
	return out
}

func toEventDTO(ev store.MilestoneEvent) eventDTO {
	return eventDTO{
		ID:         ev.ID.String(),
		Milestone:  ev.MilestoneKey,
		Step:       ev.Step,
		Name:       ev.Name,
		Email:      ev.Email,
		OccurredAt: ev.OccurredAt,
	}
}

type eventDTO struct {
	ID         string    `json:"id"`
	Milestone  string    `json:"milestone"`
	Step       int       `json:"step"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	OccurredAt time.Time `json:"occurred_at"`
}
