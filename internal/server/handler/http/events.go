package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/atinyakov/ejauth/internal/models"
	"github.com/atinyakov/ejauth/internal/repository"
	"github.com/atinyakov/ejauth/internal/service"
)

// maxEventLimit caps the limit query parameter.
const maxEventLimit = 1000

// EventService defines the audit operations required by EventsHandler.
type EventService interface {
	// RecentEvents returns events newest first; empty filters match all.
	RecentEvents(ctx context.Context, username, server string, limit int) ([]models.AuthEvent, error)
}

// EventsHandler serves the audit trail.
type EventsHandler struct {
	EventService EventService
}

// List handles GET /api/events?user=&server=&limit=.
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := repository.DefaultEventLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxEventLimit)
	}

	events, err := h.EventService.RecentEvents(r.Context(), q.Get("user"), q.Get("server"), limit)
	if errors.Is(err, service.ErrAuditDisabled) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(events)
}
