package audit

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Handler mengekspos audit timeline sebagai JSON.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler membuat handler audit timeline.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// MountRoutes mendaftarkan route audit.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.timeline)
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err == nil {
		var rows []TimelineRow
		rows, err = h.service.Timeline(r.Context(), filters)
		if err == nil {
			httpx.JSON(w, http.StatusOK, rows)
			return
		}
	}
	level := slog.LevelWarn
	if shared.Kind(err) == "store" {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "audit timeline", slog.Any("error", err))
	httpx.RespondError(w, err)
}

func parseFilters(r *http.Request) (TimelineFilters, error) {
	q := r.URL.Query()
	f := TimelineFilters{
		Entity:   q.Get("entity"),
		EntityID: q.Get("entity_id"),
		Action:   q.Get("action"),
	}
	var err error
	if f.From, err = parseTime("from", q.Get("from")); err != nil {
		return f, err
	}
	if f.To, err = parseTime("to", q.Get("to")); err != nil {
		return f, err
	}
	if raw := q.Get("limit"); raw != "" {
		if f.Limit, err = strconv.Atoi(raw); err != nil {
			return f, fmt.Errorf("audit: limit must be an integer: %w", shared.ErrValidation)
		}
	}
	return f, nil
}

func parseTime(name, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("audit: %s must be RFC3339: %w", name, shared.ErrValidation)
	}
	return t, nil
}
