package audit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Repository membaca baris audit_logs sesuai filter yang sudah dinormalisasi.
type Repository interface {
	Timeline(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error)
}

// Service mengoordinasikan pengambilan audit timeline.
type Service struct {
	repo Repository
}

// NewService membuat service audit timeline baru.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline returns audit entries newest first, capped at maxLimit rows.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	filters, err := normalize(filters)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.Timeline(ctx, filters)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []TimelineRow{}
	}
	return rows, nil
}

func normalize(f TimelineFilters) (TimelineFilters, error) {
	f.Entity = strings.ToLower(strings.TrimSpace(f.Entity))
	f.EntityID = strings.TrimSpace(f.EntityID)
	f.Action = strings.ToUpper(strings.TrimSpace(f.Action))
	switch f.Entity {
	case "", "item", "order":
	default:
		return f, fmt.Errorf("audit: unknown entity %q: %w", f.Entity, shared.ErrValidation)
	}
	if f.EntityID != "" {
		if f.Entity == "" {
			return f, fmt.Errorf("audit: entity_id requires entity: %w", shared.ErrValidation)
		}
		if id, err := strconv.ParseInt(f.EntityID, 10, 64); err != nil || id <= 0 {
			return f, fmt.Errorf("audit: entity_id must be a positive integer: %w", shared.ErrValidation)
		}
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return f, fmt.Errorf("audit: from must not be after to: %w", shared.ErrValidation)
	}
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	return f, nil
}
