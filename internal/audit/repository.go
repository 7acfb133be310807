package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// PgRepository reads audit_logs through pgx.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Timeline implements Repository.
func (r *PgRepository) Timeline(ctx context.Context, f TimelineFilters) ([]TimelineRow, error) {
	var (
		conds []string
		args  []any
	)
	where := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Entity != "" {
		where("entity = $%d", f.Entity)
	}
	if f.EntityID != "" {
		where("entity_id = $%d", f.EntityID)
	}
	if f.Action != "" {
		where("action = $%d", f.Action)
	}
	if !f.From.IsZero() {
		where("occurred_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		where("occurred_at <= $%d", f.To)
	}

	query := `SELECT occurred_at, request_id, action, entity, entity_id, meta FROM audit_logs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, f.Limit)
	query += fmt.Sprintf(" ORDER BY occurred_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: timeline: %w: %w", shared.ErrStore, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (TimelineRow, error) {
		var tr TimelineRow
		var meta []byte
		if err := row.Scan(&tr.At, &tr.RequestID, &tr.Action, &tr.Entity, &tr.EntityID, &meta); err != nil {
			return TimelineRow{}, err
		}
		tr.Meta = meta
		return tr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("audit: scan timeline: %w: %w", shared.ErrStore, err)
	}
	return out, nil
}
