package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetItem(ctx context.Context, id int64) (Item, error)
	ListItemViews(ctx context.Context, filter string) ([]ItemView, error)
	GetOrder(ctx context.Context, id int64) (Order, error)
	ListOrderViews(ctx context.Context, filter string) ([]OrderView, error)
	ListOrderLines(ctx context.Context, orderID int64) ([]OrderLineDetail, error)
	ListItemBreakdown(ctx context.Context, itemID int64) ([]ItemBreakdownRow, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort de-duplicates client submissions.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Recorder receives domain counters.
type Recorder interface {
	OrderSubmitted(merged bool)
	OrphansSwept(count int)
}

const idempotencyModule = "orders.submit"

// Service is the reconciliation engine. Every mutation runs in one
// transaction and bumps the view cache after commit.
type Service struct {
	repo        RepositoryPort
	views       *cache.ViewCache
	audit       AuditPort
	idempotency IdempotencyPort
	metrics     Recorder
	logger      *slog.Logger
}

// Option customises the service.
type Option func(*Service)

// WithViewCache enables read-view caching.
func WithViewCache(views *cache.ViewCache) Option {
	return func(s *Service) { s.views = views }
}

// WithAudit records every mutation into the audit trail.
func WithAudit(audit AuditPort) Option {
	return func(s *Service) { s.audit = audit }
}

// WithIdempotency enables Idempotency-Key handling on submissions.
func WithIdempotency(store IdempotencyPort) Option {
	return func(s *Service) { s.idempotency = store }
}

// WithRecorder wires domain metrics.
func WithRecorder(rec Recorder) Option {
	return func(s *Service) { s.metrics = rec }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs the stock service.
func NewService(repo RepositoryPort, opts ...Option) *Service {
	s := &Service{repo: repo, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListItems returns every item whose description contains filter, ignoring
// case, with on-hand and on-order quantities.
func (s *Service) ListItems(ctx context.Context, filter string) ([]ItemView, error) {
	var views []ItemView
	err := s.cached(ctx, "items", filter, &views, func(ctx context.Context) (any, error) {
		return s.repo.ListItemViews(ctx, filter)
	})
	return views, err
}

// GetItem returns a single catalog item.
func (s *Service) GetItem(ctx context.Context, id int64) (Item, error) {
	if err := checkID("item id", id); err != nil {
		return Item{}, err
	}
	return s.repo.GetItem(ctx, id)
}

// CreateItem adds a catalog item with a unique description.
func (s *Service) CreateItem(ctx context.Context, input ItemInput) (Item, error) {
	input, err := normalizeItem(input)
	if err != nil {
		return Item{}, err
	}
	var created Item
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, exists, err := tx.ItemIDByDescription(ctx, input.Description); err != nil {
			return err
		} else if exists {
			return ErrDuplicateDescription
		}
		item, err := tx.InsertItem(ctx, input)
		if err != nil {
			return err
		}
		created = item
		return nil
	})
	if err != nil {
		return Item{}, err
	}
	s.committed(ctx, "ITEM_CREATE", "item", created.ID, map[string]any{"description": created.Description, "price": created.Price.String()})
	return created, nil
}

// UpdateItem replaces description and price. The new description must not
// belong to another item.
func (s *Service) UpdateItem(ctx context.Context, id int64, input ItemInput) error {
	if err := checkID("item id", id); err != nil {
		return err
	}
	input, err := normalizeItem(input)
	if err != nil {
		return err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetItemForUpdate(ctx, id); err != nil {
			return err
		}
		owner, exists, err := tx.ItemIDByDescription(ctx, input.Description)
		if err != nil {
			return err
		}
		if exists && owner != id {
			return ErrDuplicateDescription
		}
		return tx.UpdateItem(ctx, id, input)
	})
	if err != nil {
		return err
	}
	s.committed(ctx, "ITEM_UPDATE", "item", id, map[string]any{"description": input.Description, "price": input.Price.String()})
	return nil
}

// DeleteItems removes the items, every order line referencing them and any
// order left without lines. It returns the ids of the orders removed that way.
func (s *Service) DeleteItems(ctx context.Context, ids []int64) ([]int64, error) {
	ids, err := normalizeIDs(ids)
	if err != nil {
		return nil, err
	}
	var swept []int64
	var linesRemoved int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		found, err := tx.ItemsForUpdate(ctx, ids)
		if err != nil {
			return err
		}
		if missing := missingIDs(ids, found); len(missing) > 0 {
			return fmt.Errorf("%w: %v", ErrItemNotFound, missing)
		}
		if linesRemoved, err = tx.DeleteLinesForItems(ctx, ids); err != nil {
			return err
		}
		if _, err := tx.DeleteItems(ctx, ids); err != nil {
			return err
		}
		swept, err = tx.DeleteOrphanOrders(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		s.recordAudit(ctx, "ITEM_DELETE", "item", id, map[string]any{"lines_removed": linesRemoved})
	}
	s.afterSweep(ctx, swept)
	s.invalidate(ctx)
	return swept, nil
}

// GetItemBreakdown lists every order containing the item.
func (s *Service) GetItemBreakdown(ctx context.Context, itemID int64) ([]ItemBreakdownRow, error) {
	if err := checkID("item id", itemID); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	return s.repo.ListItemBreakdown(ctx, itemID)
}

// ListOrders returns every order whose ref number contains filter, ignoring
// case, with totals and receipt status.
func (s *Service) ListOrders(ctx context.Context, filter string) ([]OrderView, error) {
	var views []OrderView
	err := s.cached(ctx, "orders", filter, &views, func(ctx context.Context) (any, error) {
		return s.repo.ListOrderViews(ctx, filter)
	})
	return views, err
}

// GetOrderLines returns the lines of an order with item details.
func (s *Service) GetOrderLines(ctx context.Context, orderID int64) ([]OrderLineDetail, error) {
	if err := checkID("order id", orderID); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.repo.ListOrderLines(ctx, orderID)
}

// SubmitOrder creates an order for the given ref number or, when it already
// exists and the caller asked to merge, adds the quantities to it. Existing
// lines accumulate qty ordered; new items get a fresh line with nothing
// received.
func (s *Service) SubmitOrder(ctx context.Context, input SubmitOrderInput) (SubmitResult, error) {
	input, err := normalizeSubmit(input)
	if err != nil {
		return SubmitResult{}, err
	}
	inserted := false
	if s.idempotency != nil && input.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, idempotencyModule); err != nil {
			return SubmitResult{}, err
		}
		inserted = true
	}
	itemIDs := sortedKeys(input.Quantities)
	var result SubmitResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = SubmitResult{}
		found, err := tx.ItemsForShare(ctx, itemIDs)
		if err != nil {
			return err
		}
		if missing := missingIDs(itemIDs, found); len(missing) > 0 {
			return fmt.Errorf("%w: %v", ErrItemNotFound, missing)
		}
		order, exists, err := tx.FindOrderByRef(ctx, input.RefNumber)
		if err != nil {
			return err
		}
		switch {
		case exists && !input.MergeIfExists:
			return ErrOrderExists
		case exists:
			result.OrderID = order.ID
			result.Merged = true
		default:
			if result.OrderID, err = tx.InsertOrder(ctx, input.RefNumber); err != nil {
				return err
			}
		}
		for _, itemID := range itemIDs {
			qty := input.Quantities[itemID]
			if result.Merged {
				line, ok, err := tx.GetLineForUpdate(ctx, result.OrderID, itemID)
				if err != nil {
					return err
				}
				if ok {
					total := line.QtyOrdered + qty
					if total > MaxQty {
						return fmt.Errorf("%w: item %d", ErrQtyOverflow, itemID)
					}
					if err := tx.SetLineOrdered(ctx, result.OrderID, itemID, total); err != nil {
						return err
					}
					result.LinesUpdated++
					continue
				}
			}
			if err := tx.InsertLine(ctx, OrderLine{OrderID: result.OrderID, ItemID: itemID, QtyOrdered: qty}); err != nil {
				return err
			}
			result.LinesAdded++
		}
		return nil
	})
	if err != nil {
		if inserted {
			_ = s.idempotency.Delete(ctx, input.IdempotencyKey)
		}
		return SubmitResult{}, err
	}
	action := "ORDER_CREATE"
	if result.Merged {
		action = "ORDER_MERGE"
	}
	if s.metrics != nil {
		s.metrics.OrderSubmitted(result.Merged)
	}
	s.committed(ctx, action, "order", result.OrderID, map[string]any{
		"ref_number":    input.RefNumber,
		"lines_added":   result.LinesAdded,
		"lines_updated": result.LinesUpdated,
	})
	return result, nil
}

// RenameOrder changes the ref number of an order. Renaming to the current
// value succeeds without writing.
func (s *Service) RenameOrder(ctx context.Context, orderID int64, ref string) error {
	if err := checkID("order id", orderID); err != nil {
		return err
	}
	ref, err := normalizeRef(ref)
	if err != nil {
		return err
	}
	var previous string
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		previous = order.RefNumber
		if order.RefNumber == ref {
			return nil
		}
		other, exists, err := tx.FindOrderByRef(ctx, ref)
		if err != nil {
			return err
		}
		if exists && other.ID != orderID {
			return ErrDuplicateRef
		}
		return tx.RenameOrder(ctx, orderID, ref)
	})
	if err != nil {
		return err
	}
	if previous == ref {
		return nil
	}
	s.committed(ctx, "ORDER_RENAME", "order", orderID, map[string]any{"from": previous, "to": ref})
	return nil
}

// UpdateReceived sets the received quantity of one order line. The quantity
// may not exceed what was ordered.
func (s *Service) UpdateReceived(ctx context.Context, orderID, itemID, qty int64) error {
	if err := checkReceived(orderID, itemID, qty); err != nil {
		return err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetOrderForUpdate(ctx, orderID); err != nil {
			return err
		}
		line, ok, err := tx.GetLineForUpdate(ctx, orderID, itemID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrLineNotFound
		}
		if qty > line.QtyOrdered {
			return fmt.Errorf("%w: %d > %d", ErrReceivedExceedsOrdered, qty, line.QtyOrdered)
		}
		return tx.SetLineReceived(ctx, orderID, itemID, qty)
	})
	if err != nil {
		return err
	}
	s.committed(ctx, "ORDER_RECEIVE_LINE", "order", orderID, map[string]any{"item_id": itemID, "qty_received": qty})
	return nil
}

// ReceiveAll marks every line of the order fully received. Repeating it has
// no further effect.
func (s *Service) ReceiveAll(ctx context.Context, orderID int64) error {
	if err := checkID("order id", orderID); err != nil {
		return err
	}
	var changed int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetOrderForUpdate(ctx, orderID); err != nil {
			return err
		}
		var err error
		changed, err = tx.ReceiveAll(ctx, orderID)
		return err
	})
	if err != nil {
		return err
	}
	if changed == 0 {
		return nil
	}
	s.committed(ctx, "ORDER_RECEIVE_ALL", "order", orderID, map[string]any{"lines": changed})
	return nil
}

// DeleteOrders removes the orders and their lines. Items are untouched.
func (s *Service) DeleteOrders(ctx context.Context, ids []int64) error {
	ids, err := normalizeIDs(ids)
	if err != nil {
		return err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		found, err := tx.OrdersForUpdate(ctx, ids)
		if err != nil {
			return err
		}
		if missing := missingIDs(ids, found); len(missing) > 0 {
			return fmt.Errorf("%w: %v", ErrOrderNotFound, missing)
		}
		if _, err := tx.DeleteLinesForOrders(ctx, ids); err != nil {
			return err
		}
		_, err = tx.DeleteOrders(ctx, ids)
		return err
	})
	if err != nil {
		return err
	}
	for _, id := range ids {
		s.recordAudit(ctx, "ORDER_DELETE", "order", id, nil)
	}
	s.invalidate(ctx)
	return nil
}

// SweepOrphans deletes every order without lines and returns their ids.
func (s *Service) SweepOrphans(ctx context.Context) ([]int64, error) {
	var swept []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		swept, err = tx.DeleteOrphanOrders(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.afterSweep(ctx, swept)
	if len(swept) > 0 {
		s.invalidate(ctx)
	}
	return swept, nil
}

func (s *Service) afterSweep(ctx context.Context, swept []int64) {
	if len(swept) == 0 {
		return
	}
	s.logger.InfoContext(ctx, "orphan orders removed", slog.Any("order_ids", swept))
	if s.metrics != nil {
		s.metrics.OrphansSwept(len(swept))
	}
	for _, id := range swept {
		s.recordAudit(ctx, "ORDER_SWEEP", "order", id, nil)
	}
}

// cached serves a list view from the view cache, falling back to the loader
// when redis misbehaves.
func (s *Service) cached(ctx context.Context, view, filter string, dest any, loader func(context.Context) (any, error)) error {
	load := func(ctx context.Context) (any, error) {
		value, err := loader(ctx)
		if err != nil {
			return nil, loadError{err: err}
		}
		return value, nil
	}
	key, err := s.views.BuildKey(ctx, "stock", view, ilikeKey(filter))
	if err == nil {
		err = s.views.FetchJSON(ctx, key, dest, load)
	}
	var le loadError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &le):
		return le.err
	case ctx.Err() != nil:
		return ctx.Err()
	}
	s.logger.WarnContext(ctx, "view cache unavailable", slog.String("view", view), slog.Any("error", err))
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	return assign(value, dest)
}

// ilikeKey lowercases a search filter the way ILIKE compares it, so filters
// sharing a cache key select the same rows.
func ilikeKey(filter string) string {
	return cases.Lower(language.Und).String(filter)
}

type loadError struct{ err error }

func (e loadError) Error() string { return e.err.Error() }
func (e loadError) Unwrap() error { return e.err }

func (s *Service) committed(ctx context.Context, action, entity string, id int64, meta map[string]any) {
	s.invalidate(ctx)
	s.recordAudit(ctx, action, entity, id, meta)
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.views.Bump(ctx); err != nil {
		s.logger.WarnContext(ctx, "bump view cache", slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		RequestID: shared.RequestID(ctx),
		Action:    action,
		Entity:    entity,
		EntityID:  strconv.FormatInt(id, 10),
		Meta:      meta,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "record audit", slog.String("action", action), slog.Any("error", err))
	}
}

func checkID(name string, id int64) error {
	if id <= 0 {
		return fmt.Errorf("stock: %s must be a positive integer: %w", name, shared.ErrValidation)
	}
	return nil
}

func assign(value, dest any) error {
	switch d := dest.(type) {
	case *[]ItemView:
		v, _ := value.([]ItemView)
		*d = v
	case *[]OrderView:
		v, _ := value.([]OrderView)
		*d = v
	default:
		return fmt.Errorf("stock: unsupported view %T: %w", dest, shared.ErrStore)
	}
	return nil
}
