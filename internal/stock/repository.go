package stock

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Repository provides PostgreSQL backed persistence for items, orders and
// order lines.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the statements the engine composes inside one
// transaction.
type TxRepository interface {
	GetItemForUpdate(ctx context.Context, id int64) (Item, error)
	ItemIDByDescription(ctx context.Context, description string) (int64, bool, error)
	InsertItem(ctx context.Context, in ItemInput) (Item, error)
	UpdateItem(ctx context.Context, id int64, in ItemInput) error
	ItemsForShare(ctx context.Context, ids []int64) ([]int64, error)
	ItemsForUpdate(ctx context.Context, ids []int64) ([]int64, error)
	DeleteLinesForItems(ctx context.Context, ids []int64) (int64, error)
	DeleteItems(ctx context.Context, ids []int64) (int64, error)

	FindOrderByRef(ctx context.Context, ref string) (Order, bool, error)
	GetOrderForUpdate(ctx context.Context, id int64) (Order, error)
	OrdersForUpdate(ctx context.Context, ids []int64) ([]int64, error)
	InsertOrder(ctx context.Context, ref string) (int64, error)
	RenameOrder(ctx context.Context, id int64, ref string) error
	GetLineForUpdate(ctx context.Context, orderID, itemID int64) (OrderLine, bool, error)
	InsertLine(ctx context.Context, line OrderLine) error
	SetLineOrdered(ctx context.Context, orderID, itemID, qty int64) error
	SetLineReceived(ctx context.Context, orderID, itemID, qty int64) error
	ReceiveAll(ctx context.Context, orderID int64) (int64, error)
	DeleteLinesForOrders(ctx context.Context, ids []int64) (int64, error)
	DeleteOrders(ctx context.Context, ids []int64) (int64, error)
	DeleteOrphanOrders(ctx context.Context) ([]int64, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction. The callback may be
// invoked again when Postgres reports a serialization failure.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const itemViewSelect = `SELECT i.id, i.description, i.price,
	COALESCE(SUM(l.qty_received), 0)::bigint AS qty_on_hand,
	COALESCE(SUM(l.qty_ordered), 0)::bigint AS qty_on_order
FROM items i
LEFT JOIN order_lines l ON l.item_id = i.id`

const orderViewSelect = `SELECT o.id, o.ref_number,
	COALESCE(SUM(l.qty_received), 0)::bigint AS qty_received,
	COALESCE(SUM(l.qty_ordered), 0)::bigint AS qty_ordered,
	ROUND(COALESCE(SUM(l.qty_ordered::numeric * i.price), 0), 2) AS order_value,
	COUNT(DISTINCT l.item_id)::bigint AS total_items
FROM orders o
LEFT JOIN order_lines l ON l.order_id = o.id
LEFT JOIN items i ON i.id = l.item_id`

// GetItem returns a single item.
func (r *Repository) GetItem(ctx context.Context, id int64) (Item, error) {
	var it Item
	err := r.pool.QueryRow(ctx, `SELECT id, description, price FROM items WHERE id=$1`, id).
		Scan(&it.ID, &it.Description, &it.Price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, wrapErr("get item", err)
	}
	return it, nil
}

// ListItemViews returns every item matching the case-insensitive description
// filter, with aggregated quantities.
func (r *Repository) ListItemViews(ctx context.Context, filter string) ([]ItemView, error) {
	query := itemViewSelect
	args := []any{}
	if filter != "" {
		query += ` WHERE i.description ILIKE $1`
		args = append(args, likePattern(filter))
	}
	query += ` GROUP BY i.id, i.description, i.price ORDER BY i.id`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list items", err)
	}
	defer rows.Close()
	views := []ItemView{}
	for rows.Next() {
		var v ItemView
		if err := rows.Scan(&v.ItemID, &v.Description, &v.Price, &v.QtyOnHand, &v.QtyOnOrder); err != nil {
			return nil, wrapErr("scan item view", err)
		}
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list items", err)
	}
	return views, nil
}

// ListOrderViews returns every order matching the case-insensitive ref filter,
// with aggregated totals. Orders without lines report zeros.
func (r *Repository) ListOrderViews(ctx context.Context, filter string) ([]OrderView, error) {
	query := orderViewSelect
	args := []any{}
	if filter != "" {
		query += ` WHERE o.ref_number ILIKE $1`
		args = append(args, likePattern(filter))
	}
	query += ` GROUP BY o.id, o.ref_number ORDER BY o.id`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list orders", err)
	}
	defer rows.Close()
	views := []OrderView{}
	for rows.Next() {
		var v OrderView
		if err := rows.Scan(&v.OrderID, &v.RefNumber, &v.QtyReceived, &v.QtyOrdered, &v.OrderValue, &v.TotalItems); err != nil {
			return nil, wrapErr("scan order view", err)
		}
		v.Status = StatusFor(v.QtyReceived, v.QtyOrdered)
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list orders", err)
	}
	return views, nil
}

// GetOrder returns a single order header.
func (r *Repository) GetOrder(ctx context.Context, id int64) (Order, error) {
	var o Order
	err := r.pool.QueryRow(ctx, `SELECT id, ref_number FROM orders WHERE id=$1`, id).Scan(&o.ID, &o.RefNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, wrapErr("get order", err)
	}
	return o, nil
}

// ListOrderLines returns the lines of an order joined with item details.
func (r *Repository) ListOrderLines(ctx context.Context, orderID int64) ([]OrderLineDetail, error) {
	rows, err := r.pool.Query(ctx, `SELECT i.id, i.description, i.price, l.qty_received, l.qty_ordered
FROM order_lines l
JOIN items i ON i.id = l.item_id
WHERE l.order_id=$1
ORDER BY i.id`, orderID)
	if err != nil {
		return nil, wrapErr("list order lines", err)
	}
	defer rows.Close()
	lines := []OrderLineDetail{}
	for rows.Next() {
		var d OrderLineDetail
		if err := rows.Scan(&d.ItemID, &d.Description, &d.Price, &d.QtyReceived, &d.QtyOrdered); err != nil {
			return nil, wrapErr("scan order line", err)
		}
		lines = append(lines, d)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list order lines", err)
	}
	return lines, nil
}

// ListItemBreakdown returns one row per order containing the item.
func (r *Repository) ListItemBreakdown(ctx context.Context, itemID int64) ([]ItemBreakdownRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT o.id, o.ref_number, l.qty_received, l.qty_ordered
FROM order_lines l
JOIN orders o ON o.id = l.order_id
WHERE l.item_id=$1
ORDER BY o.id`, itemID)
	if err != nil {
		return nil, wrapErr("item breakdown", err)
	}
	defer rows.Close()
	out := []ItemBreakdownRow{}
	for rows.Next() {
		var b ItemBreakdownRow
		if err := rows.Scan(&b.OrderID, &b.RefNumber, &b.QtyReceived, &b.QtyOrdered); err != nil {
			return nil, wrapErr("scan item breakdown", err)
		}
		b.Status = StatusFor(b.QtyReceived, b.QtyOrdered)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("item breakdown", err)
	}
	return out, nil
}

func (t *txRepo) GetItemForUpdate(ctx context.Context, id int64) (Item, error) {
	var it Item
	err := t.tx.QueryRow(ctx, `SELECT id, description, price FROM items WHERE id=$1 FOR UPDATE`, id).
		Scan(&it.ID, &it.Description, &it.Price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, wrapErr("lock item", err)
	}
	return it, nil
}

func (t *txRepo) ItemIDByDescription(ctx context.Context, description string) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `SELECT id FROM items WHERE description=$1`, description).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, wrapErr("find item by description", err)
	}
	return id, true, nil
}

func (t *txRepo) InsertItem(ctx context.Context, in ItemInput) (Item, error) {
	it := Item{Description: in.Description, Price: in.Price}
	err := t.tx.QueryRow(ctx, `INSERT INTO items (description, price) VALUES ($1, $2) RETURNING id`, in.Description, in.Price).Scan(&it.ID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Item{}, ErrDuplicateDescription
		}
		return Item{}, wrapErr("insert item", err)
	}
	return it, nil
}

func (t *txRepo) UpdateItem(ctx context.Context, id int64, in ItemInput) error {
	tag, err := t.tx.Exec(ctx, `UPDATE items SET description=$1, price=$2, updated_at=NOW() WHERE id=$3`, in.Description, in.Price, id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDuplicateDescription
		}
		return wrapErr("update item", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (t *txRepo) ItemsForShare(ctx context.Context, ids []int64) ([]int64, error) {
	return t.collectIDs(ctx, "lock items", `SELECT id FROM items WHERE id = ANY($1) ORDER BY id FOR KEY SHARE`, ids)
}

func (t *txRepo) ItemsForUpdate(ctx context.Context, ids []int64) ([]int64, error) {
	return t.collectIDs(ctx, "lock items", `SELECT id FROM items WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
}

func (t *txRepo) DeleteLinesForItems(ctx context.Context, ids []int64) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM order_lines WHERE item_id = ANY($1)`, ids)
	if err != nil {
		return 0, wrapErr("delete item lines", err)
	}
	return tag.RowsAffected(), nil
}

func (t *txRepo) DeleteItems(ctx context.Context, ids []int64) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM items WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, wrapErr("delete items", err)
	}
	return tag.RowsAffected(), nil
}

func (t *txRepo) FindOrderByRef(ctx context.Context, ref string) (Order, bool, error) {
	var o Order
	err := t.tx.QueryRow(ctx, `SELECT id, ref_number FROM orders WHERE ref_number=$1 FOR UPDATE`, ref).Scan(&o.ID, &o.RefNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, false, nil
		}
		return Order{}, false, wrapErr("find order by ref", err)
	}
	return o, true, nil
}

func (t *txRepo) GetOrderForUpdate(ctx context.Context, id int64) (Order, error) {
	var o Order
	err := t.tx.QueryRow(ctx, `SELECT id, ref_number FROM orders WHERE id=$1 FOR UPDATE`, id).Scan(&o.ID, &o.RefNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, wrapErr("lock order", err)
	}
	return o, nil
}

func (t *txRepo) OrdersForUpdate(ctx context.Context, ids []int64) ([]int64, error) {
	return t.collectIDs(ctx, "lock orders", `SELECT id FROM orders WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
}

func (t *txRepo) InsertOrder(ctx context.Context, ref string) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO orders (ref_number) VALUES ($1) RETURNING id`, ref).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, ErrDuplicateRef
		}
		return 0, wrapErr("insert order", err)
	}
	return id, nil
}

func (t *txRepo) RenameOrder(ctx context.Context, id int64, ref string) error {
	tag, err := t.tx.Exec(ctx, `UPDATE orders SET ref_number=$1, updated_at=NOW() WHERE id=$2`, ref, id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDuplicateRef
		}
		return wrapErr("rename order", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (t *txRepo) GetLineForUpdate(ctx context.Context, orderID, itemID int64) (OrderLine, bool, error) {
	line := OrderLine{OrderID: orderID, ItemID: itemID}
	err := t.tx.QueryRow(ctx, `SELECT qty_ordered, qty_received FROM order_lines WHERE order_id=$1 AND item_id=$2 FOR UPDATE`, orderID, itemID).
		Scan(&line.QtyOrdered, &line.QtyReceived)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return OrderLine{}, false, nil
		}
		return OrderLine{}, false, wrapErr("lock order line", err)
	}
	return line, true, nil
}

func (t *txRepo) InsertLine(ctx context.Context, line OrderLine) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO order_lines (order_id, item_id, qty_ordered, qty_received) VALUES ($1,$2,$3,$4)`,
		line.OrderID, line.ItemID, line.QtyOrdered, line.QtyReceived)
	return wrapErr("insert order line", err)
}

func (t *txRepo) SetLineOrdered(ctx context.Context, orderID, itemID, qty int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE order_lines SET qty_ordered=$1 WHERE order_id=$2 AND item_id=$3`, qty, orderID, itemID)
	if err != nil {
		return wrapErr("update qty ordered", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

func (t *txRepo) SetLineReceived(ctx context.Context, orderID, itemID, qty int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE order_lines SET qty_received=$1 WHERE order_id=$2 AND item_id=$3`, qty, orderID, itemID)
	if err != nil {
		return wrapErr("update qty received", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

func (t *txRepo) ReceiveAll(ctx context.Context, orderID int64) (int64, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE order_lines SET qty_received=qty_ordered WHERE order_id=$1 AND qty_received <> qty_ordered`, orderID)
	if err != nil {
		return 0, wrapErr("receive all", err)
	}
	return tag.RowsAffected(), nil
}

func (t *txRepo) DeleteLinesForOrders(ctx context.Context, ids []int64) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM order_lines WHERE order_id = ANY($1)`, ids)
	if err != nil {
		return 0, wrapErr("delete order lines", err)
	}
	return tag.RowsAffected(), nil
}

func (t *txRepo) DeleteOrders(ctx context.Context, ids []int64) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM orders WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, wrapErr("delete orders", err)
	}
	return tag.RowsAffected(), nil
}

func (t *txRepo) DeleteOrphanOrders(ctx context.Context) ([]int64, error) {
	rows, err := t.tx.Query(ctx, `DELETE FROM orders o
WHERE NOT EXISTS (SELECT 1 FROM order_lines l WHERE l.order_id = o.id)
RETURNING o.id`)
	if err != nil {
		return nil, wrapErr("sweep orphan orders", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, wrapErr("sweep orphan orders", err)
	}
	return ids, nil
}

func (t *txRepo) collectIDs(ctx context.Context, op, query string, ids []int64) ([]int64, error) {
	rows, err := t.tx.Query(ctx, query, ids)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return found, nil
}

// likePattern escapes LIKE metacharacters so the filter matches literally.
func likePattern(filter string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(filter) + "%"
}

// wrapErr classifies a driver error into one of the shared kinds while keeping
// the original error in the chain for retry detection.
func wrapErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err):
		return fmt.Errorf("stock: %s: %w: %w", op, shared.ErrConflict, err)
	case db.IsForeignKeyViolation(err):
		return fmt.Errorf("stock: %s: %w: %w", op, shared.ErrNotFound, err)
	default:
		return fmt.Errorf("stock: %s: %w: %w", op, shared.ErrStore, err)
	}
}
