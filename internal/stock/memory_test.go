package stock

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

type lineKey struct {
	order int64
	item  int64
}

// memoryRepo mirrors the SQL repository. WithTx snapshots state and restores
// it when the callback fails so rollback behaviour can be asserted.
type memoryRepo struct {
	items     map[int64]Item
	orders    map[int64]Order
	lines     map[lineKey]OrderLine
	nextItem  int64
	nextOrder int64

	failLineInsertAt int
	lineInserts      int
	txCount          int
}

type memoryTx struct {
	repo *memoryRepo
}

var errInjected = errors.New("injected failure")

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		items:  make(map[int64]Item),
		orders: make(map[int64]Order),
		lines:  make(map[lineKey]OrderLine),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.txCount++
	items := cloneMap(r.items)
	orders := cloneMap(r.orders)
	lines := cloneMap(r.lines)
	nextItem, nextOrder := r.nextItem, r.nextOrder
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.items, r.orders, r.lines = items, orders, lines
		r.nextItem, r.nextOrder = nextItem, nextOrder
		return err
	}
	return nil
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// putOrder inserts an order header with no lines, bypassing the engine.
func (r *memoryRepo) putOrder(ref string) int64 {
	r.nextOrder++
	r.orders[r.nextOrder] = Order{ID: r.nextOrder, RefNumber: ref}
	return r.nextOrder
}

func (r *memoryRepo) GetItem(ctx context.Context, id int64) (Item, error) {
	it, ok := r.items[id]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return it, nil
}

func (r *memoryRepo) ListItemViews(ctx context.Context, filter string) ([]ItemView, error) {
	views := []ItemView{}
	for _, it := range r.items {
		if !containsILike(it.Description, filter) {
			continue
		}
		v := ItemView{ItemID: it.ID, Description: it.Description, Price: it.Price}
		for k, l := range r.lines {
			if k.item == it.ID {
				v.QtyOnHand += l.QtyReceived
				v.QtyOnOrder += l.QtyOrdered
			}
		}
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ItemID < views[j].ItemID })
	return views, nil
}

func (r *memoryRepo) GetOrder(ctx context.Context, id int64) (Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return o, nil
}

func (r *memoryRepo) ListOrderViews(ctx context.Context, filter string) ([]OrderView, error) {
	views := []OrderView{}
	for _, o := range r.orders {
		if !containsILike(o.RefNumber, filter) {
			continue
		}
		v := OrderView{OrderID: o.ID, RefNumber: o.RefNumber, OrderValue: decimal.Zero}
		for k, l := range r.lines {
			if k.order != o.ID {
				continue
			}
			v.QtyReceived += l.QtyReceived
			v.QtyOrdered += l.QtyOrdered
			v.OrderValue = v.OrderValue.Add(r.items[k.item].Price.Mul(decimal.NewFromInt(l.QtyOrdered)))
			v.TotalItems++
		}
		v.Status = StatusFor(v.QtyReceived, v.QtyOrdered)
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].OrderID < views[j].OrderID })
	return views, nil
}

func (r *memoryRepo) ListOrderLines(ctx context.Context, orderID int64) ([]OrderLineDetail, error) {
	out := []OrderLineDetail{}
	for k, l := range r.lines {
		if k.order != orderID {
			continue
		}
		it := r.items[k.item]
		out = append(out, OrderLineDetail{ItemID: it.ID, Description: it.Description, Price: it.Price, QtyReceived: l.QtyReceived, QtyOrdered: l.QtyOrdered})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

func (r *memoryRepo) ListItemBreakdown(ctx context.Context, itemID int64) ([]ItemBreakdownRow, error) {
	out := []ItemBreakdownRow{}
	for k, l := range r.lines {
		if k.item != itemID {
			continue
		}
		out = append(out, ItemBreakdownRow{
			OrderID:     k.order,
			RefNumber:   r.orders[k.order].RefNumber,
			QtyReceived: l.QtyReceived,
			QtyOrdered:  l.QtyOrdered,
			Status:      StatusFor(l.QtyReceived, l.QtyOrdered),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

func (tx *memoryTx) GetItemForUpdate(ctx context.Context, id int64) (Item, error) {
	return tx.repo.GetItem(ctx, id)
}

func (tx *memoryTx) ItemIDByDescription(ctx context.Context, description string) (int64, bool, error) {
	for _, it := range tx.repo.items {
		if it.Description == description {
			return it.ID, true, nil
		}
	}
	return 0, false, nil
}

func (tx *memoryTx) InsertItem(ctx context.Context, in ItemInput) (Item, error) {
	tx.repo.nextItem++
	it := Item{ID: tx.repo.nextItem, Description: in.Description, Price: in.Price}
	tx.repo.items[it.ID] = it
	return it, nil
}

func (tx *memoryTx) UpdateItem(ctx context.Context, id int64, in ItemInput) error {
	if _, ok := tx.repo.items[id]; !ok {
		return ErrItemNotFound
	}
	tx.repo.items[id] = Item{ID: id, Description: in.Description, Price: in.Price}
	return nil
}

func (tx *memoryTx) ItemsForShare(ctx context.Context, ids []int64) ([]int64, error) {
	return existing(tx.repo.items, ids), nil
}

func (tx *memoryTx) ItemsForUpdate(ctx context.Context, ids []int64) ([]int64, error) {
	return existing(tx.repo.items, ids), nil
}

func (tx *memoryTx) DeleteLinesForItems(ctx context.Context, ids []int64) (int64, error) {
	var n int64
	for k := range tx.repo.lines {
		if containsID(ids, k.item) {
			delete(tx.repo.lines, k)
			n++
		}
	}
	return n, nil
}

func (tx *memoryTx) DeleteItems(ctx context.Context, ids []int64) (int64, error) {
	var n int64
	for _, id := range ids {
		if _, ok := tx.repo.items[id]; ok {
			delete(tx.repo.items, id)
			n++
		}
	}
	return n, nil
}

func (tx *memoryTx) FindOrderByRef(ctx context.Context, ref string) (Order, bool, error) {
	for _, o := range tx.repo.orders {
		if o.RefNumber == ref {
			return o, true, nil
		}
	}
	return Order{}, false, nil
}

func (tx *memoryTx) GetOrderForUpdate(ctx context.Context, id int64) (Order, error) {
	return tx.repo.GetOrder(ctx, id)
}

func (tx *memoryTx) OrdersForUpdate(ctx context.Context, ids []int64) ([]int64, error) {
	return existing(tx.repo.orders, ids), nil
}

func (tx *memoryTx) InsertOrder(ctx context.Context, ref string) (int64, error) {
	if _, ok, _ := tx.FindOrderByRef(ctx, ref); ok {
		return 0, ErrDuplicateRef
	}
	return tx.repo.putOrder(ref), nil
}

func (tx *memoryTx) RenameOrder(ctx context.Context, id int64, ref string) error {
	o, ok := tx.repo.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	o.RefNumber = ref
	tx.repo.orders[id] = o
	return nil
}

func (tx *memoryTx) GetLineForUpdate(ctx context.Context, orderID, itemID int64) (OrderLine, bool, error) {
	l, ok := tx.repo.lines[lineKey{orderID, itemID}]
	return l, ok, nil
}

func (tx *memoryTx) InsertLine(ctx context.Context, line OrderLine) error {
	tx.repo.lineInserts++
	if tx.repo.failLineInsertAt > 0 && tx.repo.lineInserts == tx.repo.failLineInsertAt {
		return errInjected
	}
	tx.repo.lines[lineKey{line.OrderID, line.ItemID}] = line
	return nil
}

func (tx *memoryTx) SetLineOrdered(ctx context.Context, orderID, itemID, qty int64) error {
	k := lineKey{orderID, itemID}
	l, ok := tx.repo.lines[k]
	if !ok {
		return ErrLineNotFound
	}
	l.QtyOrdered = qty
	tx.repo.lines[k] = l
	return nil
}

func (tx *memoryTx) SetLineReceived(ctx context.Context, orderID, itemID, qty int64) error {
	k := lineKey{orderID, itemID}
	l, ok := tx.repo.lines[k]
	if !ok {
		return ErrLineNotFound
	}
	l.QtyReceived = qty
	tx.repo.lines[k] = l
	return nil
}

func (tx *memoryTx) ReceiveAll(ctx context.Context, orderID int64) (int64, error) {
	var n int64
	for k, l := range tx.repo.lines {
		if k.order == orderID && l.QtyReceived != l.QtyOrdered {
			l.QtyReceived = l.QtyOrdered
			tx.repo.lines[k] = l
			n++
		}
	}
	return n, nil
}

func (tx *memoryTx) DeleteLinesForOrders(ctx context.Context, ids []int64) (int64, error) {
	var n int64
	for k := range tx.repo.lines {
		if containsID(ids, k.order) {
			delete(tx.repo.lines, k)
			n++
		}
	}
	return n, nil
}

func (tx *memoryTx) DeleteOrders(ctx context.Context, ids []int64) (int64, error) {
	var n int64
	for _, id := range ids {
		if _, ok := tx.repo.orders[id]; ok {
			delete(tx.repo.orders, id)
			n++
		}
	}
	return n, nil
}

func (tx *memoryTx) DeleteOrphanOrders(ctx context.Context) ([]int64, error) {
	used := make(map[int64]bool)
	for k := range tx.repo.lines {
		used[k.order] = true
	}
	var swept []int64
	for id := range tx.repo.orders {
		if !used[id] {
			delete(tx.repo.orders, id)
			swept = append(swept, id)
		}
	}
	sort.Slice(swept, func(i, j int) bool { return swept[i] < swept[j] })
	return swept, nil
}

func existing[V any](m map[int64]V, ids []int64) []int64 {
	var out []int64
	for _, id := range ids {
		if _, ok := m[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func containsILike(s, sub string) bool {
	return strings.Contains(ilikeKey(s), ilikeKey(sub))
}
