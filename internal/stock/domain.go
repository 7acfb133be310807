package stock

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// ReceiptStatus summarises whether everything ordered has been received.
type ReceiptStatus string

const (
	StatusComplete   ReceiptStatus = "Complete"
	StatusIncomplete ReceiptStatus = "Incomplete"
)

// StatusFor derives the receipt status from aggregate quantities.
func StatusFor(received, ordered int64) ReceiptStatus {
	if received == ordered {
		return StatusComplete
	}
	return StatusIncomplete
}

// Item is a catalog product.
type Item struct {
	ID          int64           `json:"item_id"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
}

// ItemView is an item with quantities aggregated over its order lines.
type ItemView struct {
	ItemID      int64           `json:"item_id"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	QtyOnHand   int64           `json:"qty_on_hand"`
	QtyOnOrder  int64           `json:"qty_on_order"`
}

// Order is a purchase order header identified by its reference number.
type Order struct {
	ID        int64  `json:"order_id"`
	RefNumber string `json:"ref_number"`
}

// OrderLine is the per-item quantity record within an order.
type OrderLine struct {
	OrderID     int64 `json:"order_id"`
	ItemID      int64 `json:"item_id"`
	QtyOrdered  int64 `json:"qty_ordered"`
	QtyReceived int64 `json:"qty_received"`
}

// OrderView is an order with totals aggregated over its lines.
type OrderView struct {
	OrderID     int64           `json:"order_id"`
	RefNumber   string          `json:"ref_number"`
	QtyReceived int64           `json:"qty_received"`
	QtyOrdered  int64           `json:"qty_ordered"`
	OrderValue  decimal.Decimal `json:"order_value"`
	TotalItems  int64           `json:"total_items"`
	Status      ReceiptStatus   `json:"status"`
}

// OrderLineDetail is one line of an order joined with its item.
type OrderLineDetail struct {
	ItemID      int64           `json:"item_id"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	QtyReceived int64           `json:"qty_received"`
	QtyOrdered  int64           `json:"qty_ordered"`
}

// ItemBreakdownRow is one order containing a given item.
type ItemBreakdownRow struct {
	OrderID     int64         `json:"order_id"`
	RefNumber   string        `json:"ref_number"`
	QtyReceived int64         `json:"qty_received"`
	QtyOrdered  int64         `json:"qty_ordered"`
	Status      ReceiptStatus `json:"status"`
}

// ItemInput carries the editable item fields.
type ItemInput struct {
	Description string
	Price       decimal.Decimal
}

// SubmitOrderInput describes an order submission. Quantities maps item id to
// the quantity to order. IdempotencyKey is optional.
type SubmitOrderInput struct {
	RefNumber      string
	Quantities     map[int64]int64
	MergeIfExists  bool
	IdempotencyKey string
}

// SubmitResult reports what a submission did.
type SubmitResult struct {
	OrderID      int64 `json:"order_id"`
	Merged       bool  `json:"merged"`
	LinesAdded   int   `json:"lines_added"`
	LinesUpdated int   `json:"lines_updated"`
}

// MaxQty is the largest quantity a line can hold.
const MaxQty = 1<<31 - 1

// MaxPrice is the largest price the NUMERIC(12,2) price column stores.
var MaxPrice = decimal.RequireFromString("9999999999.99")

var (
	ErrItemNotFound           = fmt.Errorf("stock: item not found: %w", shared.ErrNotFound)
	ErrOrderNotFound          = fmt.Errorf("stock: order not found: %w", shared.ErrNotFound)
	ErrLineNotFound           = fmt.Errorf("stock: order line not found: %w", shared.ErrNotFound)
	ErrDuplicateDescription   = fmt.Errorf("stock: item description already exists: %w", shared.ErrConflict)
	ErrDuplicateRef           = fmt.Errorf("stock: order ref number already exists: %w", shared.ErrConflict)
	ErrOrderExists            = fmt.Errorf("stock: order ref number already exists, resubmit with mergeIfExists to add to it: %w", shared.ErrConflict)
	ErrReceivedExceedsOrdered = fmt.Errorf("stock: qty received exceeds qty ordered: %w", shared.ErrValidation)
	ErrQtyOverflow            = fmt.Errorf("stock: qty ordered exceeds maximum: %w", shared.ErrValidation)
)
