package stock

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// IdempotencyHeader carries the optional client key for order submissions.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes the stock engine as JSON over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds the HTTP handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers item and order endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/items", func(r chi.Router) {
		r.Get("/", h.listItems)
		r.Post("/", h.createItem)
		r.Delete("/", h.deleteItems)
		r.Get("/breakdown/{id}", h.itemBreakdown)
		r.Get("/{id}", h.getItem)
		r.Put("/{id}", h.updateItem)
	})
	r.Get("/items-breakdown/{id}", h.itemBreakdown)

	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.listOrders)
		r.Post("/", h.submitOrder)
		r.Delete("/", h.deleteOrders)
		r.Put("/item/{id}", h.updateReceived)
		r.Put("/receive/{id}", h.receiveAll)
		r.Get("/{id}", h.orderLines)
		r.Put("/{id}", h.renameOrder)
	})
}

// flexInt accepts a JSON number or a string of digits.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(unquoted)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("%s is not an integer", raw)
	}
	*f = flexInt(n)
	return nil
}

type itemRequest struct {
	Description string           `json:"description"`
	Price       *decimal.Decimal `json:"price"`
}

func (req itemRequest) input() (ItemInput, error) {
	if req.Price == nil {
		return ItemInput{}, fmt.Errorf("stock: price is required: %w", shared.ErrValidation)
	}
	return ItemInput{Description: req.Description, Price: *req.Price}, nil
}

type deleteItemsRequest struct {
	CheckedItems []flexInt `json:"checkedItems"`
}

type deleteItemsResponse struct {
	Message     string  `json:"message"`
	SweptOrders []int64 `json:"swept_orders"`
}

type submitOrderRequest struct {
	RefNumber     string             `json:"refNumber"`
	QtyOrdered    map[string]flexInt `json:"qtyOrdered"`
	MergeIfExists bool               `json:"mergeIfExists"`
	ShowModal     bool               `json:"showModal"`
}

func (req submitOrderRequest) input() (SubmitOrderInput, error) {
	quantities := make(map[int64]int64, len(req.QtyOrdered))
	keys := make(map[int64]string, len(req.QtyOrdered))
	for key, qty := range req.QtyOrdered {
		id, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
		if err != nil {
			return SubmitOrderInput{}, fmt.Errorf("stock: item id %q is not an integer: %w", key, shared.ErrValidation)
		}
		if prev, dup := keys[id]; dup {
			return SubmitOrderInput{}, fmt.Errorf("stock: item ids %q and %q name the same item: %w", prev, key, shared.ErrValidation)
		}
		keys[id] = key
		quantities[id] = int64(qty)
	}
	return SubmitOrderInput{
		RefNumber:     req.RefNumber,
		Quantities:    quantities,
		MergeIfExists: req.MergeIfExists || req.ShowModal,
	}, nil
}

type renameOrderRequest struct {
	RefNumber string `json:"refNumber"`
}

type updateReceivedRequest struct {
	QtyReceived *flexInt `json:"qtyReceived"`
	ItemID      flexInt  `json:"itemId"`
}

type deleteOrdersRequest struct {
	CheckedOrders []flexInt `json:"checkedOrders"`
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	views, err := h.service.ListItems(r.Context(), r.URL.Query().Get("description"))
	if err != nil {
		h.fail(w, r, "list items", err)
		return
	}
	httpx.JSON(w, http.StatusOK, views)
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, "get item", err)
		return
	}
	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "create item", err)
		return
	}
	in, err := req.input()
	if err != nil {
		h.fail(w, r, "create item", err)
		return
	}
	item, err := h.service.CreateItem(r.Context(), in)
	if err != nil {
		h.fail(w, r, "create item", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, "update item", err)
		return
	}
	var req itemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "update item", err)
		return
	}
	in, err := req.input()
	if err != nil {
		h.fail(w, r, "update item", err)
		return
	}
	if err := h.service.UpdateItem(r.Context(), id, in); err != nil {
		h.fail(w, r, "update item", err)
		return
	}
	httpx.OK(w, "Item was updated")
}

func (h *Handler) deleteItems(w http.ResponseWriter, r *http.Request) {
	var req deleteItemsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "delete items", err)
		return
	}
	swept, err := h.service.DeleteItems(r.Context(), toIDs(req.CheckedItems))
	if err != nil {
		h.fail(w, r, "delete items", err)
		return
	}
	if swept == nil {
		swept = []int64{}
	}
	httpx.JSON(w, http.StatusOK, deleteItemsResponse{Message: "Items were deleted", SweptOrders: swept})
}

func (h *Handler) itemBreakdown(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, "item breakdown", err)
		return
	}
	rows, err := h.service.GetItemBreakdown(r.Context(), id)
	if err != nil {
		h.fail(w, r, "item breakdown", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	views, err := h.service.ListOrders(r.Context(), r.URL.Query().Get("ref"))
	if err != nil {
		h.fail(w, r, "list orders", err)
		return
	}
	httpx.JSON(w, http.StatusOK, views)
}

func (h *Handler) orderLines(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, "order lines", err)
		return
	}
	lines, err := h.service.GetOrderLines(r.Context(), id)
	if err != nil {
		h.fail(w, r, "order lines", err)
		return
	}
	httpx.JSON(w, http.StatusOK, lines)
}

func (h *Handler) submitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "submit order", err)
		return
	}
	in, err := req.input()
	if err != nil {
		h.fail(w, r, "submit order", err)
		return
	}
	in.IdempotencyKey = strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	res, err := h.service.SubmitOrder(r.Context(), in)
	if err != nil {
		h.fail(w, r, "submit order", err)
		return
	}
	status := http.StatusCreated
	if res.Merged {
		status = http.StatusOK
	}
	h.logger.InfoContext(r.Context(), "order submitted",
		slog.Int64("order_id", res.OrderID),
		slog.Bool("merged", res.Merged),
		slog.Int("lines_added", res.LinesAdded),
		slog.Int("lines_updated", res.LinesUpdated))
	httpx.JSON(w, status, res)
}

func (h *Handler) renameOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, "rename order", err)
		return
	}
	var req renameOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "rename order", err)
		return
	}
	if err := h.service.RenameOrder(r.Context(), id, req.RefNumber); err != nil {
		h.fail(w, r, "rename order", err)
		return
	}
	httpx.OK(w, "Order was updated")
}

func (h *Handler) updateReceived(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, "update received", err)
		return
	}
	var req updateReceivedRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "update received", err)
		return
	}
	if req.QtyReceived == nil {
		h.fail(w, r, "update received", fmt.Errorf("stock: qtyReceived is required: %w", shared.ErrValidation))
		return
	}
	if err := h.service.UpdateReceived(r.Context(), id, int64(req.ItemID), int64(*req.QtyReceived)); err != nil {
		h.fail(w, r, "update received", err)
		return
	}
	httpx.OK(w, "Order item was updated")
}

func (h *Handler) receiveAll(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, "receive all", err)
		return
	}
	if err := h.service.ReceiveAll(r.Context(), id); err != nil {
		h.fail(w, r, "receive all", err)
		return
	}
	httpx.OK(w, "Order was received")
}

func (h *Handler) deleteOrders(w http.ResponseWriter, r *http.Request) {
	var req deleteOrdersRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "delete orders", err)
		return
	}
	if err := h.service.DeleteOrders(r.Context(), toIDs(req.CheckedOrders)); err != nil {
		h.fail(w, r, "delete orders", err)
		return
	}
	httpx.OK(w, "Orders were deleted")
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	level := slog.LevelWarn
	if shared.Kind(err) == "store" {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, op+" failed",
		slog.String("kind", shared.Kind(err)),
		slog.String("path", r.URL.Path),
		slog.Any("error", err))
	httpx.RespondError(w, err)
}

func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("stock: id %q must be a positive integer: %w", raw, shared.ErrValidation)
	}
	return id, nil
}

func toIDs(in []flexInt) []int64 {
	out := make([]int64, 0, len(in))
	for _, v := range in {
		out = append(out, int64(v))
	}
	return out
}
