package stock

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
)

func newTestRouter(t *testing.T, opts ...Option) (http.Handler, *memoryRepo) {
	t.Helper()
	svc, repo := newTestService(t, opts...)
	handler := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)
	r := chi.NewRouter()
	handler.MountRoutes(r)
	return r, repo
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var p httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestHandlerItemLifecycle(t *testing.T) {
	h, repo := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/items", `{"description":"Bolt","price":"1.25"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var item Item
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	require.Equal(t, "Bolt", item.Description)
	require.True(t, decimal.RequireFromString("1.25").Equal(item.Price))

	rec = do(t, h, http.MethodPost, "/items", `{"description":"Bolt","price":2}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "conflict", decodeProblem(t, rec).Type)

	rec = do(t, h, http.MethodPost, "/items", `{"description":"Nut"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPost, "/items", `{"description":"Crane","price":"10000000000"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "validation", decodeProblem(t, rec).Type)

	rec = do(t, h, http.MethodPut, "/items/1", `{"description":"Hex Bolt","price":3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Hex Bolt", repo.items[1].Description)

	rec = do(t, h, http.MethodGet, "/items/1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/items/abc", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/items/9", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "not_found", decodeProblem(t, rec).Type)

	rec = do(t, h, http.MethodGet, "/items?description=hex", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var views []ItemView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
}

func TestHandlerSubmitAcceptsStringQuantities(t *testing.T) {
	h, repo := newTestRouter(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/items", `{"description":"Bolt","price":1}`).Code)

	rec := do(t, h, http.MethodPost, "/orders", `{"refNumber":"PO1","qtyOrdered":{"1":"3"},"showModal":false}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var res SubmitResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.False(t, res.Merged)

	rec = do(t, h, http.MethodPost, "/orders", `{"refNumber":"PO1","qtyOrdered":{"1":2}}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/orders", `{"refNumber":"PO1","qtyOrdered":{"1":2},"showModal":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.True(t, res.Merged)
	require.Equal(t, int64(5), repo.lines[lineKey{res.OrderID, 1}].QtyOrdered)

	rec = do(t, h, http.MethodPost, "/orders", `{"refNumber":"PO2","qtyOrdered":{"1":"1.5"}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPost, "/orders", `{"refNumber":"PO2","qtyOrdered":{"x":1}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	for _, body := range []string{
		`{"refNumber":"PO2","qtyOrdered":{"1":1,"01":2}}`,
		`{"refNumber":"PO2","qtyOrdered":{"1":1," 1":2}}`,
	} {
		rec = do(t, h, http.MethodPost, "/orders", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
		require.Equal(t, "validation", decodeProblem(t, rec).Type)
	}
	rec = do(t, h, http.MethodPost, "/orders", `{"refNumber":"PO2","qtyOrdered":{"8":1}}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Len(t, repo.orders, 1)
}

func TestHandlerSubmitReplayedIdempotencyKey(t *testing.T) {
	idem := &memoryIdempotency{keys: map[string]bool{}}
	h, repo := newTestRouter(t, WithIdempotency(idem))
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/items", `{"description":"Bolt","price":1}`).Code)

	body := `{"refNumber":"PO1","qtyOrdered":{"1":1},"mergeIfExists":true}`
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/orders", body, IdempotencyHeader, "k1").Code)
	require.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/orders", body, IdempotencyHeader, "k1").Code)
	require.Equal(t, int64(1), repo.lines[lineKey{1, 1}].QtyOrdered)
}

func TestHandlerOrderReceiptFlow(t *testing.T) {
	h, repo := newTestRouter(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/items", `{"description":"Bolt","price":"2.50"}`).Code)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/orders", `{"refNumber":"PO1","qtyOrdered":{"1":4}}`).Code)

	rec := do(t, h, http.MethodPut, "/orders/item/1", `{"qtyReceived":"5","itemId":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPut, "/orders/item/1", `{"itemId":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPut, "/orders/item/1", `{"qtyReceived":"2","itemId":"1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(2), repo.lines[lineKey{1, 1}].QtyReceived)

	rec = do(t, h, http.MethodGet, "/orders?ref=po", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var orders []OrderView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
	require.Len(t, orders, 1)
	require.Equal(t, StatusIncomplete, orders[0].Status)
	require.True(t, decimal.NewFromInt(10).Equal(orders[0].OrderValue))

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPut, "/orders/receive/1", "").Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPut, "/orders/receive/1", "").Code)
	require.Equal(t, int64(4), repo.lines[lineKey{1, 1}].QtyReceived)

	rec = do(t, h, http.MethodGet, "/items-breakdown/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []ItemBreakdownRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	require.Equal(t, StatusComplete, rows[0].Status)

	rec = do(t, h, http.MethodGet, "/items/breakdown/1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/orders/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var lines []OrderLineDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lines))
	require.Len(t, lines, 1)
	require.Equal(t, "Bolt", lines[0].Description)
}

func TestHandlerRenameAndDelete(t *testing.T) {
	h, repo := newTestRouter(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/items", `{"description":"Bolt","price":1}`).Code)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/items", `{"description":"Nut","price":1}`).Code)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/orders", `{"refNumber":"PO1","qtyOrdered":{"1":1}}`).Code)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/orders", `{"refNumber":"PO2","qtyOrdered":{"2":1}}`).Code)

	require.Equal(t, http.StatusConflict, do(t, h, http.MethodPut, "/orders/1", `{"refNumber":"PO2"}`).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPut, "/orders/1", `{"refNumber":"PO1"}`).Code)
	require.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/orders/1", `{"refNumber":""}`).Code)

	rec := do(t, h, http.MethodDelete, "/items", `{"checkedItems":["1"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp deleteItemsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, []int64{1}, resp.SweptOrders)
	require.NotContains(t, repo.orders, int64(1))

	require.Equal(t, http.StatusBadRequest, do(t, h, http.MethodDelete, "/orders", `{"checkedOrders":[]}`).Code)
	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/orders", `{"checkedOrders":[1]}`).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodDelete, "/orders", `{"checkedOrders":[2]}`).Code)
	require.Empty(t, repo.orders)
	require.Len(t, repo.items, 1)

	require.Equal(t, http.StatusBadRequest, do(t, h, http.MethodDelete, "/items", `not json`).Code)
}
