package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

func TestRespondErrorMapsKinds(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		kind   string
		detail bool
	}{
		{"validation", fmt.Errorf("bad price: %w", shared.ErrValidation), http.StatusBadRequest, "validation", true},
		{"not found", fmt.Errorf("item 9: %w", shared.ErrNotFound), http.StatusNotFound, "not_found", true},
		{"conflict", fmt.Errorf("ref taken: %w", shared.ErrConflict), http.StatusConflict, "conflict", true},
		{"store", errors.New("connection reset"), http.StatusInternalServerError, "store", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			RespondError(rr, tc.err)
			require.Equal(t, tc.status, rr.Code)
			require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
			var body ProblemDetail
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			require.Equal(t, tc.kind, body.Type)
			require.Equal(t, tc.status, body.Status)
			if tc.detail {
				require.Equal(t, tc.err.Error(), body.Detail)
			} else {
				require.Empty(t, body.Detail)
			}
		})
	}
}

func TestDecodeJSONWrapsValidation(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/items", strings.NewReader("{not json"))
	var target map[string]any
	err := DecodeJSON(req, &target)
	require.ErrorIs(t, err, shared.ErrValidation)
}
