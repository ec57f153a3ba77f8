package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-inventory/internal/shared"
)

func TestRespondErrorMapsCategories(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("lot: %w", shared.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("batch: %w", shared.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("lot expired: %w", shared.ErrConflict), http.StatusConflict},
		{fmt.Errorf("negative: %w", shared.ErrUnprocessable), http.StatusUnprocessableEntity},
		{fmt.Errorf("pool: %w", shared.ErrUnavailable), http.StatusServiceUnavailable},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		require.Equal(t, tc.status, rr.Code)
		var body ProblemDetail
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		require.Equal(t, tc.status, body.Status)
		if tc.status >= http.StatusInternalServerError {
			require.Empty(t, body.Detail)
		} else {
			require.Equal(t, tc.err.Error(), body.Detail)
		}
	}
}
