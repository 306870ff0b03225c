package common_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Developersbbs/Rental-client-sub001/internal/common"
)

func TestWriteErrorRendersAppError(t *testing.T) {
	appErr := common.NewAppError("OVERPAYMENT", "amount exceeds due", http.StatusConflict, errors.New("x")).
		WithDetails(map[string]string{"due": "100.00"})
	rr := httptest.NewRecorder()
	common.WriteError(rr, fmt.Errorf("record payment: %w", appErr))

	require.Equal(t, http.StatusConflict, rr.Code)
	var body struct {
		Error common.ErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "OVERPAYMENT", body.Error.Code)
	require.Equal(t, map[string]any{"due": "100.00"}, body.Error.Details)
}

func TestWriteErrorHidesUnknownErrors(t *testing.T) {
	rr := httptest.NewRecorder()
	common.WriteError(rr, errors.New("pq: connection refused"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "connection refused")
}

func TestParsePaginationClamps(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/bills?page=3&limit=500", nil)
	page, perPage := common.ParsePagination(req, 20)
	require.Equal(t, 3, page)
	require.Equal(t, common.MaxPerPage, perPage)
	require.Equal(t, 200, common.Pagination{Page: page, PerPage: perPage}.Offset())
}
