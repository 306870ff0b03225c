package common_test

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/Developersbbs/Rental-client-sub001/internal/common"
)

func newIdem(t *testing.T) common.Idem {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return common.Idem{R: client, TTL: time.Minute}
}

func TestIdemReplaysCompletedResponse(t *testing.T) {
	idem := newIdem(t)
	var calls atomic.Int32
	handler := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		common.Data(w, http.StatusCreated, map[string]string{"payment_id": "p-1"})
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/bills/b-1/payments", nil)
		req.Header.Set("Idempotency-Key", "abc")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	first := send()
	require.Equal(t, http.StatusCreated, first.Code)
	second := send()
	require.Equal(t, http.StatusCreated, second.Code)
	require.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	require.JSONEq(t, first.Body.String(), second.Body.String())
	require.EqualValues(t, 1, calls.Load())
}

func TestIdemScopesKeyByPath(t *testing.T) {
	idem := newIdem(t)
	var calls atomic.Int32
	handler := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))

	for _, path := range []string{"/api/v1/bills/b-1/payments", "/api/v1/bills/b-2/payments"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set("Idempotency-Key", "same")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	require.EqualValues(t, 2, calls.Load())
}

func TestIdemReleasesKeyOnServerError(t *testing.T) {
	idem := newIdem(t)
	var calls atomic.Int32
	handler := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			common.JSONError(w, http.StatusBadGateway, "UPSTREAM_FAILED", "ledger unavailable", nil)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/bills/b-1/payments", nil)
		req.Header.Set("Idempotency-Key", "retry-me")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	require.EqualValues(t, 2, calls.Load())
}

func TestIdemKeepsCommittedServerError(t *testing.T) {
	idem := newIdem(t)
	var calls atomic.Int32
	handler := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		common.MarkCommitted(r.Context())
		common.JSONError(w, http.StatusBadGateway, "UPSTREAM_FAILED", "ledger unavailable", map[string]string{"payment_id": "p-1"})
	}))

	var codes []int
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/bills/b-1/payments", nil)
		req.Header.Set("Idempotency-Key", "committed")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
		if i == 1 {
			require.Equal(t, "true", rr.Header().Get("Idempotent-Replayed"))
			require.Contains(t, rr.Body.String(), `"payment_id":"p-1"`)
		}
	}
	require.Equal(t, []int{http.StatusBadGateway, http.StatusBadGateway}, codes)
	require.EqualValues(t, 1, calls.Load())
}

func TestMarkCommittedOutsideMiddleware(t *testing.T) {
	require.NotPanics(t, func() { common.MarkCommitted(t.Context()) })
}

func TestIdemWithoutHeaderPassesThrough(t *testing.T) {
	idem := newIdem(t)
	var calls atomic.Int32
	handler := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/x", nil))
	}
	require.EqualValues(t, 2, calls.Load())
}
