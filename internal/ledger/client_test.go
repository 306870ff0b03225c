package ledger_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Developersbbs/Rental-client-sub001/internal/ledger"
	"github.com/Developersbbs/Rental-client-sub001/internal/ledger/mocks"
	"github.com/Developersbbs/Rental-client-sub001/internal/money"
	"github.com/Developersbbs/Rental-client-sub001/internal/resilience"
)

func TestClientCreditSendsIdempotencyKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/accounts/ACC-1/credits", r.URL.Path)
		require.Equal(t, "pay-1", r.Header.Get("Idempotency-Key"))
		require.Equal(t, "Bearer ledger-token", r.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "50.00", body["amount"])
		require.Equal(t, "pay-1", body["idempotency_key"])
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := &ledger.Client{
		BaseURL: srv.URL,
		Token:   "ledger-token",
		HTTP:    resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1, Target: "ledger"},
	}
	require.NoError(t, client.Credit(context.Background(), "ACC-1", money.MustParse("50.00"), "pay-1"))
}

func TestClientCreditStatusMapping(t *testing.T) {
	testCases := []struct {
		name      string
		status    int
		wantErr   bool
		permanent bool
	}{
		{name: "created", status: http.StatusCreated},
		{name: "ok", status: http.StatusOK},
		{name: "already applied", status: http.StatusConflict},
		{name: "unknown account", status: http.StatusNotFound, wantErr: true, permanent: true},
		{name: "rejected", status: http.StatusUnprocessableEntity, wantErr: true, permanent: true},
		{name: "throttled", status: http.StatusTooManyRequests, wantErr: true},
		{name: "unauthorised", status: http.StatusUnauthorized, wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			doer := mocks.NewMockDoer(ctrl)
			doer.EXPECT().Do(gomock.Any(), gomock.Any()).Return(&http.Response{
				StatusCode: tc.status,
				Body:       io.NopCloser(strings.NewReader("{}")),
			}, nil)

			client := &ledger.Client{BaseURL: "http://ledger.local", HTTP: doer}
			err := client.Credit(context.Background(), "ACC-1", money.MustParse("1.00"), "pay-1")
			if !tc.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Equal(t, tc.permanent, errors.Is(err, ledger.ErrPermanent))
		})
	}
}

func TestClientCreditTransportFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := &ledger.Client{
		BaseURL: srv.URL,
		HTTP:    resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 2, BaseBackoff: time.Millisecond},
	}
	err := client.Credit(context.Background(), "ACC-1", money.MustParse("1.00"), "pay-1")
	require.Error(t, err)
	require.NotErrorIs(t, err, ledger.ErrPermanent)
}

func TestClientCreditRejectsBadInput(t *testing.T) {
	client := &ledger.Client{BaseURL: "http://ledger.local"}
	require.ErrorIs(t, client.Credit(context.Background(), " ", money.MustParse("1.00"), "k"), ledger.ErrPermanent)
	require.ErrorIs(t, client.Credit(context.Background(), "ACC", 0, "k"), ledger.ErrPermanent)
}
