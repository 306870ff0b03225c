package billing

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Developersbbs/Rental-client-sub001/internal/money"
)

func withClock(t *testing.T, ts time.Time) {
	t.Helper()
	prev := now
	now = func() time.Time { return ts }
	t.Cleanup(func() { now = prev })
}

func TestStateRoundTripRecomputes(t *testing.T) {
	ts := time.Date(2024, time.May, 10, 9, 30, 0, 0, time.UTC)
	withClock(t, ts)

	p := money.MustParse("100.00")
	bill, err := New(CreateInput{
		ID:              "bill-1",
		Items:           []ItemInput{{Product: ProductID("sku-1"), Name: "Camera", Quantity: 2, Price: &p}},
		DiscountPercent: decimal.NewFromInt(10),
		TaxPercent:      decimal.NewFromInt(18),
		InitialPayment:  &PaymentInput{ID: "pay-1", Amount: money.MustParse("100.00"), Method: MethodCard},
	})
	require.NoError(t, err)
	bill.SetVersion(3)

	raw, err := json.Marshal(bill.State())
	require.NoError(t, err)
	require.NotContains(t, string(raw), "total")

	var st State
	require.NoError(t, json.Unmarshal(raw, &st))
	st.Version = 3
	restored, err := Restore(st)
	require.NoError(t, err)

	want := bill.Snapshot()
	got := restored.Snapshot()
	require.Equal(t, want.TotalAmount, got.TotalAmount)
	require.Equal(t, money.MustParse("112.40"), got.DueAmount)
	require.Equal(t, StatusPartial, got.PaymentStatus)
	require.Equal(t, int64(3), got.Version)
	require.True(t, got.Payments[0].Date.Equal(time.Date(2024, time.May, 10, 0, 0, 0, 0, time.UTC)))
	require.True(t, got.CreatedAt.Equal(ts))
	require.Len(t, got.Items, 1)
	require.Equal(t, money.MustParse("200.00"), got.Items[0].Total)
}

func TestRestoreRejectsCorruptState(t *testing.T) {
	base := State{ID: "b", DiscountPercent: decimal.Zero, TaxPercent: decimal.Zero}

	st := base
	st.Items = []ItemState{{Product: ProductID("p"), Name: "x", Quantity: 0, Price: 1}}
	_, err := Restore(st)
	require.ErrorIs(t, err, ErrValidation)

	st = base
	st.Payments = []PaymentRecord{{ID: "p1", Amount: -1, Method: MethodCash}}
	_, err = Restore(st)
	require.ErrorIs(t, err, ErrInvalidPayment)

	st = base
	st.Payments = []PaymentRecord{{ID: "p1", Amount: 1, Method: MethodCash}, {ID: "p1", Amount: 1, Method: MethodCash}}
	_, err = Restore(st)
	require.ErrorIs(t, err, ErrValidation)

	st = base
	st.ID = ""
	_, err = Restore(st)
	require.ErrorIs(t, err, ErrValidation)
}

func TestPaymentDateDefaultsToToday(t *testing.T) {
	ts := time.Date(2024, time.June, 1, 23, 15, 0, 0, time.UTC)
	withClock(t, ts)
	p := money.MustParse("10.00")
	bill, err := New(CreateInput{Items: []ItemInput{{Product: ProductID("p"), Name: "Rope", Quantity: 1, Price: &p}}})
	require.NoError(t, err)

	rec, err := bill.RecordPayment(PaymentInput{Amount: money.MustParse("4.00"), Method: MethodCash})
	require.NoError(t, err)
	require.True(t, rec.Date.Equal(time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)))
	require.True(t, rec.RecordedAt.Equal(ts))
	require.NotEmpty(t, rec.ID)
}
