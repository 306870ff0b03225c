package billing_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Developersbbs/Rental-client-sub001/internal/billing"
	"github.com/Developersbbs/Rental-client-sub001/internal/money"
)

func price(v string) *money.Money {
	m := money.MustParse(v)
	return &m
}

func pct(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func scenarioBill(t *testing.T) *billing.Bill {
	t.Helper()
	bill, err := billing.New(billing.CreateInput{
		CustomerID: "cust-1",
		Items: []billing.ItemInput{
			{Product: billing.ProductID("sku-1"), Name: "Camera rental", Quantity: 2, Price: price("100.00")},
		},
		DiscountPercent: pct("10"),
		TaxPercent:      pct("18"),
	})
	require.NoError(t, err)
	return bill
}

func pay(amount string) billing.PaymentInput {
	return billing.PaymentInput{Amount: money.MustParse(amount), Method: billing.MethodCash}
}

func TestScenarioTotals(t *testing.T) {
	snap := scenarioBill(t).Snapshot()
	require.Equal(t, money.MustParse("200.00"), snap.Subtotal)
	require.Equal(t, money.MustParse("20.00"), snap.DiscountAmount)
	require.Equal(t, money.MustParse("180.00"), snap.TaxableAmount)
	require.Equal(t, money.MustParse("32.40"), snap.TaxAmount)
	require.Equal(t, money.MustParse("212.40"), snap.TotalAmount)
	require.Equal(t, money.MustParse("212.40"), snap.DueAmount)
	require.Equal(t, billing.StatusPending, snap.PaymentStatus)
}

func TestScenarioPartialThenPaid(t *testing.T) {
	bill := scenarioBill(t)

	_, err := bill.RecordPayment(pay("100.00"))
	require.NoError(t, err)
	snap := bill.Snapshot()
	require.Equal(t, money.MustParse("100.00"), snap.PaidAmount)
	require.Equal(t, money.MustParse("112.40"), snap.DueAmount)
	require.Equal(t, billing.StatusPartial, snap.PaymentStatus)

	_, err = bill.RecordPayment(pay("112.40"))
	require.NoError(t, err)
	snap = bill.Snapshot()
	require.Equal(t, money.Money(0), snap.DueAmount)
	require.Equal(t, billing.StatusPaid, snap.PaymentStatus)
	require.Len(t, snap.Payments, 2)
	require.Equal(t, money.MustParse("100.00"), snap.Payments[0].Amount)
	require.Equal(t, money.MustParse("112.40"), snap.Payments[1].Amount)
}

func TestScenarioRejectedPayments(t *testing.T) {
	bill := scenarioBill(t)
	_, err := bill.RecordPayment(pay("100.00"))
	require.NoError(t, err)
	before := bill.Snapshot()

	_, err = bill.RecordPayment(billing.PaymentInput{Amount: money.MustParse("-5"), Method: billing.MethodCash})
	require.ErrorIs(t, err, billing.ErrInvalidPayment)
	var invalidErr *billing.InvalidPaymentError
	require.ErrorAs(t, err, &invalidErr)

	_, err = bill.RecordPayment(pay("9999"))
	require.ErrorIs(t, err, billing.ErrOverpayment)
	var over *billing.OverpaymentError
	require.ErrorAs(t, err, &over)
	require.Equal(t, money.MustParse("112.40"), over.Due)

	_, err = bill.RecordPayment(pay("112.41"))
	require.ErrorIs(t, err, billing.ErrOverpayment)

	_, err = bill.RecordPayment(billing.PaymentInput{Amount: 0, Method: billing.MethodCash})
	require.ErrorIs(t, err, billing.ErrInvalidPayment)

	require.Equal(t, before, bill.Snapshot())
}

func TestRecordPaymentCarriesMetadata(t *testing.T) {
	bill := scenarioBill(t)
	date := time.Date(2024, time.March, 3, 15, 4, 5, 0, time.UTC)
	rec, err := bill.RecordPayment(billing.PaymentInput{
		ID:        "pay-1",
		Amount:    money.MustParse("12.40"),
		Method:    billing.MethodUPI,
		AccountID: " acct-9 ",
		Date:      &date,
		Notes:     "  advance ",
	})
	require.NoError(t, err)
	require.Equal(t, "pay-1", rec.ID)
	require.Equal(t, "acct-9", rec.AccountID)
	require.True(t, rec.CreditsAccount())
	require.Equal(t, "advance", rec.Notes)
	require.Equal(t, time.Date(2024, time.March, 3, 0, 0, 0, 0, time.UTC), rec.Date)

	_, err = bill.RecordPayment(billing.PaymentInput{ID: "pay-1", Amount: 100, Method: billing.MethodCash})
	require.ErrorIs(t, err, billing.ErrValidation)

	_, err = bill.RecordPayment(billing.PaymentInput{Amount: 100, Method: "cheque"})
	require.ErrorIs(t, err, billing.ErrValidation)
}

func TestPayDue(t *testing.T) {
	bill := scenarioBill(t)
	_, err := bill.RecordPayment(pay("12.40"))
	require.NoError(t, err)

	rec, err := bill.PayDue(billing.PaymentInput{Amount: money.MustParse("1.00"), Method: billing.MethodCard})
	require.NoError(t, err)
	require.Equal(t, money.MustParse("200.00"), rec.Amount)
	require.Equal(t, billing.StatusPaid, bill.Status())

	_, err = bill.PayDue(billing.PaymentInput{Method: billing.MethodCard})
	require.ErrorIs(t, err, billing.ErrInvalidPayment)
}

func TestInitialPayment(t *testing.T) {
	bill, err := billing.New(billing.CreateInput{
		Items:          []billing.ItemInput{{Product: billing.ProductID("p"), Name: "Tent", Quantity: 1, Price: price("50.00")}},
		InitialPayment: &billing.PaymentInput{Amount: money.MustParse("20.00"), Method: billing.MethodCash},
	})
	require.NoError(t, err)
	snap := bill.Snapshot()
	require.Equal(t, money.MustParse("20.00"), snap.PaidAmount)
	require.Equal(t, money.MustParse("30.00"), snap.DueAmount)
	require.Equal(t, billing.StatusPartial, snap.PaymentStatus)
	require.Len(t, snap.Payments, 1)

	_, err = billing.New(billing.CreateInput{
		Items:          []billing.ItemInput{{Product: billing.ProductID("p"), Name: "Tent", Quantity: 1, Price: price("50.00")}},
		InitialPayment: &billing.PaymentInput{Amount: money.MustParse("50.01"), Method: billing.MethodCash},
	})
	require.ErrorIs(t, err, billing.ErrOverpayment)

	noPayment, err := billing.New(billing.CreateInput{
		Items:          []billing.ItemInput{{Product: billing.ProductID("p"), Name: "Tent", Quantity: 1, Price: price("50.00")}},
		InitialPayment: &billing.PaymentInput{Amount: 0},
	})
	require.NoError(t, err)
	require.Empty(t, noPayment.Payments())
}

func TestCreateValidation(t *testing.T) {
	testCases := []struct {
		name  string
		input billing.CreateInput
		field string
	}{
		{
			name:  "zero quantity",
			input: billing.CreateInput{Items: []billing.ItemInput{{Product: billing.ProductID("p"), Name: "x", Quantity: 0, Price: price("1")}}},
			field: "items[0].quantity",
		},
		{
			name:  "negative price",
			input: billing.CreateInput{Items: []billing.ItemInput{{Product: billing.ProductID("p"), Name: "x", Quantity: 1, Price: price("-1")}}},
			field: "items[0].price",
		},
		{
			name:  "missing product",
			input: billing.CreateInput{Items: []billing.ItemInput{{Name: "x", Quantity: 1, Price: price("1")}}},
			field: "items[0].product_id",
		},
		{
			name:  "missing name",
			input: billing.CreateInput{Items: []billing.ItemInput{{Product: billing.ProductID("p"), Quantity: 1, Price: price("1")}}},
			field: "items[0].name",
		},
		{
			name:  "discount above 100",
			input: billing.CreateInput{DiscountPercent: pct("100.5")},
			field: "discount_percent",
		},
		{
			name:  "negative tax",
			input: billing.CreateInput{TaxPercent: pct("-0.1")},
			field: "tax_percent",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := billing.New(tc.input)
			require.ErrorIs(t, err, billing.ErrValidation)
			var ve *billing.ValidationError
			require.ErrorAs(t, err, &ve)
			require.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestItemMutations(t *testing.T) {
	bill := scenarioBill(t)

	require.NoError(t, bill.AddItem(billing.ItemInput{
		Product:  billing.ResolvedProduct(billing.ProductSummary{ID: "sku-2", Name: "Tripod", Price: money.MustParse("15.50")}),
		Quantity: 3,
	}))
	items := bill.Items()
	require.Len(t, items, 2)
	require.Equal(t, "Tripod", items[1].Name)
	require.Equal(t, money.MustParse("46.50"), items[1].Total)
	require.Equal(t, money.MustParse("246.50"), bill.Snapshot().Subtotal)

	require.NoError(t, bill.SetItemQuantity(1, 1))
	require.Equal(t, money.MustParse("15.50"), bill.Items()[1].Total)

	require.NoError(t, bill.SetItemPrice(0, money.MustParse("80.00")))
	require.Equal(t, money.MustParse("160.00"), bill.Items()[0].Total)
	require.Equal(t, money.MustParse("175.50"), bill.Snapshot().Subtotal)

	name := "Tripod (carbon)"
	require.NoError(t, bill.UpdateItem(1, billing.ItemPatch{Name: &name}))
	require.Equal(t, name, bill.Items()[1].Name)

	require.NoError(t, bill.RemoveItem(0))
	require.NoError(t, bill.RemoveItem(0))
	snap := bill.Snapshot()
	require.Empty(t, snap.Items)
	require.Equal(t, money.Money(0), snap.TotalAmount)
	require.Equal(t, billing.StatusPending, snap.PaymentStatus)
}

func TestItemMutationsAreAllOrNothing(t *testing.T) {
	bill := scenarioBill(t)
	before := bill.Snapshot()

	err := bill.RemoveItem(5)
	require.ErrorIs(t, err, billing.ErrNotFound)

	err = bill.SetItemQuantity(0, 0)
	require.ErrorIs(t, err, billing.ErrValidation)

	err = bill.SetItemPrice(0, money.MustParse("-0.01"))
	require.ErrorIs(t, err, billing.ErrValidation)

	err = bill.UpdateItem(0, billing.ItemPatch{})
	require.ErrorIs(t, err, billing.ErrValidation)

	err = bill.AddItem(billing.ItemInput{Product: billing.ProductID("p"), Name: "x", Quantity: -1, Price: price("1")})
	require.ErrorIs(t, err, billing.ErrValidation)

	err = bill.SetItemPrice(0, money.MaxAmount)
	require.ErrorIs(t, err, billing.ErrValidation)

	require.ErrorIs(t, bill.SetDiscountPercent(pct("101")), billing.ErrValidation)
	require.ErrorIs(t, bill.SetTaxPercent(pct("-1")), billing.ErrValidation)

	require.Equal(t, before, bill.Snapshot())
}

func TestPercentChangesRecompute(t *testing.T) {
	bill := scenarioBill(t)
	require.NoError(t, bill.SetDiscountPercent(pct("0")))
	require.NoError(t, bill.SetTaxPercent(pct("5")))
	snap := bill.Snapshot()
	require.Equal(t, money.MustParse("210.00"), snap.TotalAmount)

	require.NoError(t, bill.SetDiscountPercent(pct("100")))
	snap = bill.Snapshot()
	require.Equal(t, money.Money(0), snap.TaxableAmount)
	require.Equal(t, money.Money(0), snap.TotalAmount)
}

func TestDueInvariantAcrossMutationSequences(t *testing.T) {
	bill := scenarioBill(t)
	check := func() {
		snap := bill.Snapshot()
		require.Equal(t, (snap.TotalAmount - snap.PaidAmount).NonNegative(), snap.DueAmount)
		var sum money.Money
		for _, it := range snap.Items {
			require.Equal(t, money.Money(int64(it.Price)*int64(it.Quantity)), it.Total)
			sum += it.Total
		}
		require.Equal(t, sum, snap.Subtotal)
		require.GreaterOrEqual(t, int64(snap.TotalAmount), int64(0))
	}

	check()
	require.NoError(t, bill.AddItem(billing.ItemInput{Product: billing.ProductID("b"), Name: "Bag", Quantity: 1, Price: price("9.99")}))
	check()
	prevPaid, prevDue := bill.Snapshot().PaidAmount, bill.Snapshot().DueAmount
	_, err := bill.RecordPayment(pay("50.00"))
	require.NoError(t, err)
	check()
	require.GreaterOrEqual(t, int64(bill.Snapshot().PaidAmount), int64(prevPaid))
	require.LessOrEqual(t, int64(bill.Snapshot().DueAmount), int64(prevDue))

	require.NoError(t, bill.RemoveItem(0))
	check()
	// Only the 9.99 bag plus tax remains, which is below the 50.00 paid.
	require.Equal(t, money.Money(0), bill.DueAmount())
	require.Equal(t, billing.StatusPaid, bill.Status())

	require.NoError(t, bill.AddItem(billing.ItemInput{Product: billing.ProductID("c"), Name: "Lens", Quantity: 2, Price: price("30.00")}))
	check()
	require.Equal(t, billing.StatusPartial, bill.Status())
}

func TestSnapshotIsStableAndDetached(t *testing.T) {
	bill := scenarioBill(t)
	first := bill.Snapshot()
	second := bill.Snapshot()
	require.Equal(t, first, second)

	first.Items[0].Quantity = 99
	require.Equal(t, 2, bill.Items()[0].Quantity)
}
