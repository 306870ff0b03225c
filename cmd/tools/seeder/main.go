package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/Developersbbs/Rental-client-sub001/internal/app"
	"github.com/Developersbbs/Rental-client-sub001/internal/billing"
	"github.com/Developersbbs/Rental-client-sub001/internal/money"
	"github.com/Developersbbs/Rental-client-sub001/internal/obs"
	"github.com/Developersbbs/Rental-client-sub001/internal/repo"
)

// seedNamespace keeps seeded ids stable so reruns skip existing bills.
var seedNamespace = uuid.MustParse("3f5b8c2e-8d1a-4b0e-9c61-2a7e4f1d9b10")

type seedBill struct {
	number   string
	customer string
	discount string
	tax      string
	items    []billing.ItemInput
	payment  *billing.PaymentInput
}

func main() {
	logger := obs.NewLogger("console", "info")
	if err := godotenv.Load(); err != nil {
		logger.Info().Msg("no .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := app.NewPool(ctx, dbURL, "billing-seeder")
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	store := repo.NewBillStore(pool)

	created, skipped := 0, 0
	for _, s := range fixtures() {
		bill, err := billing.New(billing.CreateInput{
			ID:              uuid.NewSHA1(seedNamespace, []byte(s.number)).String(),
			CustomerID:      s.customer,
			Number:          s.number,
			Items:           s.items,
			DiscountPercent: decimal.RequireFromString(s.discount),
			TaxPercent:      decimal.RequireFromString(s.tax),
			InitialPayment:  s.payment,
		})
		if err != nil {
			logger.Fatal().Err(err).Str("bill_number", s.number).Msg("build seed bill")
		}
		if err := store.Insert(ctx, bill); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				skipped++
				continue
			}
			logger.Fatal().Err(err).Str("bill_number", s.number).Msg("insert seed bill")
		}
		created++
	}
	logger.Info().Int("created", created).Int("skipped", skipped).Msg("seeding completed")
}

func price(v string) *money.Money {
	m := money.MustParse(v)
	return &m
}

func fixtures() []seedBill {
	return []seedBill{
		{
			number:   "SEED-0001",
			customer: "cust-001",
			discount: "0",
			tax:      "18",
			items: []billing.ItemInput{
				{Product: billing.ProductID("camera-dslr"), Name: "DSLR camera rental (day)", Quantity: 2, Price: price("90.00")},
			},
		},
		{
			number:   "SEED-0002",
			customer: "cust-001",
			discount: "10",
			tax:      "18",
			items: []billing.ItemInput{
				{Product: billing.ProductID("tripod"), Name: "Tripod rental (day)", Quantity: 3, Price: price("40.00")},
				{Product: billing.ProductID("sd-card"), Name: "SD card 128GB", Quantity: 1, Price: price("25.50")},
			},
			payment: &billing.PaymentInput{Amount: money.MustParse("50.00"), Method: billing.MethodCash},
		},
		{
			number:   "SEED-0003",
			customer: "cust-002",
			discount: "0",
			tax:      "5",
			items: []billing.ItemInput{
				{Product: billing.ProductID("projector"), Name: "Projector rental (day)", Quantity: 1, Price: price("100.00")},
			},
			payment: &billing.PaymentInput{Amount: money.MustParse("105.00"), Method: billing.MethodUPI},
		},
	}
}
