package invoicing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Developersbbs/Rental-client-sub001/internal/billing"
	"github.com/Developersbbs/Rental-client-sub001/internal/common"
	"github.com/Developersbbs/Rental-client-sub001/internal/lock"
	"github.com/Developersbbs/Rental-client-sub001/internal/money"
)

// Handler exposes the billing HTTP API.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

// Register mounts the billing routes on r. paymentMW wraps the routes that
// record payments, including bill creation with an initial payment.
func (h *Handler) Register(r chi.Router, paymentMW ...func(http.Handler) http.Handler) {
	r.Route("/bills", func(r chi.Router) {
		r.Get("/", h.ListBills)
		r.With(paymentMW...).Post("/", h.CreateBill)
		r.Route("/{billID}", func(r chi.Router) {
			r.Get("/", h.GetBill)
			r.Post("/items", h.AddItem)
			r.Patch("/items/{index}", h.UpdateItem)
			r.Delete("/items/{index}", h.RemoveItem)
			r.Put("/discount", h.SetDiscount)
			r.Put("/tax", h.SetTax)
			r.Get("/payments", h.ListPayments)
			r.With(paymentMW...).Post("/payments", h.RecordPayment)
			r.With(paymentMW...).Post("/payments/pay-due", h.PayDue)
		})
	})
	r.Get("/customers/{customerID}/outstanding", h.Outstanding)
}

type itemRequest struct {
	Product   billing.ProductRef `json:"product"`
	ProductID string             `json:"product_id" validate:"max=64"`
	Name      string             `json:"name" validate:"max=200"`
	Quantity  int                `json:"quantity"`
	Price     *money.Money       `json:"price"`
}

func (r itemRequest) input() billing.ItemInput {
	ref := r.Product
	if ref.IsZero() {
		ref = billing.ProductID(r.ProductID)
	}
	return billing.ItemInput{Product: ref, Name: r.Name, Quantity: r.Quantity, Price: r.Price}
}

type paymentRequest struct {
	ID               string      `json:"id" validate:"max=64"`
	Amount           money.Money `json:"amount"`
	PaymentMethod    string      `json:"payment_method" validate:"required"`
	PaymentAccountID string      `json:"payment_account_id" validate:"max=64"`
	PaymentDate      string      `json:"payment_date"`
	Notes            string      `json:"notes" validate:"max=1000"`
}

func (r paymentRequest) input() (billing.PaymentInput, error) {
	method, err := billing.ParsePaymentMethod(r.PaymentMethod)
	if err != nil {
		return billing.PaymentInput{}, err
	}
	in := billing.PaymentInput{
		ID:        r.ID,
		Amount:    r.Amount,
		Method:    method,
		AccountID: r.PaymentAccountID,
		Notes:     r.Notes,
	}
	if d := strings.TrimSpace(r.PaymentDate); d != "" {
		date, err := parseDate(d)
		if err != nil {
			return billing.PaymentInput{}, err
		}
		in.Date = &date
	}
	return in, nil
}

type createBillRequest struct {
	ID              string          `json:"id" validate:"max=64"`
	CustomerID      string          `json:"customer_id" validate:"max=64"`
	BillNumber      string          `json:"bill_number" validate:"max=64"`
	Items           []itemRequest   `json:"items" validate:"max=500,dive"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	TaxPercent      decimal.Decimal `json:"tax_percent"`
	InitialPayment  *paymentRequest `json:"initial_payment"`
}

type patchItemRequest struct {
	Name     *string      `json:"name" validate:"omitempty,max=200"`
	Quantity *int         `json:"quantity"`
	Price    *money.Money `json:"price"`
}

type percentRequest struct {
	Percent *decimal.Decimal `json:"percent"`
}

type billResponse struct {
	billing.Snapshot
	CreditStatus string `json:"credit_status,omitempty"`
}

// CreateBill handles POST /bills.
func (h *Handler) CreateBill(w http.ResponseWriter, r *http.Request) {
	var req createBillRequest
	if !h.decode(w, r, &req) {
		return
	}
	in := CreateBillInput{
		ID:              req.ID,
		CustomerID:      req.CustomerID,
		Number:          req.BillNumber,
		DiscountPercent: req.DiscountPercent,
		TaxPercent:      req.TaxPercent,
	}
	for _, item := range req.Items {
		in.Items = append(in.Items, item.input())
	}
	if req.InitialPayment != nil {
		pay, err := req.InitialPayment.input()
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if pay.Amount != 0 {
			in.InitialPayment = &pay
		}
	}
	res, err := h.Svc.CreateBill(r.Context(), in)
	if err != nil {
		if res.Bill.ID != "" {
			common.MarkCommitted(r.Context())
			h.fail(w, r, committedCreditError(err, res.Bill.ID, firstPaymentID(res.Bill), res.CreditStatus))
			return
		}
		h.fail(w, r, err)
		return
	}
	setETag(w, res.Bill.Version)
	common.JSON(w, http.StatusCreated, common.DataBody{
		Data:     billResponse{Snapshot: res.Bill, CreditStatus: res.CreditStatus},
		Warnings: res.Warnings,
	})
}

// ListBills handles GET /bills.
func (h *Handler) ListBills(w http.ResponseWriter, r *http.Request) {
	page, perPage := common.ParsePagination(r, 20)
	q := r.URL.Query()
	bills, pagination, err := h.Svc.ListBills(r.Context(), ListBillsInput{
		CustomerID: strings.TrimSpace(q.Get("customer_id")),
		Status:     billing.PaymentStatus(strings.ToLower(strings.TrimSpace(q.Get("status")))),
		Page:       page,
		PerPage:    perPage,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, common.DataBody{Data: bills, Pagination: &pagination})
}

// GetBill handles GET /bills/{billID}.
func (h *Handler) GetBill(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Svc.GetBill(r.Context(), chi.URLParam(r, "billID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	setETag(w, snap.Version)
	common.Data(w, http.StatusOK, snap)
}

// AddItem handles POST /bills/{billID}/items.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	version, ok := h.ifMatch(w, r)
	if !ok {
		return
	}
	var req itemRequest
	if !h.decode(w, r, &req) {
		return
	}
	snap, err := h.Svc.AddItem(r.Context(), chi.URLParam(r, "billID"), version, req.input())
	h.respondBill(w, r, snap, err)
}

// UpdateItem handles PATCH /bills/{billID}/items/{index}.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	version, ok := h.ifMatch(w, r)
	if !ok {
		return
	}
	index, ok := itemIndex(w, r)
	if !ok {
		return
	}
	var req patchItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	snap, err := h.Svc.UpdateItem(r.Context(), chi.URLParam(r, "billID"), version, index, billing.ItemPatch{
		Name:     req.Name,
		Quantity: req.Quantity,
		Price:    req.Price,
	})
	h.respondBill(w, r, snap, err)
}

// RemoveItem handles DELETE /bills/{billID}/items/{index}.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	version, ok := h.ifMatch(w, r)
	if !ok {
		return
	}
	index, ok := itemIndex(w, r)
	if !ok {
		return
	}
	snap, err := h.Svc.RemoveItem(r.Context(), chi.URLParam(r, "billID"), version, index)
	h.respondBill(w, r, snap, err)
}

// SetDiscount handles PUT /bills/{billID}/discount.
func (h *Handler) SetDiscount(w http.ResponseWriter, r *http.Request) {
	h.setPercent(w, r, "discount_percent", h.Svc.SetDiscountPercent)
}

// SetTax handles PUT /bills/{billID}/tax.
func (h *Handler) SetTax(w http.ResponseWriter, r *http.Request) {
	h.setPercent(w, r, "tax_percent", h.Svc.SetTaxPercent)
}

func (h *Handler) setPercent(w http.ResponseWriter, r *http.Request, field string, apply func(ctx context.Context, billID string, version *int64, pct decimal.Decimal) (billing.Snapshot, error)) {
	version, ok := h.ifMatch(w, r)
	if !ok {
		return
	}
	var req percentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Percent == nil {
		h.fail(w, r, &billing.ValidationError{Field: field, Reason: "percent is required"})
		return
	}
	snap, err := apply(r.Context(), chi.URLParam(r, "billID"), version, *req.Percent)
	h.respondBill(w, r, snap, err)
}

// RecordPayment handles POST /bills/{billID}/payments.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	h.pay(w, r, h.Svc.RecordPayment)
}

// PayDue handles POST /bills/{billID}/payments/pay-due. Any amount in the
// body is ignored.
func (h *Handler) PayDue(w http.ResponseWriter, r *http.Request) {
	h.pay(w, r, h.Svc.PayDue)
}

func (h *Handler) pay(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, billID string, version *int64, in billing.PaymentInput) (PaymentResult, error)) {
	version, ok := h.ifMatch(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := apply(r.Context(), chi.URLParam(r, "billID"), version, in)
	if err != nil {
		if res.Payment.ID != "" {
			common.MarkCommitted(r.Context())
			h.fail(w, r, committedCreditError(err, res.Bill.ID, res.Payment.ID, res.CreditStatus))
			return
		}
		h.fail(w, r, err)
		return
	}
	setETag(w, res.Bill.Version)
	common.Data(w, http.StatusCreated, res)
}

// ListPayments handles GET /bills/{billID}/payments.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Svc.ListPayments(r.Context(), chi.URLParam(r, "billID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, rows)
}

// Outstanding handles GET /customers/{customerID}/outstanding.
func (h *Handler) Outstanding(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Svc.Outstanding(r.Context(), chi.URLParam(r, "customerID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, sum)
}

func (h *Handler) respondBill(w http.ResponseWriter, r *http.Request, snap billing.Snapshot, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	setETag(w, snap.Version)
	common.Data(w, http.StatusOK, snap)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var (
			maxErr    *http.MaxBytesError
			syntaxErr *json.SyntaxError
			typeErr   *json.UnmarshalTypeError
		)
		switch {
		case errors.As(err, &maxErr):
			common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", nil)
		case errors.Is(err, io.EOF):
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "request body is required", nil)
		case errors.As(err, &syntaxErr), errors.As(err, &typeErr), errors.Is(err, io.ErrUnexpectedEOF):
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		default:
			// Field decoders such as money and percentages reject the value itself.
			common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", err.Error(), nil)
		}
		return false
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(dst); err != nil {
			h.fail(w, r, common.ValidationFailed(err))
			return false
		}
	}
	return true
}

func (h *Handler) ifMatch(w http.ResponseWriter, r *http.Request) (*int64, bool) {
	raw := strings.TrimSpace(r.Header.Get("If-Match"))
	if raw == "" || raw == "*" {
		return nil, true
	}
	raw = strings.Trim(strings.TrimPrefix(raw, "W/"), `"`)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 1 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "If-Match must carry a bill version", nil)
		return nil, false
	}
	return &v, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	appErr := toAppError(err)
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("code", appErr.Code).Msg("billing request failed")
	}
	common.WriteError(w, appErr)
}

func toAppError(err error) *common.AppError {
	var (
		appErr  *common.AppError
		valErr  *billing.ValidationError
		nfErr   *billing.NotFoundError
		payErr  *billing.InvalidPaymentError
		overErr *billing.OverpaymentError
		extErr  *billing.ExternalCollaboratorError
	)
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.As(err, &valErr):
		return common.NewAppError("VALIDATION_FAILED", valErr.Error(), http.StatusUnprocessableEntity, err).
			WithDetails(map[string]string{"field": valErr.Field, "reason": valErr.Reason})
	case errors.As(err, &nfErr):
		return common.NewAppError("NOT_FOUND", nfErr.Resource+" not found", http.StatusNotFound, err)
	case errors.As(err, &payErr):
		return common.NewAppError("INVALID_PAYMENT", payErr.Reason, http.StatusUnprocessableEntity, err)
	case errors.As(err, &overErr):
		return common.NewAppError("OVERPAYMENT", "payment exceeds the amount due", http.StatusConflict, err).
			WithDetails(map[string]money.Money{"amount": overErr.Amount, "due": overErr.Due})
	case errors.Is(err, ErrVersionConflict):
		return common.NewAppError("VERSION_CONFLICT", "bill was modified concurrently", http.StatusConflict, err)
	case errors.Is(err, ErrDuplicatePayment):
		return common.NewAppError("DUPLICATE_PAYMENT", "payment id already recorded", http.StatusConflict, err)
	case errors.Is(err, ErrDuplicateBill):
		return common.NewAppError("DUPLICATE", "bill already exists", http.StatusConflict, err)
	case errors.Is(err, lock.ErrNotAcquired):
		return common.NewAppError("BILL_BUSY", "bill is being modified, retry shortly", http.StatusServiceUnavailable, err)
	case errors.As(err, &extErr):
		return common.NewAppError("UPSTREAM_FAILED", extErr.Collaborator+" unavailable", http.StatusBadGateway, err).
			WithDetails(map[string]string{"collaborator": extErr.Collaborator})
	default:
		return common.NewAppError("INTERNAL", "internal server error", http.StatusInternalServerError, err)
	}
}

// committedCreditError reports a ledger failure that happened after the
// payment was stored, carrying the ids needed to reconcile it.
func committedCreditError(err error, billID, paymentID, creditStatus string) error {
	appErr := toAppError(err)
	return appErr.WithDetails(map[string]string{
		"bill_id":       billID,
		"payment_id":    paymentID,
		"credit_status": creditStatus,
	})
}

func firstPaymentID(s billing.Snapshot) string {
	if len(s.Payments) == 0 {
		return ""
	}
	return s.Payments[0].ID
}

func itemIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "item index must be an integer", nil)
		return 0, false
	}
	return index, true
}

func setETag(w http.ResponseWriter, version int64) {
	if version > 0 {
		w.Header().Set("ETag", `"`+strconv.FormatInt(version, 10)+`"`)
	}
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, &billing.ValidationError{Field: "payment_date", Reason: "must be YYYY-MM-DD or RFC 3339"}
}
