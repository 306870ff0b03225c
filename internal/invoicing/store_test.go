package invoicing_test

import (
	"context"
	"sort"
	"sync"

	"github.com/Developersbbs/Rental-client-sub001/internal/billing"
	"github.com/Developersbbs/Rental-client-sub001/internal/events"
	"github.com/Developersbbs/Rental-client-sub001/internal/ledger"
	"github.com/Developersbbs/Rental-client-sub001/internal/repo"
)

// memStore is an in-memory Store with the same versioning rules as the
// PostgreSQL store.
type memStore struct {
	mu       sync.Mutex
	states   map[string]billing.State
	versions map[string]int64
	order    []string
	payments map[string][]repo.PaymentRow
	credit   map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		states:   map[string]billing.State{},
		versions: map[string]int64{},
		payments: map[string][]repo.PaymentRow{},
		credit:   map[string]string{},
	}
}

func (m *memStore) Insert(_ context.Context, b *billing.Bill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[b.ID()]; ok {
		return repo.ErrDuplicate
	}
	for _, p := range b.Payments() {
		if _, dup := m.credit[p.ID]; dup {
			return repo.ErrDuplicatePayment
		}
	}
	m.states[b.ID()] = b.State()
	m.versions[b.ID()] = 1
	m.order = append(m.order, b.ID())
	for _, p := range b.Payments() {
		m.payments[b.ID()] = append(m.payments[b.ID()], repo.PaymentRow{PaymentRecord: p})
		m.credit[p.ID] = ledger.StatusNotRequested
		if p.CreditsAccount() {
			m.credit[p.ID] = ledger.StatusPending
		}
	}
	b.SetVersion(1)
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*billing.Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restore(id)
}

func (m *memStore) restore(id string) (*billing.Bill, error) {
	st, ok := m.states[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	st.Version = m.versions[id]
	return billing.Restore(st)
}

func (m *memStore) Update(_ context.Context, b *billing.Bill, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(b.ID(), expected); err != nil {
		return err
	}
	m.states[b.ID()] = b.State()
	m.versions[b.ID()] = expected + 1
	b.SetVersion(expected + 1)
	return nil
}

func (m *memStore) AppendPayment(_ context.Context, b *billing.Bill, rec billing.PaymentRecord, status string, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(b.ID(), expected); err != nil {
		return err
	}
	if _, dup := m.credit[rec.ID]; dup {
		return repo.ErrDuplicatePayment
	}
	m.states[b.ID()] = b.State()
	m.versions[b.ID()] = expected + 1
	m.payments[b.ID()] = append(m.payments[b.ID()], repo.PaymentRow{PaymentRecord: rec})
	m.credit[rec.ID] = status
	b.SetVersion(expected + 1)
	return nil
}

func (m *memStore) check(id string, expected int64) error {
	v, ok := m.versions[id]
	if !ok {
		return repo.ErrNotFound
	}
	if v != expected {
		return repo.ErrVersionConflict
	}
	return nil
}

func (m *memStore) List(_ context.Context, f repo.ListFilter) ([]*billing.Bill, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*billing.Bill
	for i := len(m.order) - 1; i >= 0; i-- {
		b, err := m.restore(m.order[i])
		if err != nil {
			return nil, 0, err
		}
		if f.CustomerID != "" && b.CustomerID() != f.CustomerID {
			continue
		}
		if f.Status != "" && b.Status() != f.Status {
			continue
		}
		matched = append(matched, b)
	}
	total := len(matched)
	if f.Offset >= total {
		return nil, total, nil
	}
	end := f.Offset + f.Limit
	if f.Limit <= 0 || end > total {
		end = total
	}
	return matched[f.Offset:end], total, nil
}

func (m *memStore) OutstandingByCustomer(_ context.Context, customerID string) ([]repo.Outstanding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repo.Outstanding
	for _, id := range m.order {
		b, err := m.restore(id)
		if err != nil {
			return nil, err
		}
		snap := b.Snapshot()
		if snap.CustomerID != customerID || snap.DueAmount == 0 {
			continue
		}
		out = append(out, repo.Outstanding{BillID: snap.ID, Number: snap.Number, TotalAmount: snap.TotalAmount, DueAmount: snap.DueAmount, CreatedAt: snap.CreatedAt})
	}
	return out, nil
}

func (m *memStore) ListPayments(_ context.Context, billID string) ([]repo.PaymentRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := append([]repo.PaymentRow(nil), m.payments[billID]...)
	for i := range rows {
		rows[i].CreditStatus = m.credit[rows[i].ID]
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].RecordedAt.Before(rows[j].RecordedAt) })
	return rows, nil
}

func (m *memStore) SetCreditStatus(_ context.Context, paymentID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.credit[paymentID]; !ok {
		return repo.ErrNotFound
	}
	m.credit[paymentID] = status
	return nil
}

func (m *memStore) creditStatus(paymentID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credit[paymentID]
}

func (m *memStore) version(id string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.versions[id]
}

// topicRecorder collects emitted event topics.
type topicRecorder struct {
	mu     sync.Mutex
	topics []string
}

func (r *topicRecorder) Notify(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, ev.Topic)
	return nil
}

func (r *topicRecorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.topics...)
}
