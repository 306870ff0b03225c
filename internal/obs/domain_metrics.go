package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// BillsCreatedTotal counts bill creation outcomes.
	BillsCreatedTotal *prometheus.CounterVec
	// BillMutationsTotal counts item and percentage mutations by operation and result.
	BillMutationsTotal *prometheus.CounterVec
	// PaymentsRecordedTotal counts payment attempts by method and result.
	PaymentsRecordedTotal *prometheus.CounterVec
	// PaymentAmountMinorTotal accumulates accepted payment amounts in minor units.
	PaymentAmountMinorTotal *prometheus.CounterVec
	// LedgerCreditsTotal tracks ledger account credit outcomes.
	LedgerCreditsTotal *prometheus.CounterVec
	// LockWaitLatency records how long mutations waited for the per-bill lock.
	LockWaitLatency prometheus.Histogram
	// CatalogCacheTotal counts catalog cache hits and misses.
	CatalogCacheTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers billing Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		BillsCreatedTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bills_created_total",
			Help:      "Count of bill creation attempts by outcome.",
		}, []string{"result"}))
		BillMutationsTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bill_mutations_total",
			Help:      "Count of bill mutations by operation and outcome.",
		}, []string{"operation", "result"}))
		PaymentsRecordedTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_recorded_total",
			Help:      "Count of payment recording attempts by method and outcome.",
		}, []string{"method", "result"}))
		PaymentAmountMinorTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_amount_minor_total",
			Help:      "Sum of accepted payment amounts in minor currency units.",
		}, []string{"method"}))
		LedgerCreditsTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_credits_total",
			Help:      "Count of ledger account credit outcomes.",
		}, []string{"result"}))
		LockWaitLatency = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bill_lock_wait_ms",
			Help:      "Time spent waiting for the per-bill lock in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		}))
		CatalogCacheTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_cache_total",
			Help:      "Catalog lookup cache hits and misses.",
		}, []string{"result"}))
	})
}

// IncCounter increments vec for labels when the collector has been registered.
func IncCounter(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}

// AddCounter adds v to vec for labels when the collector has been registered.
func AddCounter(vec *prometheus.CounterVec, v float64, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Add(v)
}

// Observe records v on h when the collector has been registered.
func Observe(h prometheus.Histogram, v float64) {
	if h == nil {
		return
	}
	h.Observe(v)
}
