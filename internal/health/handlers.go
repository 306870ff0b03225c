// Package health serves the liveness and readiness probes of the billing API.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Developersbbs/Rental-client-sub001/internal/resilience"
)

const (
	defaultDBTimeout    = 500 * time.Millisecond
	defaultRedisTimeout = 300 * time.Millisecond
	statusOK            = "ok"
)

var draining atomic.Bool

// SetReady toggles readiness. The API flips it to false when shutdown begins so
// load balancers stop routing new bill mutations before in-flight ones finish.
func SetReady(ready bool) {
	draining.Store(!ready)
}

// Checker probes the stores a bill mutation needs.
type Checker interface {
	PingDB(ctx context.Context, timeout time.Duration) error
	PingRedis(ctx context.Context, timeout time.Duration) error
}

// Handler serves /health/live and /health/ready.
type Handler struct {
	Checker      Checker
	DBTimeout    time.Duration
	RedisTimeout time.Duration
	// Breakers are reported by name but never fail readiness; an open
	// catalog or ledger circuit degrades individual operations only.
	Breakers map[string]*resilience.Breaker
}

// Report is the readiness body. Dependencies maps each probe to "ok" or the
// probe error; Circuits maps each outbound target to its breaker state.
type Report struct {
	Ready        bool              `json:"ready"`
	Dependencies map[string]string `json:"dependencies"`
	Circuits     map[string]string `json:"circuits,omitempty"`
}

type probe struct {
	name    string
	timeout time.Duration
	ping    func(context.Context, time.Duration) error
}

// Live always answers ok while the process is serving.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(statusOK))
}

// Ready answers 200 only when every store probe succeeds and the process is
// not draining.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if draining.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	if h.Checker == nil {
		http.Error(w, "dependencies unavailable", http.StatusServiceUnavailable)
		return
	}
	report := h.check(r.Context())
	code := http.StatusOK
	if !report.Ready {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}

func (h Handler) check(ctx context.Context) Report {
	probes := []probe{
		{name: "db", timeout: orDefault(h.DBTimeout, defaultDBTimeout), ping: h.Checker.PingDB},
		{name: "redis", timeout: orDefault(h.RedisTimeout, defaultRedisTimeout), ping: h.Checker.PingRedis},
	}
	report := Report{Ready: true, Dependencies: make(map[string]string, len(probes))}
	for _, p := range probes {
		if err := p.ping(ctx, p.timeout); err != nil {
			report.Dependencies[p.name] = err.Error()
			report.Ready = false
			continue
		}
		report.Dependencies[p.name] = statusOK
	}
	for name, b := range h.Breakers {
		if b == nil {
			continue
		}
		if report.Circuits == nil {
			report.Circuits = make(map[string]string, len(h.Breakers))
		}
		report.Circuits[name] = b.Current().String()
	}
	return report
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
