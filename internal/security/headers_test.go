package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
)

func serveWithHeaders(h Headers, req *http.Request) http.Header {
	handler := h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr.Result().Header
}

func TestHeadersOverTLS(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "https://billing.example.com/api/v1/bills", nil)
	req.TLS = &tls.ConnectionState{}
	got := serveWithHeaders(Headers{Enable: true, EnableHSTS: true, HSTSIncludeSubdomains: true}, req)

	want := map[string]string{
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"Cache-Control":             "no-store",
		"Content-Security-Policy":   "default-src 'none'; frame-ancestors 'none'",
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
	}
	for key, value := range want {
		if got.Get(key) != value {
			t.Errorf("%s = %q, want %q", key, got.Get(key), value)
		}
	}
}

func TestHeadersSkipHSTSOnPlainHTTP(t *testing.T) {
	got := serveWithHeaders(Headers{Enable: true, EnableHSTS: true, HSTSMaxAge: 60},
		httptest.NewRequest(http.MethodGet, "http://billing.example.com/api/v1/bills", nil))
	if got.Get("Strict-Transport-Security") != "" {
		t.Fatalf("unexpected hsts header %q", got.Get("Strict-Transport-Security"))
	}
	if got.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("expected nosniff header")
	}
}

func TestHeadersDisabled(t *testing.T) {
	got := serveWithHeaders(Headers{Enable: false, EnableHSTS: true},
		httptest.NewRequest(http.MethodGet, "http://example.com", nil))
	if got.Get("X-Content-Type-Options") != "" {
		t.Fatal("expected no security headers when disabled")
	}
}
