package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNormalizeEndpoint(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/api/v1/auth/login", "/api/v1/auth/login"},
		{"/api/v1/users/6f1c2a7e-3b0c-4a59-9a57-2a1c36e0f0d1/deactivate", "/api/v1/users/{id}/deactivate"},
		{"/api/v1/orders/42", "/api/v1/orders/{id}"},
	}
	for _, tt := range tests {
		if got := normalizeEndpoint(tt.in); got != tt.want {
			t.Errorf("normalizeEndpoint(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRecordRequest(t *testing.T) {
	m := New()
	m.RecordRequest(http.MethodGet, "/api/v1/orders/7", http.StatusForbidden, 20*time.Millisecond)
	m.RecordRequest(http.MethodGet, "/api/v1/orders/8", http.StatusForbidden, 20*time.Millisecond)

	got := testutil.ToFloat64(m.requestsTotal.WithLabelValues("/api/v1/orders/{id}", http.MethodGet, "403"))
	if got != 2 {
		t.Errorf("expected 2 requests, got %v", got)
	}
}

func TestAuthCounters(t *testing.T) {
	m := New()
	m.ObserveLogin("success")
	m.ObserveLogin("invalid_credentials")
	m.ObserveLogin("success")
	m.ObserveTokenVerification("expired")
	m.ObserveRefresh("ok")
	m.ObserveRevocation()
	m.ObservePruned(3)
	m.ObservePruned(0)

	if got := testutil.ToFloat64(m.loginsTotal.WithLabelValues("success")); got != 2 {
		t.Errorf("expected 2 successful logins, got %v", got)
	}
	if got := testutil.ToFloat64(m.tokenVerificationsTotal.WithLabelValues("expired")); got != 1 {
		t.Errorf("expected 1 expired verification, got %v", got)
	}
	if got := testutil.ToFloat64(m.refreshTotal.WithLabelValues("ok")); got != 1 {
		t.Errorf("expected 1 refresh, got %v", got)
	}
	if got := testutil.ToFloat64(m.revocationsTotal); got != 1 {
		t.Errorf("expected 1 revocation, got %v", got)
	}
	if got := testutil.ToFloat64(m.revocationsPrunedTotal); got != 3 {
		t.Errorf("expected 3 pruned, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveLogin("success")
	m.ObserveTokenVerification("ok")
	m.ObserveRefresh("ok")
	m.ObserveRevocation()
	m.ObservePruned(1)
	m.RecordRequest(http.MethodGet, "/", 200, time.Millisecond)
}

func TestMetricsMiddlewareAndHandler(t *testing.T) {
	m := New()
	h := MetricsMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil))

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, _ := io.ReadAll(w.Body)
	want := `backoffice_http_requests_total{endpoint="/api/v1/auth/me",method="GET",status="401"} 1`
	if !strings.Contains(string(body), want) {
		t.Errorf("expected %q in exposition, got:\n%s", want, body)
	}
}
