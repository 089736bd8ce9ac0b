package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ricemill/backoffice/internal/logger"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
}

func TestChain_Order(t *testing.T) {
	var order []string
	mk := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(okHandler(), mk("a"), mk("b"), mk("c"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"http://dashboard.local"})(okHandler())

	tests := []struct {
		name        string
		method      string
		origin      string
		preflight   bool
		wantStatus  int
		wantAllowed bool
	}{
		{name: "allowed origin", method: http.MethodGet, origin: "http://dashboard.local", wantStatus: http.StatusOK, wantAllowed: true},
		{name: "foreign origin", method: http.MethodGet, origin: "http://evil.example", wantStatus: http.StatusOK},
		{name: "no origin", method: http.MethodGet, wantStatus: http.StatusOK},
		{name: "preflight", method: http.MethodOptions, origin: "http://dashboard.local", preflight: true, wantStatus: http.StatusNoContent, wantAllowed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/auth/login", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			w := httptest.NewRecorder()

			h.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantAllowed {
				assert.Equal(t, tt.origin, w.Header().Get("Access-Control-Allow-Origin"))
				assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
			} else {
				assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestSecureHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SecureHeaders(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestTiming_HeaderAndSlowLog(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(&logger.Config{Output: &buf, Level: logger.LevelDebug})

	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
		w.WriteHeader(http.StatusAccepted)
	})

	w := httptest.NewRecorder()
	Timing(log, time.Millisecond)(slow).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Server-Timing"), "total;dur="))
	assert.Contains(t, buf.String(), "slow request")
	assert.Contains(t, buf.String(), "/api/v1/auth/refresh")
}

func TestTiming_FastRequestNotLogged(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(&logger.Config{Output: &buf, Level: logger.LevelDebug})

	w := httptest.NewRecorder()
	Timing(log, time.Minute)(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "ok", w.Body.String())
	assert.NotEmpty(t, w.Header().Get("Server-Timing"))
	assert.Empty(t, buf.String())
}
