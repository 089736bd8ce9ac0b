package logger

import (
	"net/http"
	"strings"
	"time"

	apperrors "github.com/ricemill/backoffice/internal/errors"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		status:         http.StatusOK,
	}
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.status = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// LoggingMiddleware logs HTTP requests and responses. Bodies are never
// logged: they carry passwords and refresh tokens.
func LoggingMiddleware(log *Logger) func(http.Handler) http.Handler {
	log = log.WithComponent("http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/health") || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := newResponseWriter(w)

			log.Debug(r.Context(), "request started", map[string]interface{}{
				"method":     r.Method,
				"path":       r.URL.Path,
				"query":      sanitizeQuery(r.URL.RawQuery),
				"remote_ip":  getClientIP(r),
				"user_agent": r.UserAgent(),
			})

			next.ServeHTTP(rw, r)

			fields := map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rw.status,
				"duration_ms": time.Since(start).Milliseconds(),
				"remote_ip":   getClientIP(r),
			}

			switch {
			case rw.status >= 500:
				log.Error(r.Context(), "request completed with server error", nil, fields)
			case rw.status >= 400:
				log.Warn(r.Context(), "request completed with client error", fields)
			default:
				log.Info(r.Context(), "request completed", fields)
			}
		})
	}
}

// sanitizeQuery removes sensitive parameters from query string
func sanitizeQuery(query string) string {
	if query == "" {
		return ""
	}

	sensitiveParams := []string{"token", "password", "secret", "key", "auth"}
	parts := strings.Split(query, "&")
	sanitized := make([]string, 0, len(parts))

	for _, part := range parts {
		keyVal := strings.SplitN(part, "=", 2)
		if len(keyVal) != 2 {
			sanitized = append(sanitized, part)
			continue
		}

		isSensitive := false
		lowerKey := strings.ToLower(keyVal[0])
		for _, s := range sensitiveParams {
			if strings.Contains(lowerKey, s) {
				isSensitive = true
				break
			}
		}

		if isSensitive {
			sanitized = append(sanitized, keyVal[0]+"=[REDACTED]")
		} else {
			sanitized = append(sanitized, part)
		}
	}

	return strings.Join(sanitized, "&")
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	return r.RemoteAddr
}

// ClientIP exposes the proxy-aware client address used in access logs
func ClientIP(r *http.Request) string {
	return getClientIP(r)
}

// RecoveryMiddleware recovers from panics and logs them
func RecoveryMiddleware(log *Logger) func(http.Handler) http.Handler {
	log = log.WithComponent("recovery")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					requestID := apperrors.GetRequestID(r.Context())

					log.Error(r.Context(), "panic recovered", nil, map[string]interface{}{
						"panic":  rec,
						"path":   r.URL.Path,
						"method": r.Method,
					})

					apperrors.WriteError(w, requestID, apperrors.Internal())
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
