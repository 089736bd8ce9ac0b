package errors

import (
	"net/http"
)

const (
	// RequestIDHeader is the HTTP header for request ID
	RequestIDHeader = "X-Request-ID"
)

// RequestIDMiddleware injects a request ID into the context and response headers
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" || len(requestID) > 128 {
			requestID = GenerateRequestID()
		}

		ctx := WithRequestID(r.Context(), requestID)
		w.Header().Set(RequestIDHeader, requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Handler is an http handler that reports failures by returning them
type Handler func(w http.ResponseWriter, r *http.Request) error

// Reporter observes every error a Handler returns, before it is written.
type Reporter func(r *http.Request, err *AppError)

// HandleFunc converts a Handler to a standard http.HandlerFunc with automatic error handling
func HandleFunc(h Handler) http.HandlerFunc {
	return HandleFuncWith(nil, h)
}

// HandleFuncWith is HandleFunc with a reporter, typically used to log server
// errors with their cause.
func HandleFuncWith(report Reporter, h Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			appErr := As(err)
			if report != nil {
				report(r, appErr)
			}
			WriteError(w, GetRequestID(r.Context()), appErr)
		}
	}
}
