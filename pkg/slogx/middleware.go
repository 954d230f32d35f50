package slogx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/swellwatch/pkg/idx"
)

// RequestIDHeader carries the correlation ID on outbound requests.
const RequestIDHeader = "X-Request-ID"

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// Transport wraps next so every outbound request is tagged with a request ID
// and logged once it completes. Headers are never logged; the Authorization
// header in particular only ever leaves the process on the wire.
func Transport(base *slog.Logger, next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}

	return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		start := time.Now()

		reqID := r.Header.Get(RequestIDHeader)
		if reqID == "" {
			reqID = idx.New().String()
			r = r.Clone(r.Context())
			r.Header.Set(RequestIDHeader, reqID)
		}

		logger := FromContext(r.Context(), base).With(
			"req_id", reqID,
			"method", r.Method,
			"host", r.URL.Host,
			"path", r.URL.Path,
		)

		resp, err := next.RoundTrip(r.WithContext(WithContext(r.Context(), logger)))
		duration := time.Since(start).Milliseconds()
		if err != nil {
			logger.Warn("http_request_failed", "duration_ms", duration, "error", err)
			return nil, err
		}

		logger.Debug("http_request", "status", resp.StatusCode, "duration_ms", duration)
		return resp, nil
	})
}

// HTTPMiddleware logs inbound requests. The fake backend in internal/authtest
// uses it so client and server log lines share req_id.
func HTTPMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			reqID := r.Header.Get(RequestIDHeader)
			if reqID == "" {
				reqID = idx.New().String()
			}

			logger := base.With("req_id", reqID, "method", r.Method, "path", r.URL.Path)
			next.ServeHTTP(rw, r.WithContext(WithContext(r.Context(), logger)))

			logger.Debug("http_request", "status", rw.status, "duration_ms", time.Since(start).Milliseconds())
		})
	}
}

type responseWriter struct {
	http.ResponseWriter

	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
