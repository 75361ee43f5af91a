package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// MetricsCollector defines the interface for collecting performance metrics
type MetricsCollector interface {
	RecordRequest(ctx context.Context, method, route string, statusCode int, duration time.Duration)
	RecordError(ctx context.Context, method, route string, errorType string)
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int
	wroteHeader bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// MetricsMiddleware records every request under its route pattern. It must wrap the
// ServeMux directly so the pattern chosen by the mux is visible afterwards.
func MetricsMiddleware(collector MetricsCollector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapper := newResponseWriter(w)

			next.ServeHTTP(wrapper, r)

			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}

			collector.RecordRequest(r.Context(), r.Method, route, wrapper.statusCode, time.Since(start))

			if wrapper.statusCode >= 400 {
				collector.RecordError(r.Context(), r.Method, route, categorizeError(wrapper.statusCode))
			}
		})
	}
}

// categorizeError categorizes HTTP status codes into error types
func categorizeError(statusCode int) string {
	switch {
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	default:
		return "unknown_error"
	}
}

// RequestLogging logs one line per request, at warn level above slowThreshold.
func RequestLogging(logger *slog.Logger, slowThreshold time.Duration) func(http.Handler) http.Handler {
	if slowThreshold <= 0 {
		slowThreshold = time.Second
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapper := newResponseWriter(w)

			next.ServeHTTP(wrapper, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if duration > slowThreshold {
				level = slog.LevelWarn
			}

			logger.Log(r.Context(), level, "Request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", GetClientIP(r)),
				slog.Int("status_code", wrapper.statusCode),
				slog.Int("response_size", wrapper.size),
				slog.Duration("duration", duration))
		})
	}
}
