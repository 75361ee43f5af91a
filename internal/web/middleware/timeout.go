package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// TimeoutConfig represents timeout configuration
type TimeoutConfig struct {
	Timeout time.Duration
	Message string
	Logger  *slog.Logger
}

// TimeoutMiddleware bounds the time a handler may take. The handler context is
// cancelled at the deadline, which aborts the pending backend call, and the client
// receives a 503 with Message.
func TimeoutMiddleware(config TimeoutConfig) func(http.Handler) http.Handler {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Message == "" {
		config.Message = "Request timeout"
	}

	return func(next http.Handler) http.Handler {
		logged := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)

			if config.Logger != nil && errors.Is(r.Context().Err(), context.DeadlineExceeded) {
				config.Logger.WarnContext(r.Context(), "Request timeout",
					slog.Duration("timeout", config.Timeout),
					slog.String("path", r.URL.Path),
					slog.String("method", r.Method))
			}
		})

		return http.TimeoutHandler(logged, config.Timeout, config.Message)
	}
}
