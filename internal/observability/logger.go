package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/freekieb7/usermanager/internal/config"
)

// NewLogger builds the process logger. Records are enriched with trace ids when a
// span is active on the context.
func NewLogger(cfg config.Telemetry, env config.Environment) *slog.Logger {
	return newLogger(os.Stdout, cfg, env)
}

func newLogger(w io.Writer, cfg config.Telemetry, env config.Environment) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel, env)}

	var handler slog.Handler
	if strings.EqualFold(cfg.LogFormat, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(NewTraceHandler(handler)).With("service", cfg.ServiceName)
}

func parseLevel(level string, env config.Environment) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info":
		if env == config.EnvDevelopment {
			return slog.LevelDebug
		}
		return slog.LevelInfo
	}
	return slog.LevelInfo
}
