package health

import (
	"context"
	"log/slog"
	"time"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Pinger is anything that can report whether it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker provides Kubernetes-ready health checks. The session store is critical,
// the users backend is not: without it pages degrade to error toasts but the process
// still serves traffic.
type Checker struct {
	Sessions    Pinger
	Backend     Pinger
	Logger      *slog.Logger
	Version     string
	Environment string

	startedAt time.Time
}

func NewChecker(sessions Pinger, backend Pinger, logger *slog.Logger, version, environment string) *Checker {
	return &Checker{
		Sessions:    sessions,
		Backend:     backend,
		Logger:      logger,
		Version:     version,
		Environment: environment,
		startedAt:   time.Now(),
	}
}

// HealthStatus represents comprehensive health information for Kubernetes
type HealthStatus struct {
	Status     string                     `json:"status"`
	Timestamp  string                     `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components"`
	Details    *HealthDetails             `json:"details,omitempty"`
}

// ComponentHealth represents individual component health
type ComponentHealth struct {
	Status      string        `json:"status"`
	Message     string        `json:"message,omitempty"`
	Latency     time.Duration `json:"latency_ms"`
	LastChecked string        `json:"last_checked"`
	Critical    bool          `json:"critical"`
}

// HealthDetails provides additional diagnostic information
type HealthDetails struct {
	Uptime      time.Duration `json:"uptime_seconds"`
	Environment string        `json:"environment,omitempty"`
}

// CheckHealth checks every dependency
func (h *Checker) CheckHealth(ctx context.Context) HealthStatus {
	components := map[string]ComponentHealth{
		"session_store": h.checkSessions(ctx),
		"backend":       h.checkBackend(ctx),
	}

	return HealthStatus{
		Status:     determineOverallStatus(components),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Version:    h.Version,
		Components: components,
		Details: &HealthDetails{
			Uptime:      time.Since(h.startedAt).Truncate(time.Second) / time.Second,
			Environment: h.Environment,
		},
	}
}

// CheckLiveness only verifies that the process answers
func (h *Checker) CheckLiveness(ctx context.Context) HealthStatus {
	now := time.Now()

	return HealthStatus{
		Status:    StatusHealthy,
		Timestamp: now.UTC().Format(time.RFC3339),
		Components: map[string]ComponentHealth{
			"process": {
				Status:      StatusHealthy,
				Message:     "service is responsive",
				LastChecked: now.UTC().Format(time.RFC3339),
				Critical:    true,
			},
		},
	}
}

// CheckReadiness checks the critical dependencies only
func (h *Checker) CheckReadiness(ctx context.Context) HealthStatus {
	components := map[string]ComponentHealth{
		"session_store": h.checkSessions(ctx),
	}

	return HealthStatus{
		Status:     determineOverallStatus(components),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Components: components,
	}
}

func (h *Checker) checkSessions(ctx context.Context) ComponentHealth {
	start := time.Now()

	if h.Sessions == nil {
		return ComponentHealth{
			Status:      StatusUnhealthy,
			Message:     "session store not configured",
			LastChecked: start.UTC().Format(time.RFC3339),
			Critical:    true,
		}
	}

	err := h.Sessions.Ping(ctx)
	latency := time.Since(start)

	if err != nil {
		h.Logger.ErrorContext(ctx, "Session store health check failed", "error", err, "latency", latency)
		return ComponentHealth{
			Status:      StatusUnhealthy,
			Message:     "session store unreachable: " + err.Error(),
			Latency:     latency,
			LastChecked: time.Now().UTC().Format(time.RFC3339),
			Critical:    true,
		}
	}

	// warn if > 100ms, unhealthy if > 5s
	status := StatusHealthy
	message := "session store reachable"
	if latency > 5*time.Second {
		status = StatusUnhealthy
		message = "session store response time too slow"
	} else if latency > 100*time.Millisecond {
		status = StatusDegraded
		message = "session store response time elevated"
	}

	return ComponentHealth{
		Status:      status,
		Message:     message,
		Latency:     latency,
		LastChecked: time.Now().UTC().Format(time.RFC3339),
		Critical:    true,
	}
}

func (h *Checker) checkBackend(ctx context.Context) ComponentHealth {
	start := time.Now()

	if h.Backend == nil {
		return ComponentHealth{
			Status:      StatusDegraded,
			Message:     "users backend not configured",
			LastChecked: start.UTC().Format(time.RFC3339),
			Critical:    false,
		}
	}

	if err := h.Backend.Ping(ctx); err != nil {
		h.Logger.WarnContext(ctx, "Users backend health check failed", "error", err)
		return ComponentHealth{
			Status:      StatusDegraded,
			Message:     "users backend unreachable: " + err.Error(),
			Latency:     time.Since(start),
			LastChecked: time.Now().UTC().Format(time.RFC3339),
			Critical:    false,
		}
	}

	return ComponentHealth{
		Status:      StatusHealthy,
		Message:     "users backend reachable",
		Latency:     time.Since(start),
		LastChecked: time.Now().UTC().Format(time.RFC3339),
		Critical:    false,
	}
}

func determineOverallStatus(components map[string]ComponentHealth) string {
	hasUnhealthy := false
	hasDegraded := false

	for _, component := range components {
		if component.Critical && component.Status == StatusUnhealthy {
			hasUnhealthy = true
		}
		if component.Status != StatusHealthy {
			hasDegraded = true
		}
	}

	if hasUnhealthy {
		return StatusUnhealthy
	}
	if hasDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}
