package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/freekieb7/usermanager/internal/health"
	"github.com/freekieb7/usermanager/internal/web/response"
)

type HealthHandler struct {
	HealthChecker *health.Checker
}

func NewHealthHandler(healthChecker *health.Checker) HealthHandler {
	return HealthHandler{
		HealthChecker: healthChecker,
	}
}

// RegisterRoutes sets up Kubernetes-compatible health endpoints
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	// Comprehensive health check (for monitoring/debugging)
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Kubernetes liveness check endpoint (lightweight)
	mux.HandleFunc("GET /health/live", h.HandleLiveness)

	// Kubernetes readiness check endpoint (session store only)
	mux.HandleFunc("GET /health/ready", h.HandleReadiness)
}

func writeHealth(w http.ResponseWriter, status health.HealthStatus) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

	httpStatus := http.StatusOK
	if status.Status == health.StatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	response.JSONResponse(w, httpStatus, status)
}

// HandleHealth provides comprehensive health information
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	writeHealth(w, h.HealthChecker.CheckHealth(ctx))
}

// HandleLiveness provides Kubernetes liveness check
func (h *HealthHandler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	writeHealth(w, h.HealthChecker.CheckLiveness(ctx))
}

// HandleReadiness provides Kubernetes readiness check
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	writeHealth(w, h.HealthChecker.CheckReadiness(ctx))
}
