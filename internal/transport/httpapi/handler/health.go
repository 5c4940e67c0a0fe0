package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/kislikjeka/festpay/pkg/ledgerapi"
)

// Pinger checks a dependency's connectivity
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

// Ping calls f
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler handles health check requests
type HealthHandler struct {
	db    Pinger
	cache Pinger
}

// NewHealthHandler creates a new health handler. cache may be nil.
func NewHealthHandler(db, cache Pinger) *HealthHandler {
	return &HealthHandler{db: db, cache: cache}
}

// GetHealth handles GET /health
// Devices probe this endpoint for reachability and round-trip time, so it touches no dependency.
func GetHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, ledgerapi.HealthResponse{Status: "ok"}, http.StatusOK)
}

// GetReadiness handles GET /health/ready
func (h *HealthHandler) GetReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"database": "healthy"}
	status := http.StatusOK

	if err := h.db.Ping(ctx); err != nil {
		checks["database"] = "unhealthy: " + err.Error()
		status = http.StatusServiceUnavailable
	}

	// The ack cache is an optimization; a broken cache degrades but does not block
	if h.cache != nil {
		checks["cache"] = "healthy"
		if err := h.cache.Ping(ctx); err != nil {
			checks["cache"] = "degraded: " + err.Error()
		}
	}

	respondJSON(w, map[string]interface{}{
		"status": http.StatusText(status),
		"checks": checks,
	}, status)
}
