package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
}

// Pinger is a dependency that can be checked with a round trip.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthDeps are the collaborators the health endpoint reports on. Nil
// entries are reported as not_configured.
type HealthDeps struct {
	Storage   Pinger // required: failure makes the service unhealthy
	Database  Pinger
	Redis     Pinger
	MQTT      func() bool // connected?
	Transcode func() bool // ffprobe resolvable?
}

type HealthHandler struct {
	deps      HealthDeps
	version   string
	startTime time.Time
	timeout   time.Duration
}

func NewHealthHandler(deps HealthDeps, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		deps:      deps,
		version:   version,
		startTime: startTime,
		timeout:   3 * time.Second,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	degrade := func() {
		if status == "healthy" {
			status = "degraded"
		}
	}

	// Object storage check
	if h.deps.Storage != nil {
		if err := h.deps.Storage.Ping(ctx); err != nil {
			checks["storage"] = "error"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["storage"] = "ok"
		}
	} else {
		checks["storage"] = "not_configured"
	}

	// ffprobe check
	if h.deps.Transcode != nil {
		if h.deps.Transcode() {
			checks["ffprobe"] = "ok"
		} else {
			checks["ffprobe"] = "missing"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	// Database check
	if h.deps.Database != nil {
		if err := h.deps.Database.Ping(ctx); err != nil {
			checks["database"] = "error"
			degrade()
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not_configured"
	}

	// Redis check
	if h.deps.Redis != nil {
		if err := h.deps.Redis.Ping(ctx); err != nil {
			checks["redis"] = "error"
			degrade()
		} else {
			checks["redis"] = "ok"
		}
	} else {
		checks["redis"] = "not_configured"
	}

	// MQTT check
	if h.deps.MQTT != nil {
		if h.deps.MQTT() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			degrade()
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(resp)
}
