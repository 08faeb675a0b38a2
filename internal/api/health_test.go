package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okPing(context.Context) error   { return nil }
func failPing(context.Context) error { return errors.New("down") }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		deps       HealthDeps
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name: "all_ok",
			deps: HealthDeps{
				Storage:   PingFunc(okPing),
				Database:  PingFunc(okPing),
				Redis:     PingFunc(okPing),
				MQTT:      func() bool { return true },
				Transcode: func() bool { return true },
			},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
			wantChecks: map[string]string{"storage": "ok", "database": "ok", "redis": "ok", "mqtt": "ok", "ffprobe": "ok"},
		},
		{
			name:       "optional_deps_not_configured",
			deps:       HealthDeps{Storage: PingFunc(okPing)},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
			wantChecks: map[string]string{"database": "not_configured", "redis": "not_configured", "mqtt": "not_configured"},
		},
		{
			name: "optional_dep_down_degrades",
			deps: HealthDeps{
				Storage:  PingFunc(okPing),
				Database: PingFunc(failPing),
				MQTT:     func() bool { return false },
			},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
			wantChecks: map[string]string{"database": "error", "mqtt": "disconnected"},
		},
		{
			name:       "storage_down_unhealthy",
			deps:       HealthDeps{Storage: PingFunc(failPing)},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
			wantChecks: map[string]string{"storage": "error"},
		},
		{
			name:       "ffprobe_missing_unhealthy",
			deps:       HealthDeps{Storage: PingFunc(okPing), Transcode: func() bool { return false }},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
			wantChecks: map[string]string{"ffprobe": "missing"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.deps, "v1.0.0", time.Now().Add(-time.Minute))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", rec.Code, tt.wantCode)
			}
			var resp HealthResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("JSON decode: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", resp.Status, tt.wantStatus)
			}
			if resp.Version != "v1.0.0" {
				t.Errorf("version = %q", resp.Version)
			}
			if resp.UptimeSeconds < 59 {
				t.Errorf("uptime = %d, want >= 59", resp.UptimeSeconds)
			}
			for k, want := range tt.wantChecks {
				if got := resp.Checks[k]; got != want {
					t.Errorf("checks[%s] = %q, want %q", k, got, want)
				}
			}
		})
	}
}
