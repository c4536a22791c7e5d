package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"
)

const version = "0.1.0"

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"`            // "pass" or "fail"
	Latency string `json:"latency,omitempty"` // e.g., "2ms"
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string           `json:"status"` // "healthy" or "degraded"
	Version   string           `json:"version"`
	Checks    map[string]Check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

// Health handles the health check endpoint.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	allHealthy := true

	// LLM provider
	if h.llm != nil && h.llm.Configured() {
		checks["llm"] = Check{Status: "pass", Message: h.llm.Model()}
	} else {
		checks["llm"] = Check{Status: "fail", Message: "not configured"}
		allHealthy = false
	}

	// Document store
	if h.docs != nil {
		start := time.Now()
		if err := h.docs.Ping(ctx); err != nil {
			checks["documents"] = Check{Status: "fail", Message: "connection failed"}
			allHealthy = false
		} else {
			checks["documents"] = Check{Status: "pass", Latency: time.Since(start).String()}
		}
	} else {
		checks["documents"] = Check{Status: "fail", Message: "not configured"}
		allHealthy = false
	}

	// Redis is optional; only report it when configured
	if h.redis != nil {
		start := time.Now()
		if err := h.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = Check{Status: "fail", Message: "connection failed"}
			allHealthy = false
		} else {
			checks["redis"] = Check{Status: "pass", Latency: time.Since(start).String()}
		}
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	h.JSON(w, statusCode, HealthResponse{
		Status:    status,
		Version:   version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// RootResponse represents the API info response.
type RootResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	WS      string `json:"ws"`
}

// Root handles the API info endpoint.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, RootResponse{
		Name:    "RZX",
		Version: version,
		WS:      "/ws",
	})
}

// StatusResponse represents the server status response.
type StatusResponse struct {
	Success     bool    `json:"success"`
	Status      string  `json:"status"`
	Uptime      float64 `json:"uptime"` // seconds
	StartedAt   string  `json:"startedAt"`
	Timestamp   string  `json:"timestamp"`
	Connections int     `json:"connections"`
	Goroutines  int     `json:"goroutines"`
}

// Status reports that the server is online.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	connections := 0
	if h.relay != nil {
		connections = h.relay.Connections()
	}
	h.JSON(w, http.StatusOK, StatusResponse{
		Success:     true,
		Status:      "online",
		Uptime:      time.Since(h.startedAt).Seconds(),
		StartedAt:   h.startedAt.UTC().Format(time.RFC3339),
		Timestamp:   now(),
		Connections: connections,
		Goroutines:  runtime.NumGoroutine(),
	})
}
