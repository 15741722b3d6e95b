package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// healthCheckTimeout bounds all component probes of one /healthz request.
const healthCheckTimeout = 3 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "not found")
	})

	return r
}

// healthResponse is the /healthz body.
type healthResponse struct {
	Status     string            `json:"status"`
	Component  string            `json:"component,omitempty"`
	Version    string            `json:"version,omitempty"`
	Components map[string]string `json:"components,omitempty"`
}

// handleHealth probes every registered component. Any failure turns the
// response into 503 with the failing component's error.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{
		Status:    "ok",
		Component: s.component,
		Version:   s.version,
	}
	status := http.StatusOK

	if len(s.checks) > 0 {
		resp.Components = make(map[string]string, len(s.checks))
		names := make([]string, 0, len(s.checks))
		for name := range s.checks {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			if err := s.checks[name].HealthCheck(ctx); err != nil {
				resp.Components[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Components[name] = "ok"
		}
	}

	writeJSON(w, status, resp)
}

// statsResponse is the /stats body.
type statsResponse struct {
	Timestamp     string `json:"timestamp"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Sent          int64  `json:"sent"`
	Success       int64  `json:"success"`
	Failure       int64  `json:"failure"`
	InFlight      int64  `json:"in_flight"`
	Processed     int64  `json:"processed"`
	Persisted     int64  `json:"persisted"`
	Dropped       int64  `json:"dropped"`
}

// handleStats returns the cumulative counters as JSON.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	snap := s.counters.Snapshot()
	writeJSON(w, http.StatusOK, statsResponse{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Sent:          snap.Sent,
		Success:       snap.Success,
		Failure:       snap.Failure,
		InFlight:      snap.InFlight(),
		Processed:     snap.Processed,
		Persisted:     snap.Persisted,
		Dropped:       snap.Dropped,
	})
}
