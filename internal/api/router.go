package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// healthCheckTimeout bounds each component check of /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.prometheus != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.prometheus, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/objects", func(r chi.Router) {
			r.Get("/", s.handleListObjects)
			r.Get("/{id}", s.handleGetObject)
			r.Put("/{id}/state", s.handleSetObjectState)
		})

		r.Post("/sync", s.handleSync)
		r.Get("/system/metrics", s.handleSystemMetrics)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Components map[string]string `json:"components"`
}

// handleHealth reports the state of every configured component. The
// response is 503 when a required component (database) is down and 200
// with status "degraded" when an optional one is.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:     "ok",
		Version:    s.version,
		Components: make(map[string]string),
	}

	check := func(name string, c HealthChecker) error {
		if c == nil {
			resp.Components[name] = "disabled"
			return nil
		}
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := c.HealthCheck(ctx); err != nil {
			resp.Components[name] = err.Error()
			return err
		}
		resp.Components[name] = "ok"
		return nil
	}

	status := http.StatusOK
	if err := check("database", s.db); err != nil {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	if check("mqtt", s.mqtt) != nil && resp.Status == "ok" {
		resp.Status = "degraded"
	}
	if check("influxdb", s.influx) != nil && resp.Status == "ok" {
		resp.Status = "degraded"
	}

	if s.bridge == nil {
		resp.Components["device"] = "disabled"
	} else if m := s.bridge.GetMetrics(); m.Connected {
		resp.Components["device"] = "ok"
	} else {
		resp.Components["device"] = m.Status
		if resp.Status == "ok" {
			resp.Status = "degraded"
		}
	}

	writeJSON(w, status, resp)
}
