package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each component check in handleHealth.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Prometheus scrape endpoint (no auth required for basic monitoring)
	r.Handle("/metrics", s.metrics)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/discovery", func(r chi.Router) {
				r.Get("/records", s.handleListRecords)
				r.Get("/stats", s.handleDiscoveryStats)
				r.Post("/scan", s.handleScan)

				r.Route("/inbox", func(r chi.Router) {
					r.Get("/", s.handleListInbox)
					r.Get("/{id}", s.handleGetInboxEntry)
					r.Post("/{id}/approve", s.handleApproveInboxEntry)
					r.Post("/{id}/ignore", s.handleIgnoreInboxEntry)
				})
			})

			r.Route("/devices/known", func(r chi.Router) {
				r.Get("/", s.handleListKnown)
				r.Post("/", s.handleCreateKnown)
				r.Get("/{identity}", s.handleGetKnown)
				r.Delete("/{identity}", s.handleDeleteKnown)
			})

			r.Get("/audit", s.handleListAudit)

			r.Get(s.wsPath(), s.handleWebSocket)
		})
	})

	return r
}

// componentHealth is one entry of the health response.
type componentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// handleHealth reports the engine and every configured component.
// The response is 503 when the engine itself is unhealthy; optional
// components only degrade the reported status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]componentHealth, len(s.components)+1)
	status := "ok"

	engineErr := s.check(r.Context(), s.discovery)
	components["discovery"] = toComponentHealth(engineErr)
	if engineErr != nil {
		status = "unhealthy"
	}

	names := make([]string, 0, len(s.components))
	for name := range s.components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := s.components[name]
		if c == nil {
			components[name] = componentHealth{Status: "disabled"}
			continue
		}
		h := toComponentHealth(s.check(r.Context(), c))
		components[name] = h
		if h.Status != "ok" && status == "ok" {
			status = "degraded"
		}
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"protocol":   s.discovery.Protocol(),
		"components": components,
	})
}

func (s *Server) check(ctx context.Context, c HealthChecker) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	return c.HealthCheck(ctx)
}

func toComponentHealth(err error) componentHealth {
	if err != nil {
		return componentHealth{Status: "error", Error: err.Error()}
	}
	return componentHealth{Status: "ok"}
}
