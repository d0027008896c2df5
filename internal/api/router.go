package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/netfence/wifisplit/internal/cidr"
)

// NewRouter creates a new HTTP router with all API endpoints.
func NewRouter(version string, policy *cidr.Policy, service ServiceController, checker HealthChecker) http.Handler {
	r := chi.NewRouter()

	r.Use(Recovery)
	r.Use(Logger)
	r.Use(LoopbackOnly)
	r.Use(JSONContentType)

	h := NewHandler(version, policy, service, checker)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.GetStatus)
		r.Get("/policy", h.GetPolicy)
		r.Get("/health", h.CheckHealth)
		r.Post("/service", h.ControlService)
	})

	return r
}
