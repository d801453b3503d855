package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/user/audit-service/internal/delivery/http/handler"
	"github.com/user/audit-service/internal/delivery/http/middleware"
)

func New(h *handler.Handler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	// Prometheus metrics endpoint
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/health", h.HandleHealthCheck)

	r.Route("/api/audits", func(r chi.Router) {
		r.Get("/", h.HandleListAudits)
		r.Post("/", h.HandleRequestAudit)
		r.Route("/{id}", func(r chi.Router) {
			r.Delete("/", h.HandleDeleteAudit)
			r.Get("/status", h.HandleGetStatus)
			r.Get("/results", h.HandleGetResults)
		})
	})

	r.Route("/api/tasks/failed", func(r chi.Router) {
		r.Get("/", h.HandleListFailedTasks)
		r.Post("/{taskID}/retry", h.HandleRetryFailedTask)
	})

	return r
}
