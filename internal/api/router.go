// Package api wires the HTTP surface of the import service.
package api

import (
	"net/http"

	"github.com/dvloznov/finance-import/internal/api/handlers"
	"github.com/dvloznov/finance-import/internal/api/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// NewRouter mounts all routes. jobsHandler may be nil when no job store is
// configured.
func NewRouter(batches *handlers.BatchesHandler, jobsHandler *handlers.JobsHandler, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))
	r.Use(middleware.CORS)
	r.Use(middleware.Actor)

	r.Get("/health", handlers.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/source-types", batches.ListSourceTypes)

		r.Route("/batches", func(r chi.Router) {
			r.Get("/", batches.ListBatches)
			r.Post("/", batches.CreateBatch)
			r.Get("/{id}", batches.GetBatch)
			r.Get("/{id}/rows", batches.ListRows)
			r.Get("/{id}/errors", batches.ListRowErrors)
		})

		if jobsHandler != nil {
			r.Get("/jobs", jobsHandler.ListJobs)
			r.Get("/jobs/{id}", jobsHandler.GetJob)
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return r
}
