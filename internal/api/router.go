// Package api assembles the HTTP front end: routing, middleware and the
// metrics endpoint.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/jobkeeper/internal/api/middleware"
	"github.com/kiranshivaraju/jobkeeper/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Logger    *slog.Logger
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler        http.HandlerFunc
	SubmitAnalyzeHandler http.HandlerFunc
	SubmitLrcHandler     http.HandlerFunc
	GetJobHandler        http.HandlerFunc
	GetLrcHandler        http.HandlerFunc
	ListJobsHandler      http.HandlerFunc
	MetricsHandler       http.Handler
}

// NewRouter builds the Chi router with middleware stack and all routes.
// Submissions are rate limited; reads are not.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.Logger(deps.Logger))
	r.Use(mw.Recovery(deps.Logger))

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		if deps.Auth != nil {
			r.Use(deps.Auth.Authenticate)
		}

		r.Get("/api/v1/jobs", orNotImplemented(deps.ListJobsHandler))
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))
		r.Get("/api/v1/jobs/{jobID}/lrc", orNotImplemented(deps.GetLrcHandler))

		r.Group(func(r chi.Router) {
			if deps.RateLimit != nil {
				r.Use(deps.RateLimit.Limit)
			}
			r.Post("/api/v1/jobs/analyze", orNotImplemented(deps.SubmitAnalyzeHandler))
			r.Post("/api/v1/jobs/lrc", orNotImplemented(deps.SubmitLrcHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
