package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/kiranshivaraju/jobkeeper/internal/api/response"
	"github.com/kiranshivaraju/jobkeeper/internal/jobs"
	"github.com/kiranshivaraju/jobkeeper/pkg/models"
)

const healthCheckTimeout = 2 * time.Second

// Checker probes one dependency.
type Checker func(ctx context.Context) error

// StatsSource reports per-category pool state.
type StatsSource interface {
	Stats() map[models.Category]jobs.CategoryStats
}

type healthResponse struct {
	Status string                                 `json:"status"`
	Checks map[string]string                      `json:"checks"`
	Jobs   map[models.Category]jobs.CategoryStats `json:"jobs,omitempty"`
}

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health. It
// answers 503 when any check fails.
func NewHealthHandler(stats StatsSource, checks map[string]Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				resp.Status = "degraded"
				resp.Checks[name] = err.Error()
				continue
			}
			resp.Checks[name] = "ok"
		}
		if stats != nil {
			resp.Jobs = stats.Stats()
		}

		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		response.Status(w, status, resp)
	}
}
