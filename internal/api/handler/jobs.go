// Package handler implements the HTTP endpoints over the job dispatcher.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobkeeper/internal/api/response"
	"github.com/kiranshivaraju/jobkeeper/internal/jobs"
	"github.com/kiranshivaraju/jobkeeper/internal/store"
	"github.com/kiranshivaraju/jobkeeper/pkg/models"
)

// JobService defines the dispatcher operations the handlers depend on.
type JobService interface {
	Submit(ctx context.Context, category models.Category, req models.Request, opts ...jobs.SubmitOption) (uuid.UUID, error)
	Status(ctx context.Context, id uuid.UUID) (*models.Job, error)
	List(ctx context.Context, filter store.JobFilter) ([]*models.Job, error)
}

type submitResponse struct {
	ID     uuid.UUID        `json:"id"`
	Status models.JobStatus `json:"status"`
}

type analyzeBody struct {
	AudioPath  string `json:"audio_path"`
	Model      string `json:"model"`
	SampleRate int    `json:"sample_rate"`
	ContentKey string `json:"content_key"`
}

type lrcBody struct {
	AudioPath  string `json:"audio_path"`
	Lyrics     string `json:"lyrics"`
	Language   string `json:"language"`
	OffsetMS   int64  `json:"offset_ms"`
	ContentKey string `json:"content_key"`
}

// NewSubmitAnalyzeHandler returns an http.HandlerFunc for POST /api/v1/jobs/analyze.
func NewSubmitAnalyzeHandler(svc JobService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body analyzeBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_FAILED", "Invalid JSON body", nil)
			return
		}
		req := models.NewAnalyzeRequest(models.AnalyzeRequest{
			AudioPath:  body.AudioPath,
			Model:      body.Model,
			SampleRate: body.SampleRate,
		})
		submit(w, r, svc, logger, models.CategoryAnalyze, req, body.ContentKey)
	}
}

// NewSubmitLrcHandler returns an http.HandlerFunc for POST /api/v1/jobs/lrc.
func NewSubmitLrcHandler(svc JobService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body lrcBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_FAILED", "Invalid JSON body", nil)
			return
		}
		req := models.NewLrcRequest(models.LrcRequest{
			AudioPath: body.AudioPath,
			Lyrics:    body.Lyrics,
			Language:  body.Language,
			Offset:    time.Duration(body.OffsetMS) * time.Millisecond,
		})
		submit(w, r, svc, logger, models.CategoryLrc, req, body.ContentKey)
	}
}

func submit(w http.ResponseWriter, r *http.Request, svc JobService, logger *slog.Logger, category models.Category, req models.Request, contentKey string) {
	var opts []jobs.SubmitOption
	if contentKey != "" {
		opts = append(opts, jobs.WithContentKey(contentKey))
	}

	id, err := svc.Submit(r.Context(), category, req, opts...)
	if err != nil {
		writeJobError(w, logger, err)
		return
	}
	response.Accepted(w, submitResponse{ID: id, Status: models.JobStatusQueued})
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(svc JobService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_FAILED", "jobID must be a UUID", nil)
			return
		}

		job, err := svc.Status(r.Context(), id)
		if err != nil {
			writeJobError(w, logger, err)
			return
		}
		response.JSON(w, job.View())
	}
}

// NewGetLrcHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}/lrc.
// It renders a completed lrc job's result as LRC text.
func NewGetLrcHandler(svc JobService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_FAILED", "jobID must be a UUID", nil)
			return
		}

		job, err := svc.Status(r.Context(), id)
		if err != nil {
			writeJobError(w, logger, err)
			return
		}
		if job.Category != models.CategoryLrc {
			response.Error(w, http.StatusBadRequest, "VALIDATION_FAILED", "job is not an lrc job", nil)
			return
		}
		if job.Status != models.JobStatusCompleted || job.Result == nil || job.Result.Lrc == nil {
			response.Error(w, http.StatusConflict, "JOB_NOT_COMPLETED",
				"Job has no result yet", map[string]any{"status": job.Status})
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, job.Result.Lrc.Render())
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
func NewListJobsHandler(svc JobService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := store.JobFilter{
			Status:     models.JobStatus(q.Get("status")),
			Category:   models.Category(q.Get("category")),
			ContentKey: q.Get("content_key"),
		}
		if filter.Status != "" && !filter.Status.Valid() {
			response.Error(w, http.StatusBadRequest, "VALIDATION_FAILED",
				"status must be one of queued, processing, completed, failed", nil)
			return
		}
		if filter.Category != "" && !filter.Category.Valid() {
			response.Error(w, http.StatusBadRequest, "VALIDATION_FAILED",
				"category must be one of analyze, lrc", nil)
			return
		}

		list, err := svc.List(r.Context(), filter)
		if err != nil {
			writeJobError(w, logger, err)
			return
		}
		views := make([]models.JobView, 0, len(list))
		for _, j := range list {
			views = append(views, j.View())
		}
		response.Collection(w, views, len(views))
	}
}

func writeJobError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var verr *jobs.ValidationError
	switch {
	case errors.As(err, &verr):
		response.Error(w, http.StatusBadRequest, "VALIDATION_FAILED", verr.Error(), nil)
	case errors.Is(err, jobs.ErrJobNotFound):
		response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
	case errors.Is(err, jobs.ErrStopped):
		response.Error(w, http.StatusServiceUnavailable, "SHUTTING_DOWN",
			"The server is shutting down", nil)
	case errors.Is(err, store.ErrStorage):
		logger.Error("job store unavailable", "error", err)
		response.Error(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE",
			"The job store is unavailable", nil)
	default:
		logger.Error("job request failed", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
