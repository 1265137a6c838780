package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobkeeper/internal/jobs"
	"github.com/kiranshivaraju/jobkeeper/internal/store"
	"github.com/kiranshivaraju/jobkeeper/pkg/models"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// --- mock JobService ---

type mockJobService struct {
	SubmitFunc func(ctx context.Context, category models.Category, req models.Request, opts ...jobs.SubmitOption) (uuid.UUID, error)
	StatusFunc func(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListFunc   func(ctx context.Context, filter store.JobFilter) ([]*models.Job, error)
}

func (m *mockJobService) Submit(ctx context.Context, category models.Category, req models.Request, opts ...jobs.SubmitOption) (uuid.UUID, error) {
	return m.SubmitFunc(ctx, category, req, opts...)
}

func (m *mockJobService) Status(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return m.StatusFunc(ctx, id)
}

func (m *mockJobService) List(ctx context.Context, filter store.JobFilter) ([]*models.Job, error) {
	return m.ListFunc(ctx, filter)
}

var _ JobService = (*mockJobService)(nil)
var _ JobService = (*jobs.Dispatcher)(nil)

// --- helpers ---

func postJSON(t *testing.T, path string, body any) *http.Request {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	r := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func withJobID(r *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("jobID", id)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func parseData(t *testing.T, rec *httptest.ResponseRecorder, want int) json.RawMessage {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env.Data
}

func parseErr(t *testing.T, rec *httptest.ResponseRecorder) (int, string) {
	t.Helper()
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, env.Error.Code
}

func completedJob(id uuid.UUID) *models.Job {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &models.Job{
		ID:        id,
		Category:  models.CategoryAnalyze,
		Status:    models.JobStatusCompleted,
		Progress:  1,
		Stage:     "completed",
		Request:   models.NewAnalyzeRequest(models.AnalyzeRequest{AudioPath: "a.wav"}),
		Result:    &models.Result{Analyze: &models.AnalyzeResult{BPM: 128, Key: "F minor"}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// --- submit ---

func TestSubmitAnalyze_Accepted(t *testing.T) {
	id := uuid.New()
	var gotCategory models.Category
	var gotReq models.Request
	var gotJob models.Job
	svc := &mockJobService{SubmitFunc: func(_ context.Context, c models.Category, req models.Request, opts ...jobs.SubmitOption) (uuid.UUID, error) {
		gotCategory, gotReq = c, req
		for _, o := range opts {
			o(&gotJob)
		}
		return id, nil
	}}

	rec := httptest.NewRecorder()
	NewSubmitAnalyzeHandler(svc, quietLogger).ServeHTTP(rec, postJSON(t, "/api/v1/jobs/analyze", map[string]any{
		"audio_path":  "songs/a.wav",
		"model":       "htdemucs",
		"sample_rate": 44100,
		"content_key": "sha256:abc",
	}))

	var resp submitResponse
	if err := json.Unmarshal(parseData(t, rec, http.StatusAccepted), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID != id || resp.Status != models.JobStatusQueued {
		t.Errorf("unexpected response: %+v", resp)
	}
	if gotCategory != models.CategoryAnalyze {
		t.Errorf("expected analyze category, got %q", gotCategory)
	}
	if gotReq.Analyze == nil || gotReq.Analyze.AudioPath != "songs/a.wav" || gotReq.Analyze.SampleRate != 44100 {
		t.Errorf("unexpected request: %+v", gotReq.Analyze)
	}
	if gotJob.ContentKey != "sha256:abc" {
		t.Errorf("expected content key to be forwarded, got %q", gotJob.ContentKey)
	}
}

func TestSubmitLrc_ConvertsOffset(t *testing.T) {
	var gotReq models.Request
	svc := &mockJobService{SubmitFunc: func(_ context.Context, c models.Category, req models.Request, opts ...jobs.SubmitOption) (uuid.UUID, error) {
		gotReq = req
		if len(opts) != 0 {
			t.Errorf("expected no submit options without content_key, got %d", len(opts))
		}
		return uuid.New(), nil
	}}

	rec := httptest.NewRecorder()
	NewSubmitLrcHandler(svc, quietLogger).ServeHTTP(rec, postJSON(t, "/api/v1/jobs/lrc", map[string]any{
		"audio_path": "b.mp3",
		"language":   "en",
		"offset_ms":  1500,
	}))

	parseData(t, rec, http.StatusAccepted)
	if gotReq.Lrc == nil || gotReq.Lrc.Offset != 1500*time.Millisecond || gotReq.Lrc.Language != "en" {
		t.Errorf("unexpected request: %+v", gotReq.Lrc)
	}
}

func TestSubmit_InvalidJSON(t *testing.T) {
	svc := &mockJobService{SubmitFunc: func(context.Context, models.Category, models.Request, ...jobs.SubmitOption) (uuid.UUID, error) {
		t.Fatal("Submit must not be called")
		return uuid.Nil, nil
	}}

	for name, h := range map[string]http.HandlerFunc{
		"analyze": NewSubmitAnalyzeHandler(svc, quietLogger),
		"lrc":     NewSubmitLrcHandler(svc, quietLogger),
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("{not json")))
			if code, errCode := parseErr(t, rec); code != http.StatusBadRequest || errCode != "VALIDATION_FAILED" {
				t.Errorf("expected 400 VALIDATION_FAILED, got %d %s", code, errCode)
			}
		})
	}
}

func TestSubmit_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"validation", &jobs.ValidationError{Message: "audio_path is required"}, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"stopped", jobs.ErrStopped, http.StatusServiceUnavailable, "SHUTTING_DOWN"},
		{"storage", fmt.Errorf("persist job: %w", fmt.Errorf("insert job: %w: disk I/O error", store.ErrStorage)), http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockJobService{SubmitFunc: func(context.Context, models.Category, models.Request, ...jobs.SubmitOption) (uuid.UUID, error) {
				return uuid.Nil, tt.err
			}}
			rec := httptest.NewRecorder()
			NewSubmitAnalyzeHandler(svc, quietLogger).ServeHTTP(rec, postJSON(t, "/", map[string]any{"audio_path": "a.wav"}))

			code, errCode := parseErr(t, rec)
			if code != tt.wantCode || errCode != tt.wantErr {
				t.Errorf("expected %d %s, got %d %s", tt.wantCode, tt.wantErr, code, errCode)
			}
		})
	}
}

// --- get ---

func TestGetJob_Success(t *testing.T) {
	id := uuid.New()
	svc := &mockJobService{StatusFunc: func(_ context.Context, got uuid.UUID) (*models.Job, error) {
		if got != id {
			t.Errorf("unexpected id %s", got)
		}
		return completedJob(id), nil
	}}

	rec := httptest.NewRecorder()
	NewGetJobHandler(svc, quietLogger).ServeHTTP(rec, withJobID(httptest.NewRequest(http.MethodGet, "/", nil), id.String()))

	var view models.JobView
	if err := json.Unmarshal(parseData(t, rec, http.StatusOK), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Status != models.JobStatusCompleted || view.Result == nil || view.Result.Analyze.BPM != 128 {
		t.Errorf("unexpected view: %+v", view)
	}
	if view.Error != nil {
		t.Errorf("completed job must not carry an error")
	}
}

func TestGetJob_InvalidID(t *testing.T) {
	svc := &mockJobService{}
	rec := httptest.NewRecorder()
	NewGetJobHandler(svc, quietLogger).ServeHTTP(rec, withJobID(httptest.NewRequest(http.MethodGet, "/", nil), "not-a-uuid"))

	if code, errCode := parseErr(t, rec); code != http.StatusBadRequest || errCode != "VALIDATION_FAILED" {
		t.Errorf("expected 400 VALIDATION_FAILED, got %d %s", code, errCode)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	svc := &mockJobService{StatusFunc: func(context.Context, uuid.UUID) (*models.Job, error) {
		return nil, jobs.ErrJobNotFound
	}}
	rec := httptest.NewRecorder()
	NewGetJobHandler(svc, quietLogger).ServeHTTP(rec, withJobID(httptest.NewRequest(http.MethodGet, "/", nil), uuid.NewString()))

	if code, errCode := parseErr(t, rec); code != http.StatusNotFound || errCode != "JOB_NOT_FOUND" {
		t.Errorf("expected 404 JOB_NOT_FOUND, got %d %s", code, errCode)
	}
}

func TestGetJob_StorageUnavailable(t *testing.T) {
	svc := &mockJobService{StatusFunc: func(context.Context, uuid.UUID) (*models.Job, error) {
		return nil, fmt.Errorf("read job status: %w", store.ErrStorage)
	}}
	rec := httptest.NewRecorder()
	NewGetJobHandler(svc, quietLogger).ServeHTTP(rec, withJobID(httptest.NewRequest(http.MethodGet, "/", nil), uuid.NewString()))

	if code, errCode := parseErr(t, rec); code != http.StatusServiceUnavailable || errCode != "STORAGE_UNAVAILABLE" {
		t.Errorf("expected 503 STORAGE_UNAVAILABLE, got %d %s", code, errCode)
	}
}

// --- list ---

func TestListJobs_PassesFilter(t *testing.T) {
	var got store.JobFilter
	svc := &mockJobService{ListFunc: func(_ context.Context, f store.JobFilter) ([]*models.Job, error) {
		got = f
		return []*models.Job{completedJob(uuid.New()), completedJob(uuid.New())}, nil
	}}

	rec := httptest.NewRecorder()
	NewListJobsHandler(svc, quietLogger).ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/api/v1/jobs?status=completed&category=analyze&content_key=k1", nil))

	var views []models.JobView
	if err := json.Unmarshal(parseData(t, rec, http.StatusOK), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 2 {
		t.Errorf("expected 2 jobs, got %d", len(views))
	}
	want := store.JobFilter{Status: models.JobStatusCompleted, Category: models.CategoryAnalyze, ContentKey: "k1"}
	if got != want {
		t.Errorf("expected filter %+v, got %+v", want, got)
	}
}

func TestListJobs_EmptyIsArray(t *testing.T) {
	svc := &mockJobService{ListFunc: func(context.Context, store.JobFilter) ([]*models.Job, error) {
		return nil, nil
	}}
	rec := httptest.NewRecorder()
	NewListJobsHandler(svc, quietLogger).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil))

	if data := string(parseData(t, rec, http.StatusOK)); data != "[]" {
		t.Errorf("expected empty array, got %s", data)
	}
}

func TestListJobs_InvalidFilter(t *testing.T) {
	svc := &mockJobService{ListFunc: func(context.Context, store.JobFilter) ([]*models.Job, error) {
		t.Fatal("List must not be called")
		return nil, nil
	}}
	for _, query := range []string{"status=running", "category=video"} {
		t.Run(query, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewListJobsHandler(svc, quietLogger).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs?"+query, nil))
			if code, errCode := parseErr(t, rec); code != http.StatusBadRequest || errCode != "VALIDATION_FAILED" {
				t.Errorf("expected 400 VALIDATION_FAILED, got %d %s", code, errCode)
			}
		})
	}
}

// --- lrc ---

func TestGetLrc_RendersText(t *testing.T) {
	id := uuid.New()
	svc := &mockJobService{StatusFunc: func(context.Context, uuid.UUID) (*models.Job, error) {
		return &models.Job{
			ID:       id,
			Category: models.CategoryLrc,
			Status:   models.JobStatusCompleted,
			Result: &models.Result{Lrc: &models.LrcResult{
				Language: "en",
				Lines:    []models.LrcLine{{Start: 1500 * time.Millisecond, Text: "hello"}},
			}},
		}, nil
	}}

	rec := httptest.NewRecorder()
	NewGetLrcHandler(svc, quietLogger).ServeHTTP(rec, withJobID(httptest.NewRequest(http.MethodGet, "/", nil), id.String()))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got != "[la:en]\n[00:01.50]hello\n" {
		t.Errorf("unexpected lrc body: %q", got)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Errorf("unexpected content type: %s", ct)
	}
}

func TestGetLrc_Errors(t *testing.T) {
	tests := []struct {
		name     string
		job      *models.Job
		wantCode int
		wantErr  string
	}{
		{"wrong category", completedJob(uuid.New()), http.StatusBadRequest, "VALIDATION_FAILED"},
		{"still running", &models.Job{Category: models.CategoryLrc, Status: models.JobStatusProcessing}, http.StatusConflict, "JOB_NOT_COMPLETED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockJobService{StatusFunc: func(context.Context, uuid.UUID) (*models.Job, error) {
				return tt.job, nil
			}}
			rec := httptest.NewRecorder()
			NewGetLrcHandler(svc, quietLogger).ServeHTTP(rec, withJobID(httptest.NewRequest(http.MethodGet, "/", nil), uuid.NewString()))

			code, errCode := parseErr(t, rec)
			if code != tt.wantCode || errCode != tt.wantErr {
				t.Errorf("expected %d %s, got %d %s", tt.wantCode, tt.wantErr, code, errCode)
			}
		})
	}
}
