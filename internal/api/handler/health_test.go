package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kiranshivaraju/jobkeeper/internal/jobs"
	"github.com/kiranshivaraju/jobkeeper/pkg/models"
)

type fixedStats map[models.Category]jobs.CategoryStats

func (f fixedStats) Stats() map[models.Category]jobs.CategoryStats { return f }

func passing(context.Context) error { return nil }

func TestHealth_AllChecksPass(t *testing.T) {
	stats := fixedStats{models.CategoryLrc: {Queued: 3, Processing: 2, MaxConcurrency: 2}}
	h := NewHealthHandler(stats, map[string]Checker{"store": passing, "redis": passing})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	var resp healthResponse
	if err := json.Unmarshal(parseData(t, rec, http.StatusOK), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.Checks["store"] != "ok" || resp.Checks["redis"] != "ok" {
		t.Errorf("unexpected health: %+v", resp)
	}
	if resp.Jobs[models.CategoryLrc].Queued != 3 {
		t.Errorf("expected lrc stats to be reported, got %+v", resp.Jobs)
	}
}

func TestHealth_FailingCheckDegrades(t *testing.T) {
	h := NewHealthHandler(nil, map[string]Checker{
		"store":     passing,
		"inference": func(context.Context) error { return errors.New("sidecar unreachable") },
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	var resp healthResponse
	if err := json.Unmarshal(parseData(t, rec, http.StatusServiceUnavailable), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "degraded" || resp.Checks["inference"] != "sidecar unreachable" || resp.Checks["store"] != "ok" {
		t.Errorf("unexpected health: %+v", resp)
	}
}
