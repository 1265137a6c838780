package jobs

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobkeeper/pkg/models"
)

// hotIndex is the in-memory copy of active and recently finished jobs.
// persisted tracks the last status known to be durable so a failed write can
// be replayed at the next transition.
type hotIndex struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*indexEntry
}

type indexEntry struct {
	job       *models.Job
	persisted models.JobStatus
	synced    bool
}

func newHotIndex() *hotIndex {
	return &hotIndex{entries: make(map[uuid.UUID]*indexEntry)}
}

func (h *hotIndex) put(job *models.Job, persisted models.JobStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[job.ID] = &indexEntry{
		job:       job.Clone(),
		persisted: persisted,
		synced:    persisted == job.Status,
	}
}

func (h *hotIndex) has(id uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.entries[id]
	return ok
}

func (h *hotIndex) get(id uuid.UUID) (*models.Job, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.entries[id]
	if !ok {
		return nil, false
	}
	return e.job.Clone(), true
}

// snapshot returns a copy of the job together with its last durable status.
func (h *hotIndex) snapshot(id uuid.UUID) (*models.Job, models.JobStatus, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.entries[id]
	if !ok {
		return nil, "", false
	}
	return e.job.Clone(), e.persisted, true
}

// claim moves a queued job to processing. It returns false if the job is
// unknown or already owned, which makes duplicate queue entries harmless.
func (h *hotIndex) claim(id uuid.UUID, now time.Time) (*models.Job, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[id]
	if !ok || e.job.Status != models.JobStatusQueued {
		return nil, false
	}
	e.job.Status = models.JobStatusProcessing
	e.job.Progress = 0
	e.job.Stage = stageStarted
	e.job.UpdatedAt = later(e.job.UpdatedAt, now)
	e.synced = false
	return e.job.Clone(), true
}

// progress records an executor tick. Ticks are ignored once the job has left
// processing.
func (h *hotIndex) progress(id uuid.UUID, fraction float64, stage string, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[id]
	if !ok || e.job.Status != models.JobStatusProcessing {
		return
	}
	e.job.Progress = models.ClampProgress(fraction)
	if stage != "" {
		e.job.Stage = stage
	}
	e.job.UpdatedAt = later(e.job.UpdatedAt, now)
}

func (h *hotIndex) complete(id uuid.UUID, result *models.Result, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[id]
	if !ok || e.job.Status != models.JobStatusProcessing {
		return
	}
	e.job.Status = models.JobStatusCompleted
	e.job.Result = result.Clone()
	e.job.Error = nil
	e.job.Progress = 1
	e.job.Stage = stageCompleted
	e.job.UpdatedAt = later(e.job.UpdatedAt, now)
	e.synced = false
}

func (h *hotIndex) fail(id uuid.UUID, msg string, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[id]
	if !ok || e.job.Status != models.JobStatusProcessing {
		return
	}
	e.job.Status = models.JobStatusFailed
	e.job.Error = &msg
	e.job.Result = nil
	e.job.Stage = stageFailed
	e.job.UpdatedAt = later(e.job.UpdatedAt, now)
	e.synced = false
}

// markPersisted records the last durable status; synced is true once it
// matches the in-memory status.
func (h *hotIndex) markPersisted(id uuid.UUID, status models.JobStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.entries[id]; ok {
		e.persisted = status
		e.synced = status == e.job.Status
	}
}

func (h *hotIndex) isSynced(id uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.entries[id]
	return ok && e.synced
}

func (h *hotIndex) remove(id uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.entries[id]; !ok {
		return false
	}
	delete(h.entries, id)
	return true
}

// processing returns the number of processing entries per category.
func (h *hotIndex) processing() map[models.Category]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[models.Category]int, len(models.Categories))
	for _, e := range h.entries {
		if e.job.Status == models.JobStatusProcessing {
			out[e.job.Category]++
		}
	}
	return out
}

func (h *hotIndex) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
