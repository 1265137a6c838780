// Package models holds the job record, its category-specific payloads and
// the executor contracts shared by the dispatcher, store and front ends.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Category selects the worker pool and executor that handle a job.
type Category string

const (
	CategoryAnalyze Category = "analyze"
	CategoryLrc     Category = "lrc"
)

// Categories lists every category in a stable order.
var Categories = []Category{CategoryAnalyze, CategoryLrc}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c == CategoryAnalyze || c == CategoryLrc
}

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// StageRequeued is the stage label set on records restored by startup recovery.
const StageRequeued = "requeued"

var validTransitions = map[JobStatus][]JobStatus{
	JobStatusQueued:     {JobStatusProcessing},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed},
}

// CanTransition reports whether from -> to is a normal dispatch edge.
func CanTransition(from, to JobStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanRequeue reports whether a record in status from may be reset to queued.
// Only startup recovery takes this edge.
func CanRequeue(from JobStatus) bool {
	return from == JobStatusQueued || from == JobStatusProcessing
}

// Job is one unit of background work and its lifecycle state.
//
// Result is set if and only if Status is completed; Error is set if and only
// if Status is failed. Category and Request never change after creation.
type Job struct {
	ID         uuid.UUID `json:"id"`
	Category   Category  `json:"category"`
	Status     JobStatus `json:"status"`
	Progress   float64   `json:"progress"`
	Stage      string    `json:"stage,omitempty"`
	Error      *string   `json:"error,omitempty"`
	Request    Request   `json:"request"`
	Result     *Result   `json:"result,omitempty"`
	ContentKey string    `json:"content_key,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Clone returns a copy that shares no mutable state with j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Request = j.Request.Clone()
	c.Result = j.Result.Clone()
	if j.Error != nil {
		msg := *j.Error
		c.Error = &msg
	}
	return &c
}

// View projects the job into the shape exposed to API and CLI callers.
func (j *Job) View() JobView {
	v := JobView{
		ID:         j.ID,
		Category:   j.Category,
		Status:     j.Status,
		Progress:   j.Progress,
		Stage:      j.Stage,
		Error:      j.Error,
		ContentKey: j.ContentKey,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
	}
	if j.Status == JobStatusCompleted {
		v.Result = j.Result
	}
	return v
}

// JobView is the read model returned by status and list queries.
type JobView struct {
	ID         uuid.UUID `json:"id"`
	Category   Category  `json:"category"`
	Status     JobStatus `json:"status"`
	Progress   float64   `json:"progress"`
	Stage      string    `json:"stage,omitempty"`
	Error      *string   `json:"error,omitempty"`
	Result     *Result   `json:"result,omitempty"`
	ContentKey string    `json:"content_key,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ClampProgress bounds p to [0, 1].
func ClampProgress(p float64) float64 {
	if p < 0 || p != p {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
