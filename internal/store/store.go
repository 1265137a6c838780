package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobkeeper/pkg/models"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrDuplicateID       = errors.New("duplicate job id")
	ErrInvalidTransition = errors.New("invalid job status transition")
	// ErrStorage marks failures of the underlying database (I/O, corruption,
	// locking). Callers test for it with errors.Is.
	ErrStorage = errors.New("storage error")
)

// Store is the durable repository for job records. All database operations
// go through here. Implementations must be safe for concurrent use.
type Store interface {
	Initialize(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	Insert(ctx context.Context, job *models.Job) error
	Update(ctx context.Context, id uuid.UUID, opts ...JobUpdateOption) error
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
	List(ctx context.Context, filter JobFilter) ([]*models.Job, error)

	// GetInterrupted returns every queued or processing record. Rows that
	// cannot be decoded are reported individually instead of failing the call.
	GetInterrupted(ctx context.Context) ([]*models.Job, []*RecordError, error)

	// PurgeOlderThan deletes completed and failed records created before
	// now-age. Queued and processing records are never deleted.
	PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// JobFilter narrows List results. Zero values match everything.
type JobFilter struct {
	Status     models.JobStatus
	Category   models.Category
	ContentKey string
}

// RecordError describes a stored row that could not be decoded.
type RecordError struct {
	ID  string
	Err error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("corrupt job record %s: %v", e.ID, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

type jobUpdateParams struct {
	Status       *models.JobStatus
	Progress     *float64
	Stage        *string
	ErrorMessage *string
	Result       *models.Result
}

// JobUpdateOption selects one field for a partial Update.
type JobUpdateOption func(*jobUpdateParams)

func WithStatus(status models.JobStatus) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Status = &status
	}
}

func WithProgress(progress float64) JobUpdateOption {
	return func(p *jobUpdateParams) {
		progress = models.ClampProgress(progress)
		p.Progress = &progress
	}
}

func WithStage(stage string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Stage = &stage
	}
}

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ErrorMessage = &msg
	}
}

func WithResult(result *models.Result) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Result = result
	}
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
