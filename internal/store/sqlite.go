package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobkeeper/pkg/models"
	sqlite3 "github.com/mattn/go-sqlite3"
)

const jobColumns = `id, category, status, progress, stage, error_message, request, result, content_key, created_at, updated_at`

// SQLiteStore implements the Store interface on a single SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithLogger sets the logger used for skipped corrupt rows.
func WithLogger(l *slog.Logger) SQLiteOption {
	return func(s *SQLiteStore) { s.logger = l }
}

// WithClock overrides the time source used for updated_at and purge cutoffs.
func WithClock(now func() time.Time) SQLiteOption {
	return func(s *SQLiteStore) { s.now = now }
}

// NewSQLiteStore wraps an open database. path is the file the migrations run
// against and must be the same file db was opened on.
func NewSQLiteStore(db *sql.DB, path string, opts ...SQLiteOption) *SQLiteStore {
	s := &SQLiteStore{
		db:     db,
		path:   path,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to the SQLite file at path and returns an uninitialized store.
func Open(ctx context.Context, path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	db, err := Connect(ctx, path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteStore(db, path, opts...), nil
}

// Initialize creates or upgrades the schema. Safe to call on every startup.
func (s *SQLiteStore) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := RunMigrations(s.path); err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Insert(ctx context.Context, job *models.Job) error {
	if job.ID == uuid.Nil {
		return fmt.Errorf("insert job: id is required")
	}
	if !job.Category.Valid() || !job.Status.Valid() {
		return fmt.Errorf("insert job: invalid category %q or status %q", job.Category, job.Status)
	}

	request, err := json.Marshal(job.Request)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	var result []byte
	if job.Result != nil {
		if result, err = json.Marshal(job.Result); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	}

	now := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() || job.UpdatedAt.Before(job.CreatedAt) {
		job.UpdatedAt = job.CreatedAt
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID.String(), string(job.Category), string(job.Status), models.ClampProgress(job.Progress),
		job.Stage, job.Error, request, result, job.ContentKey,
		job.CreatedAt.UnixNano(), job.UpdatedAt.UnixNano())
	if err != nil {
		if isConstraintError(err) {
			return ErrDuplicateID
		}
		return storageErr("insert job", err)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, id uuid.UUID, opts ...JobUpdateOption) error {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin update", err)
	}
	defer tx.Rollback()

	var current string
	var updatedAt int64
	err = tx.QueryRowContext(ctx, `SELECT status, updated_at FROM jobs WHERE id = ?`, id.String()).
		Scan(&current, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return storageErr("get job status", err)
	}

	from := models.JobStatus(current)
	if from.IsTerminal() {
		return fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, id, from)
	}

	var cols []string
	vals := map[string]any{}
	set := func(col string, v any) {
		if _, ok := vals[col]; !ok {
			cols = append(cols, col)
		}
		vals[col] = v
	}

	if params.Status != nil {
		to := *params.Status
		if !models.CanTransition(from, to) && !(to == models.JobStatusQueued && models.CanRequeue(from)) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}
		set("status", string(to))

		switch to {
		case models.JobStatusCompleted:
			if params.Result == nil {
				return fmt.Errorf("%w: completed job requires a result", ErrInvalidTransition)
			}
			set("error_message", nil)
		case models.JobStatusFailed:
			if params.ErrorMessage == nil {
				return fmt.Errorf("%w: failed job requires an error message", ErrInvalidTransition)
			}
			set("result", nil)
		case models.JobStatusQueued:
			if params.Progress == nil {
				set("progress", 0.0)
			}
			set("error_message", nil)
			set("result", nil)
		default:
			set("error_message", nil)
			set("result", nil)
		}
	} else if params.Result != nil || params.ErrorMessage != nil {
		return fmt.Errorf("%w: result and error are only set with a terminal status", ErrInvalidTransition)
	}

	if params.Progress != nil {
		p := *params.Progress
		if params.Status != nil && *params.Status == models.JobStatusQueued {
			p = 0
		}
		set("progress", p)
	}
	if params.Stage != nil {
		set("stage", *params.Stage)
	}
	if params.ErrorMessage != nil {
		set("error_message", *params.ErrorMessage)
	}
	if params.Result != nil {
		blob, err := json.Marshal(params.Result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		set("result", blob)
	}

	now := s.now().UnixNano()
	if now < updatedAt {
		now = updatedAt
	}
	set("updated_at", now)

	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, col := range cols {
		sets[i] = col + " = ?"
		args = append(args, vals[col])
	}
	args = append(args, id.String())
	query := "UPDATE jobs SET " + strings.Join(sets, ", ") + " WHERE id = ?"

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return storageErr("update job", err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit update", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id.String())
	var r jobRow
	err := row.Scan(r.dest()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get job", err)
	}
	job, err := r.decode()
	if err != nil {
		return nil, storageErr("get job", &RecordError{ID: r.id, Err: err})
	}
	return job, nil
}

func (s *SQLiteStore) List(ctx context.Context, filter JobFilter) ([]*models.Job, error) {
	conditions := []string{}
	args := []any{}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, string(filter.Category))
	}
	if filter.ContentKey != "" {
		conditions = append(conditions, "content_key = ?")
		args = append(args, filter.ContentKey)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	jobs, corrupt, err := s.queryJobs(ctx, "list jobs", query, args...)
	if err != nil {
		return nil, err
	}
	for _, rerr := range corrupt {
		s.logger.Warn("skipping corrupt job record", "job_id", rerr.ID, "error", rerr.Err)
	}
	return jobs, nil
}

func (s *SQLiteStore) GetInterrupted(ctx context.Context) ([]*models.Job, []*RecordError, error) {
	return s.queryJobs(ctx, "get interrupted jobs",
		`SELECT `+jobColumns+` FROM jobs WHERE status IN (?, ?) ORDER BY created_at ASC, id ASC`,
		string(models.JobStatusQueued), string(models.JobStatusProcessing))
}

func (s *SQLiteStore) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := s.now().Add(-age).UnixNano()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status IN (?, ?) AND created_at < ?`,
		string(models.JobStatusCompleted), string(models.JobStatusFailed), cutoff)
	if err != nil {
		return 0, storageErr("purge jobs", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("purge jobs", err)
	}
	return n, nil
}

func (s *SQLiteStore) queryJobs(ctx context.Context, op, query string, args ...any) ([]*models.Job, []*RecordError, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, storageErr(op, err)
	}
	defer rows.Close()

	var jobs []*models.Job
	var corrupt []*RecordError
	for rows.Next() {
		var r jobRow
		if err := rows.Scan(r.dest()...); err != nil {
			return nil, nil, storageErr("scan job", err)
		}
		job, err := r.decode()
		if err != nil {
			corrupt = append(corrupt, &RecordError{ID: r.id, Err: err})
			continue
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, storageErr(op, err)
	}
	return jobs, corrupt, nil
}

// jobRow is the raw column set of the jobs table.
type jobRow struct {
	id         string
	category   string
	status     string
	progress   float64
	stage      string
	errMsg     sql.NullString
	request    []byte
	result     []byte
	contentKey string
	createdAt  int64
	updatedAt  int64
}

func (r *jobRow) dest() []any {
	return []any{&r.id, &r.category, &r.status, &r.progress, &r.stage, &r.errMsg,
		&r.request, &r.result, &r.contentKey, &r.createdAt, &r.updatedAt}
}

func (r *jobRow) decode() (*models.Job, error) {
	id, err := uuid.Parse(r.id)
	if err != nil {
		return nil, fmt.Errorf("parse id: %w", err)
	}
	job := &models.Job{
		ID:         id,
		Category:   models.Category(r.category),
		Status:     models.JobStatus(r.status),
		Progress:   r.progress,
		Stage:      r.stage,
		ContentKey: r.contentKey,
		CreatedAt:  time.Unix(0, r.createdAt).UTC(),
		UpdatedAt:  time.Unix(0, r.updatedAt).UTC(),
	}
	if !job.Category.Valid() {
		return nil, fmt.Errorf("unknown category %q", r.category)
	}
	if !job.Status.Valid() {
		return nil, fmt.Errorf("unknown status %q", r.status)
	}
	if r.errMsg.Valid {
		msg := r.errMsg.String
		job.Error = &msg
	}
	if err := json.Unmarshal(r.request, &job.Request); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	if job.Request.Category() != job.Category {
		return nil, fmt.Errorf("request type %q does not match category %q", job.Request.Category(), job.Category)
	}
	if len(r.result) > 0 {
		job.Result = new(models.Result)
		if err := json.Unmarshal(r.result, job.Result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
	}
	return job, nil
}

// isConstraintError checks if a sqlite3 error is a constraint violation.
func isConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
