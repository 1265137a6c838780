// Package jobs runs submitted Analyze and Lrc jobs on bounded per-category
// worker pools, keeps an in-memory index of live jobs, and restores
// interrupted work from the job store at startup.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobkeeper/internal/store"
	"github.com/kiranshivaraju/jobkeeper/pkg/models"
)

const (
	stageQueued    = "queued"
	stageStarted   = "started"
	stageCompleted = "completed"
	stageFailed    = "failed"

	statusMirrorTTL = 30 * time.Minute
)

// StatusMirror receives best-effort copies of status transitions, e.g. a
// Redis cache shared with other processes.
type StatusMirror interface {
	SetJobStatus(ctx context.Context, jobID uuid.UUID, status string, ttl time.Duration) error
}

// Metrics observes dispatcher activity.
type Metrics interface {
	JobSubmitted(category models.Category)
	JobStarted(category models.Category)
	JobFinished(category models.Category, status models.JobStatus, elapsed time.Duration)
	JobsRecovered(n int)
	PersistFailed(category models.Category)
	SetQueueDepth(category models.Category, n int)
}

type noopMetrics struct{}

func (noopMetrics) JobSubmitted(models.Category) {}
func (noopMetrics) JobStarted(models.Category) {}
func (noopMetrics) JobFinished(models.Category, models.JobStatus, time.Duration) {}
func (noopMetrics) JobsRecovered(int) {}
func (noopMetrics) PersistFailed(models.Category) {}
func (noopMetrics) SetQueueDepth(models.Category, int) {}

// Executors holds one executor per job category.
type Executors struct {
	Analyze models.AnalyzeExecutor
	Lrc     models.LrcExecutor
}

// Config controls pool sizes and how long finished jobs stay in memory.
type Config struct {
	MaxConcurrency map[models.Category]int
	EvictionGrace  time.Duration
}

// DefaultConfig returns one Analyze worker, two Lrc workers and a five minute
// eviction grace.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: map[models.Category]int{
			models.CategoryAnalyze: 1,
			models.CategoryLrc:     2,
		},
		EvictionGrace: 5 * time.Minute,
	}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

func WithStatusMirror(m StatusMirror) Option {
	return func(d *Dispatcher) { d.mirror = m }
}

func WithMetrics(m Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// SubmitOption configures a single submission.
type SubmitOption func(*models.Job)

// WithContentKey tags the job with a caller-supplied key, typically a hash of
// the input audio, that can be used to look up earlier jobs.
func WithContentKey(key string) SubmitOption {
	return func(j *models.Job) { j.ContentKey = key }
}

// CategoryStats is a point-in-time view of one category's pool.
type CategoryStats struct {
	Queued         int `json:"queued"`
	Processing     int `json:"processing"`
	MaxConcurrency int `json:"max_concurrency"`
}

// Dispatcher accepts jobs, persists them, and runs them on per-category
// worker pools. Status reads are served from the hot index first and fall
// back to the store.
type Dispatcher struct {
	store     store.Store
	executors Executors
	cfg       Config
	index     *hotIndex
	queues    map[models.Category]*intakeQueue
	logger    *slog.Logger
	mirror    StatusMirror
	metrics   Metrics
	now       func() time.Time

	mu      sync.Mutex
	started bool
	stopped bool
	timers  map[uuid.UUID]*time.Timer
	wg      sync.WaitGroup

	// evictMu serializes the eviction timer with forced evictions.
	evictMu sync.Mutex
}

// NewDispatcher creates a dispatcher. Workers do not run until Start.
func NewDispatcher(st store.Store, executors Executors, cfg Config, opts ...Option) (*Dispatcher, error) {
	if st == nil {
		return nil, errors.New("dispatcher requires a store")
	}
	if executors.Analyze == nil || executors.Lrc == nil {
		return nil, errors.New("dispatcher requires an executor for every category")
	}
	for _, c := range models.Categories {
		if cfg.MaxConcurrency[c] < 1 {
			return nil, fmt.Errorf("max concurrency for %s must be at least 1", c)
		}
	}
	if cfg.EvictionGrace < 0 {
		return nil, errors.New("eviction grace must not be negative")
	}

	d := &Dispatcher{
		store:     st,
		executors: executors,
		cfg:       cfg,
		index:     newHotIndex(),
		queues:    make(map[models.Category]*intakeQueue, len(models.Categories)),
		logger:    slog.Default(),
		metrics:   noopMetrics{},
		now:       time.Now,
		timers:    make(map[uuid.UUID]*time.Timer),
	}
	for _, c := range models.Categories {
		d.queues[c] = newIntakeQueue()
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Submit validates the request, writes a queued record, and enqueues it.
// It never waits for a worker.
func (d *Dispatcher) Submit(ctx context.Context, category models.Category, req models.Request, opts ...SubmitOption) (uuid.UUID, error) {
	if !category.Valid() {
		return uuid.Nil, &ValidationError{Field: "category", Message: fmt.Sprintf("unknown category %q", category)}
	}
	if req.Category() != category {
		return uuid.Nil, &ValidationError{Field: "request", Message: fmt.Sprintf("request does not match category %s", category)}
	}
	if err := req.Validate(); err != nil {
		return uuid.Nil, &ValidationError{Message: err.Error()}
	}

	d.mu.Lock()
	stopped := d.stopped
	d.mu.Unlock()
	if stopped {
		return uuid.Nil, ErrStopped
	}

	now := d.now()
	job := &models.Job{
		ID:        uuid.New(),
		Category:  category,
		Status:    models.JobStatusQueued,
		Stage:     stageQueued,
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, o := range opts {
		o(job)
	}

	if err := d.store.Insert(ctx, job); err != nil {
		return uuid.Nil, fmt.Errorf("persist job: %w", err)
	}

	d.index.put(job, models.JobStatusQueued)
	q := d.queues[category]
	if !q.push(job.ID) {
		// Stopped between the check and the push; the record stays queued and
		// is picked up by recovery on the next start.
		d.logger.Warn("job accepted during shutdown", "job_id", job.ID, "category", category)
	}
	d.metrics.JobSubmitted(category)
	d.metrics.SetQueueDepth(category, q.len())
	d.mirrorStatus(job.ID, models.JobStatusQueued)

	d.logger.Info("job submitted", "job_id", job.ID, "category", category)
	return job.ID, nil
}

// Status returns the current state of a job, preferring the hot index.
func (d *Dispatcher) Status(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	if job, ok := d.index.get(id); ok {
		return job, nil
	}
	job, err := d.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read job status: %w", err)
	}
	return job, nil
}

// List returns stored jobs matching the filter, overlaid with fresher
// in-memory state where available.
func (d *Dispatcher) List(ctx context.Context, filter store.JobFilter) ([]*models.Job, error) {
	stored, err := d.store.List(ctx, store.JobFilter{Category: filter.Category, ContentKey: filter.ContentKey})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	out := make([]*models.Job, 0, len(stored))
	for _, j := range stored {
		if hot, ok := d.index.get(j.ID); ok {
			j = hot
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

// Evict drops a finished job from the hot index ahead of its grace period.
// Queued and processing jobs are never evicted, nor are jobs whose final
// state could not yet be written to the store.
func (d *Dispatcher) Evict(id uuid.UUID) bool {
	job, ok := d.index.get(id)
	if !ok || !job.Status.IsTerminal() {
		return false
	}

	d.mu.Lock()
	if t, ok := d.timers[id]; ok {
		t.Stop()
		delete(d.timers, id)
	}
	d.mu.Unlock()

	if !d.evict(id) {
		d.scheduleEviction(id)
		return false
	}
	return true
}

// Stats reports queue depth and active workers per category.
func (d *Dispatcher) Stats() map[models.Category]CategoryStats {
	processing := d.index.processing()
	out := make(map[models.Category]CategoryStats, len(models.Categories))
	for _, c := range models.Categories {
		out[c] = CategoryStats{
			Queued:         d.queues[c].len(),
			Processing:     processing[c],
			MaxConcurrency: d.cfg.MaxConcurrency[c],
		}
	}
	return out
}

// Start launches the worker pools.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return ErrAlreadyStarted
	}
	if d.stopped {
		return ErrStopped
	}
	d.started = true

	for _, c := range models.Categories {
		n := d.cfg.MaxConcurrency[c]
		d.logger.Info("worker pool starting", "category", c, "concurrency", n)
		for i := 0; i < n; i++ {
			d.wg.Add(1)
			go d.worker(c)
		}
	}
	return nil
}

func (d *Dispatcher) isStarted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

// Stop stops taking work off the queues and waits for running jobs until ctx
// expires. Jobs still queued or processing are recovered on the next start.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	for id, t := range d.timers {
		t.Stop()
		delete(d.timers, id)
	}
	d.mu.Unlock()

	d.logger.Info("dispatcher stopping")
	for _, q := range d.queues {
		q.close()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.logger.Warn("dispatcher stop timed out; running jobs will be recovered on next start",
			"processing", d.Stats())
		return ctx.Err()
	}
}

func (d *Dispatcher) worker(category models.Category) {
	defer d.wg.Done()
	q := d.queues[category]
	for {
		id, ok := q.pop()
		if !ok {
			return
		}
		d.metrics.SetQueueDepth(category, q.len())
		d.process(id)
	}
}

func (d *Dispatcher) process(id uuid.UUID) {
	job, ok := d.index.claim(id, d.now())
	if !ok {
		d.logger.Debug("skipping job not in queued state", "job_id", id)
		return
	}
	started := d.now()
	d.metrics.JobStarted(job.Category)
	d.logger.Info("job started", "job_id", id, "category", job.Category)
	d.sync(id)

	ctx := context.Background()
	reporter := models.ProgressFunc(func(fraction float64, stage string) {
		d.index.progress(id, fraction, stage, d.now())
	})

	result, err := d.execute(ctx, job, reporter)
	if err != nil {
		d.index.fail(id, err.Error(), d.now())
		d.logger.Error("job failed", "job_id", id, "category", job.Category, "error", err)
		d.metrics.JobFinished(job.Category, models.JobStatusFailed, d.now().Sub(started))
	} else {
		d.index.complete(id, result, d.now())
		d.logger.Info("job completed", "job_id", id, "category", job.Category)
		d.metrics.JobFinished(job.Category, models.JobStatusCompleted, d.now().Sub(started))
	}

	d.sync(id)
	d.scheduleEviction(id)
}

func (d *Dispatcher) execute(ctx context.Context, job *models.Job, reporter models.ProgressReporter) (res *models.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("executor panicked", "job_id", job.ID, "panic", r, "stack", string(debug.Stack()))
			res, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()

	switch job.Category {
	case models.CategoryAnalyze:
		out, err := d.executors.Analyze.Analyze(ctx, job.Request.Analyze, reporter)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return nil, errors.New("executor returned no result")
		}
		return &models.Result{Analyze: out}, nil
	case models.CategoryLrc:
		out, err := d.executors.Lrc.Align(ctx, job.Request.Lrc, reporter)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return nil, errors.New("executor returned no result")
		}
		return &models.Result{Lrc: out}, nil
	default:
		return nil, fmt.Errorf("no executor for category %q", job.Category)
	}
}

// sync writes every status transition the store has not yet seen. A failed
// write leaves the entry unsynced; the next call replays from the last
// durable status. It reports whether the store now matches memory.
func (d *Dispatcher) sync(id uuid.UUID) bool {
	job, persisted, ok := d.index.snapshot(id)
	if !ok {
		return false
	}
	path := transitionPath(persisted, job.Status)
	if len(path) == 0 {
		d.index.markPersisted(id, job.Status)
		return persisted == job.Status
	}

	ctx := context.Background()
	last := persisted
	for _, status := range path {
		err := d.store.Update(ctx, id, updateFor(job, status)...)
		if errors.Is(err, store.ErrInvalidTransition) {
			// An earlier write may have landed despite reporting an error.
			if cur, gerr := d.store.Get(ctx, id); gerr == nil {
				switch cur.Status {
				case status:
					err = nil
				case job.Status:
					d.index.markPersisted(id, job.Status)
					d.mirrorStatus(id, job.Status)
					return true
				}
			}
		}
		if err != nil {
			d.index.markPersisted(id, last)
			d.metrics.PersistFailed(job.Category)
			d.logger.Error("failed to persist job status",
				"job_id", id, "status", status, "persisted", last, "error", err)
			return false
		}
		last = status
		d.mirrorStatus(id, status)
	}
	d.index.markPersisted(id, last)
	return true
}

// transitionPath lists the writes needed to move a record from its durable
// status to the in-memory status.
func transitionPath(from, to models.JobStatus) []models.JobStatus {
	switch {
	case from == to:
		return nil
	case models.CanTransition(from, to):
		return []models.JobStatus{to}
	case from == models.JobStatusQueued && to.IsTerminal():
		return []models.JobStatus{models.JobStatusProcessing, to}
	default:
		return nil
	}
}

func updateFor(job *models.Job, status models.JobStatus) []store.JobUpdateOption {
	opts := []store.JobUpdateOption{store.WithStatus(status)}
	switch status {
	case models.JobStatusProcessing:
		stage := stageStarted
		if status == job.Status {
			stage = job.Stage
		}
		opts = append(opts, store.WithProgress(0), store.WithStage(stage))
	case models.JobStatusCompleted:
		opts = append(opts,
			store.WithProgress(job.Progress),
			store.WithStage(job.Stage),
			store.WithResult(job.Result))
	case models.JobStatusFailed:
		msg := ""
		if job.Error != nil {
			msg = *job.Error
		}
		opts = append(opts,
			store.WithProgress(job.Progress),
			store.WithStage(job.Stage),
			store.WithErrorMessage(msg))
	}
	return opts
}

func (d *Dispatcher) scheduleEviction(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if t, ok := d.timers[id]; ok {
		t.Stop()
	}
	d.timers[id] = time.AfterFunc(d.cfg.EvictionGrace, func() {
		d.mu.Lock()
		delete(d.timers, id)
		d.mu.Unlock()
		if !d.evict(id) {
			d.scheduleEviction(id)
		}
	})
}

// evict removes a terminal entry once its final state is durable.
func (d *Dispatcher) evict(id uuid.UUID) bool {
	d.evictMu.Lock()
	defer d.evictMu.Unlock()

	if !d.index.has(id) {
		return true
	}
	if !d.index.isSynced(id) && !d.sync(id) {
		d.logger.Warn("deferring eviction of unsynced job", "job_id", id)
		return false
	}
	d.index.remove(id)
	d.logger.Debug("job evicted from hot index", "job_id", id)
	return true
}

// requeue restores an interrupted record to the queue during recovery and
// reports whether it was added. Jobs already in the hot index are left alone.
// A failed write is logged and the in-memory requeue proceeds; the next
// transition replays from the record's stored status.
func (d *Dispatcher) requeue(ctx context.Context, job *models.Job) (bool, error) {
	if d.index.has(job.ID) {
		return false, nil
	}
	q, ok := d.queues[job.Category]
	if !ok {
		return false, fmt.Errorf("no queue for category %q", job.Category)
	}

	persisted := job.Status
	err := d.store.Update(ctx, job.ID,
		store.WithStatus(models.JobStatusQueued),
		store.WithProgress(0),
		store.WithStage(models.StageRequeued))
	if err != nil {
		d.metrics.PersistFailed(job.Category)
		d.logger.Error("failed to persist requeue", "job_id", job.ID, "error", err)
	} else {
		persisted = models.JobStatusQueued
	}

	job = job.Clone()
	job.Status = models.JobStatusQueued
	job.Progress = 0
	job.Stage = models.StageRequeued
	job.Error = nil
	job.Result = nil
	job.UpdatedAt = later(job.UpdatedAt, d.now())
	d.index.put(job, persisted)
	q.push(job.ID)
	d.metrics.SetQueueDepth(job.Category, q.len())
	return true, nil
}

func (d *Dispatcher) mirrorStatus(id uuid.UUID, status models.JobStatus) {
	if d.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.mirror.SetJobStatus(ctx, id, string(status), statusMirrorTTL); err != nil {
		d.logger.Warn("failed to mirror job status", "job_id", id, "error", err)
	}
}
