package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/jobkeeper/internal/store"
)

// RecoveryReport summarizes one startup recovery pass.
type RecoveryReport struct {
	Purged   int64         `json:"purged"`
	Requeued int           `json:"requeued"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

// RecoveryManager restores queued and processing records left behind by a
// previous process. It must run before the dispatcher is started.
type RecoveryManager struct {
	store      store.Store
	dispatcher *Dispatcher
	sweeper    *Sweeper
	logger     *slog.Logger
}

func NewRecoveryManager(st store.Store, d *Dispatcher, sweeper *Sweeper, logger *slog.Logger) *RecoveryManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecoveryManager{store: st, dispatcher: d, sweeper: sweeper, logger: logger}
}

// Run purges expired records, then requeues every interrupted job with
// progress reset. Records that cannot be decoded are logged and skipped.
// Running it twice without intervening work requeues nothing new.
func (m *RecoveryManager) Run(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport
	if m.dispatcher.isStarted() {
		return report, ErrAlreadyStarted
	}
	start := time.Now()

	if m.sweeper != nil {
		n, err := m.sweeper.Sweep(ctx)
		if err != nil {
			m.logger.Error("retention purge during recovery failed", "error", err)
		}
		report.Purged = n
	}

	interrupted, corrupt, err := m.store.GetInterrupted(ctx)
	if err != nil {
		report.Duration = time.Since(start)
		return report, fmt.Errorf("load interrupted jobs: %w", err)
	}

	for _, rec := range corrupt {
		m.logger.Error("skipping unreadable job record", "job_id", rec.ID, "error", rec.Err)
		report.Skipped++
	}

	for _, job := range interrupted {
		added, err := m.dispatcher.requeue(ctx, job)
		if err != nil {
			m.logger.Error("skipping job during recovery", "job_id", job.ID, "error", err)
			report.Skipped++
			continue
		}
		if !added {
			continue
		}
		m.logger.Info("job requeued", "job_id", job.ID, "category", job.Category, "previous_status", job.Status)
		report.Requeued++
	}

	report.Duration = time.Since(start)
	m.dispatcher.metrics.JobsRecovered(report.Requeued)
	m.logger.Info("recovery complete",
		"purged", report.Purged,
		"requeued", report.Requeued,
		"skipped", report.Skipped,
		"duration_ms", report.Duration.Milliseconds())
	return report, nil
}
