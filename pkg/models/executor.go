package models

import "context"

// ProgressReporter receives progress updates from a running executor.
// fraction is clamped to [0, 1] by the receiver.
type ProgressReporter interface {
	Report(fraction float64, stage string)
}

// ProgressFunc adapts a plain function to ProgressReporter.
type ProgressFunc func(fraction float64, stage string)

func (f ProgressFunc) Report(fraction float64, stage string) { f(fraction, stage) }

// AnalyzeExecutor performs audio analysis. Implementations are supplied by the
// host application; any returned error fails the job with err.Error().
type AnalyzeExecutor interface {
	Analyze(ctx context.Context, req *AnalyzeRequest, progress ProgressReporter) (*AnalyzeResult, error)
}

// LrcExecutor produces timed lyrics for one audio file.
type LrcExecutor interface {
	Align(ctx context.Context, req *LrcRequest, progress ProgressReporter) (*LrcResult, error)
}
