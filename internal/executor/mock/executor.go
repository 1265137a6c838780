package mock

import (
	"context"

	"github.com/kiranshivaraju/jobkeeper/pkg/models"
)

// AnalyzeExecutor satisfies models.AnalyzeExecutor for testing.
type AnalyzeExecutor struct {
	AnalyzeFunc func(ctx context.Context, req *models.AnalyzeRequest, progress models.ProgressReporter) (*models.AnalyzeResult, error)
}

func (m *AnalyzeExecutor) Analyze(ctx context.Context, req *models.AnalyzeRequest, progress models.ProgressReporter) (*models.AnalyzeResult, error) {
	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, req, progress)
	}
	return &models.AnalyzeResult{}, nil
}

// LrcExecutor satisfies models.LrcExecutor for testing.
type LrcExecutor struct {
	AlignFunc func(ctx context.Context, req *models.LrcRequest, progress models.ProgressReporter) (*models.LrcResult, error)
}

func (m *LrcExecutor) Align(ctx context.Context, req *models.LrcRequest, progress models.ProgressReporter) (*models.LrcResult, error) {
	if m.AlignFunc != nil {
		return m.AlignFunc(ctx, req, progress)
	}
	return &models.LrcResult{}, nil
}

// NewAnalyzeExecutor returns an AnalyzeExecutor that reports two progress
// ticks and a fixed result.
func NewAnalyzeExecutor() *AnalyzeExecutor {
	return &AnalyzeExecutor{
		AnalyzeFunc: func(_ context.Context, _ *models.AnalyzeRequest, progress models.ProgressReporter) (*models.AnalyzeResult, error) {
			progress.Report(0.5, "separating")
			progress.Report(0.9, "detecting beats")
			return &models.AnalyzeResult{
				DurationSeconds:  184.2,
				BPM:              120,
				Key:              "A minor",
				Beats:            []float64{0.5, 1.0, 1.5},
				VocalsPath:       "stems/vocals.wav",
				InstrumentalPath: "stems/instrumental.wav",
			}, nil
		},
	}
}

// NewLrcExecutor returns an LrcExecutor that produces one line at the
// requested offset.
func NewLrcExecutor() *LrcExecutor {
	return &LrcExecutor{
		AlignFunc: func(_ context.Context, req *models.LrcRequest, progress models.ProgressReporter) (*models.LrcResult, error) {
			progress.Report(0.5, "aligning")
			return &models.LrcResult{
				Language: req.Language,
				Lines: []models.LrcLine{
					{Start: req.Offset, Text: "mock line"},
				},
			}, nil
		},
	}
}

// NewFailingAnalyzeExecutor returns an AnalyzeExecutor that always returns err.
func NewFailingAnalyzeExecutor(err error) *AnalyzeExecutor {
	return &AnalyzeExecutor{
		AnalyzeFunc: func(_ context.Context, _ *models.AnalyzeRequest, _ models.ProgressReporter) (*models.AnalyzeResult, error) {
			return nil, err
		},
	}
}

// NewFailingLrcExecutor returns an LrcExecutor that always returns err.
func NewFailingLrcExecutor(err error) *LrcExecutor {
	return &LrcExecutor{
		AlignFunc: func(_ context.Context, _ *models.LrcRequest, _ models.ProgressReporter) (*models.LrcResult, error) {
			return nil, err
		},
	}
}

// NewBlockingAnalyzeExecutor returns an AnalyzeExecutor that reports started
// on entry and then blocks until release is closed or ctx is done.
func NewBlockingAnalyzeExecutor(started chan<- string, release <-chan struct{}) *AnalyzeExecutor {
	return &AnalyzeExecutor{
		AnalyzeFunc: func(ctx context.Context, req *models.AnalyzeRequest, _ models.ProgressReporter) (*models.AnalyzeResult, error) {
			if started != nil {
				started <- req.AudioPath
			}
			select {
			case <-release:
				return &models.AnalyzeResult{BPM: 90}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
}

// NewBlockingLrcExecutor is the Lrc counterpart of NewBlockingAnalyzeExecutor.
func NewBlockingLrcExecutor(started chan<- string, release <-chan struct{}) *LrcExecutor {
	return &LrcExecutor{
		AlignFunc: func(ctx context.Context, req *models.LrcRequest, _ models.ProgressReporter) (*models.LrcResult, error) {
			if started != nil {
				started <- req.AudioPath
			}
			select {
			case <-release:
				return &models.LrcResult{Language: req.Language}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
}

var (
	_ models.AnalyzeExecutor = (*AnalyzeExecutor)(nil)
	_ models.LrcExecutor     = (*LrcExecutor)(nil)
)
