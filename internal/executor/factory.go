// Package executor builds the executors that run Analyze and Lrc jobs.
package executor

import (
	"fmt"

	"github.com/kiranshivaraju/jobkeeper/internal/config"
	"github.com/kiranshivaraju/jobkeeper/internal/executor/mock"
	"github.com/kiranshivaraju/jobkeeper/internal/executor/remote"
	"github.com/kiranshivaraju/jobkeeper/internal/jobs"
)

// NewExecutors constructs the executor pair selected by cfg.Provider.
// Called once at server startup.
func NewExecutors(cfg config.InferenceConfig) (jobs.Executors, error) {
	switch cfg.Provider {
	case "remote":
		if cfg.BaseURL == "" {
			return jobs.Executors{}, fmt.Errorf("remote provider requires a base URL")
		}
		c := remote.NewClient(cfg.BaseURL, cfg.Token, cfg.Timeout)
		return jobs.Executors{Analyze: c, Lrc: c}, nil
	case "mock":
		return jobs.Executors{Analyze: mock.NewAnalyzeExecutor(), Lrc: mock.NewLrcExecutor()}, nil
	default:
		return jobs.Executors{}, fmt.Errorf("unknown inference provider %q: must be one of remote, mock", cfg.Provider)
	}
}
