// Package main is the entrypoint for the jobkeeper API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/jobkeeper/internal/api"
	"github.com/kiranshivaraju/jobkeeper/internal/api/handler"
	mw "github.com/kiranshivaraju/jobkeeper/internal/api/middleware"
	"github.com/kiranshivaraju/jobkeeper/internal/cache"
	"github.com/kiranshivaraju/jobkeeper/internal/config"
	"github.com/kiranshivaraju/jobkeeper/internal/executor"
	"github.com/kiranshivaraju/jobkeeper/internal/jobs"
	"github.com/kiranshivaraju/jobkeeper/internal/metrics"
	"github.com/kiranshivaraju/jobkeeper/internal/store"
	"github.com/kiranshivaraju/jobkeeper/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// readyChecker is implemented by executors that can report sidecar health.
type readyChecker interface {
	Ready(ctx context.Context) error
}

func run(ctx context.Context, logger *slog.Logger) error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Info("config loaded",
		"env", cfg.Server.Env,
		"db_path", cfg.Store.Path,
		"inference_provider", cfg.Inference.Provider,
	)

	// 2. Open the job store and apply migrations
	st, err := store.Open(ctx, cfg.Store.Path, store.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer st.Close()

	if err := st.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize job store: %w", err)
	}
	logger.Info("job store ready", "path", cfg.Store.Path)

	// 3. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// 4. Shared cache: Redis when configured, process-local otherwise
	var shared cache.Cache
	checks := map[string]handler.Checker{"store": st.Ping}
	dispatcherOpts := []jobs.Option{jobs.WithLogger(logger), jobs.WithMetrics(collector)}
	if cfg.Redis.URL != "" {
		redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer redisCache.Close()

		if err := redisCache.Ping(ctx); err != nil {
			// The mirror is best-effort; jobs still run without it.
			logger.Warn("redis unreachable at startup", "error", err)
		} else {
			logger.Info("redis connected")
		}
		shared = redisCache
		checks["redis"] = redisCache.Ping
		dispatcherOpts = append(dispatcherOpts, jobs.WithStatusMirror(redisCache))
	} else {
		shared = cache.NewMemoryCache()
	}

	// 5. Executors
	executors, err := executor.NewExecutors(cfg.Inference)
	if err != nil {
		return fmt.Errorf("create executors: %w", err)
	}
	if rc, ok := executors.Analyze.(readyChecker); ok {
		checks["inference"] = rc.Ready
	}
	logger.Info("executors initialized", "provider", cfg.Inference.Provider)

	// 6. Dispatcher
	dcfg := jobs.Config{
		MaxConcurrency: map[models.Category]int{
			models.CategoryAnalyze: cfg.Jobs.MaxAnalyze,
			models.CategoryLrc:     cfg.Jobs.MaxLrc,
		},
		EvictionGrace: cfg.Jobs.EvictionGrace,
	}
	dispatcher, err := jobs.NewDispatcher(st, executors, dcfg, dispatcherOpts...)
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}

	// 7. Recover interrupted jobs before any worker runs
	sweeper := jobs.NewSweeper(st, cfg.Store.Retention, logger)
	if _, err := jobs.NewRecoveryManager(st, dispatcher, sweeper, logger).Run(ctx); err != nil {
		// Jobs left behind stay queued in the store for the next start.
		logger.Error("startup recovery failed", "error", err)
	}

	if err := dispatcher.Start(); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := dispatcher.Stop(stopCtx); err != nil {
			logger.Warn("dispatcher stop timed out", "error", err)
		}
	}()

	if cfg.Store.SweepInterval > 0 {
		go sweeper.Run(ctx, cfg.Store.SweepInterval)
	}

	// 8. Build router with dependencies
	router := api.NewRouter(api.Dependencies{
		Logger:    logger,
		Auth:      mw.NewAuth(cfg.Auth.APIKeyHash),
		RateLimit: mw.NewRateLimit(shared, cfg.Server.RateLimit, logger),

		HealthHandler:        handler.NewHealthHandler(dispatcher, checks),
		SubmitAnalyzeHandler: handler.NewSubmitAnalyzeHandler(dispatcher, logger),
		SubmitLrcHandler:     handler.NewSubmitLrcHandler(dispatcher, logger),
		GetJobHandler:        handler.NewGetJobHandler(dispatcher, logger),
		GetLrcHandler:        handler.NewGetLrcHandler(dispatcher, logger),
		ListJobsHandler:      handler.NewListJobsHandler(dispatcher, logger),
		MetricsHandler:       metrics.Handler(reg),
	})

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining connections")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
