// Package app wires the heatmap engine, metric store and HTTP surface into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cam3ron2/delivery-heatmap/internal/collect"
	"github.com/cam3ron2/delivery-heatmap/internal/config"
	"github.com/cam3ron2/delivery-heatmap/internal/exporter"
	"github.com/cam3ron2/delivery-heatmap/internal/health"
	"github.com/cam3ron2/delivery-heatmap/internal/heatmap"
	"github.com/cam3ron2/delivery-heatmap/internal/identity"
	"github.com/cam3ron2/delivery-heatmap/internal/store"
)

const (
	gcInterval           = time.Minute
	metricsCacheInterval = 15 * time.Second
	storeCheckTimeout    = 2 * time.Second
)

type runtimeStore interface {
	UpsertMetric(point store.MetricPoint) error
	Snapshot() []store.MetricPoint
	GC(now time.Time)
	Healthy(ctx context.Context) error
}

// Runtime is the application runtime orchestrator.
type Runtime struct {
	cfg           *config.Config
	store         runtimeStore
	storeFallback bool
	engine        *heatmap.Engine
	recorder      *store.RunRecorder
	evaluator     *health.StatusEvaluator
	logger        *zap.Logger
	hasSource     bool

	mu            sync.RWMutex
	lastRunAt     time.Time
	lastRunFailed bool

	// Now is injected for deterministic tests.
	Now func() time.Time
}

// NewRuntime creates a runtime over source. A nil source leaves the runtime unready and every
// computation fails with heatmap.ErrNoSource.
func NewRuntime(cfg *config.Config, source collect.Source, logger *zap.Logger) *Runtime {
	if cfg == nil {
		cfg = &config.Config{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	storeBackend, fallback := newRuntimeStore(cfg, logger)
	runtime := &Runtime{
		cfg:           cfg,
		store:         storeBackend,
		storeFallback: fallback,
		recorder:      store.NewRunRecorder(storeBackend, logger),
		evaluator:     health.NewStatusEvaluator(),
		logger:        logger,
		hasSource:     source != nil,
		Now:           time.Now,
	}
	runtime.engine = heatmap.NewEngine(source, heatmap.EngineConfig{
		ProjectConcurrency: cfg.Heatmap.ProjectConcurrency,
		Logger:             logger,
		Observer:           runtime,
		Now:                func() time.Time { return runtime.Now() },
	})
	return runtime
}

// Compute runs one heatmap computation bounded by the configured compute timeout.
func (r *Runtime) Compute(ctx context.Context, groupID, startDate, endDate string) (heatmap.Result, error) {
	if timeout := r.cfg.Heatmap.ComputeTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return r.engine.Compute(ctx, groupID, startDate, endDate)
}

// MatchRoster correlates roster names with group members. A zero threshold uses the configured one.
func (r *Runtime) MatchRoster(ctx context.Context, groupID string, names []string, threshold float64) ([]identity.RosterMatch, error) {
	if threshold <= 0 {
		threshold = r.cfg.Heatmap.MatchThreshold
	}
	return r.engine.MatchRoster(ctx, groupID, names, threshold)
}

// ObserveRun records run gauges and the last-run state used by health evaluation.
func (r *Runtime) ObserveRun(ctx context.Context, summary heatmap.RunSummary) {
	r.recorder.ObserveRun(ctx, summary)

	r.mu.Lock()
	r.lastRunAt = summary.FinishedAt
	r.lastRunFailed = summary.Err != nil && !isClientError(summary.Err)
	r.mu.Unlock()

	if summary.Err != nil {
		r.logger.Warn(
			"heatmap run failed",
			zap.String("group", summary.GroupID),
			zap.Duration("duration", summary.Duration),
			zap.Error(summary.Err),
		)
	}
}

// CurrentStatus returns current health status.
func (r *Runtime) CurrentStatus(ctx context.Context) health.Status {
	checkCtx, cancel := context.WithTimeout(ctx, storeCheckTimeout)
	defer cancel()
	storeErr := r.store.Healthy(checkCtx)

	r.mu.RLock()
	input := health.Input{
		SourceConfigured: r.hasSource,
		StoreHealthy:     storeErr == nil,
		StoreFallback:    r.storeFallback,
		LastRunFailed:    r.lastRunFailed,
		LastRunAt:        r.lastRunAt,
	}
	r.mu.RUnlock()
	return r.evaluator.Evaluate(input)
}

// Handler returns the combined HTTP handler.
func (r *Runtime) Handler() http.Handler {
	snapshots := exporter.SnapshotReader(r.store)
	if _, isMemory := r.store.(*store.MemoryStore); !isMemory {
		snapshots = exporter.NewCachedSnapshotReader(r.store, exporter.CacheConfig{
			RefreshInterval: metricsCacheInterval,
			Now:             r.Now,
		})
	}
	metricsHandler := exporter.NewOpenMetricsHandler(snapshots, store.RunMetricHelp)
	healthHandler := health.NewHandler(r)
	return NewHTTPHandler(r, metricsHandler, healthHandler, r.logger)
}

// Serve runs the HTTP server and the metric GC loop until ctx is cancelled.
func (r *Runtime) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr:              r.cfg.Server.ListenAddr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	gcCtx, stopGC := context.WithCancel(ctx)
	defer stopGC()
	go r.runGCLoop(gcCtx)

	serverErrCh := make(chan error, 1)
	go func() {
		r.logger.Info("http server starting", zap.String("addr", r.cfg.Server.ListenAddr))
		if serveErr := server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			serverErrCh <- serveErr
		}
		close(serverErrCh)
	}()

	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
	case serveErr := <-serverErrCh:
		if serveErr != nil {
			return fmt.Errorf("http server failed: %w", serveErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	r.logger.Info("shutdown complete")
	return nil
}

// Close releases the metric store.
func (r *Runtime) Close() error {
	if closer, ok := r.store.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (r *Runtime) runGCLoop(ctx context.Context) {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("metric gc loop stopped")
			return
		case <-ticker.C:
			r.store.GC(r.Now())
		}
	}
}

func isClientError(err error) bool {
	return errors.Is(err, heatmap.ErrInvalidGroup) || errors.Is(err, heatmap.ErrInvalidDate)
}
