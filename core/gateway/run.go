package gateway

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/geoscope/geoscope/core/aggregate"
	"github.com/geoscope/geoscope/core/infra/bus"
	"github.com/geoscope/geoscope/core/infra/config"
	"github.com/geoscope/geoscope/core/infra/logging"
	infraMetrics "github.com/geoscope/geoscope/core/infra/metrics"
	"github.com/geoscope/geoscope/core/pipeline"
	"github.com/geoscope/geoscope/core/resultstore"
)

// Run composes the pipeline from configuration and serves HTTP until the
// process receives an interrupt. It is the gateway's composition root:
// nothing here holds pipeline state of its own.
func Run(cfg *config.Config) error {
	policy, err := config.LoadPipeline(cfg.PipelinePath)
	if err != nil {
		logging.Info("gateway", "pipeline config fallback to defaults", "path", cfg.PipelinePath, "error", err)
	}

	prom := infraMetrics.NewProm("geoscope")

	var eventBus interface {
		pipeline.Bus
		EventSource
	}
	if cfg.NatsURL != "" {
		natsBus, err := bus.NewNatsBus(cfg.NatsURL)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer natsBus.Close()
		eventBus = natsBus
		logging.Info("gateway", "event bus", "backend", "nats", "url", cfg.NatsURL)
	} else {
		eventBus = bus.NewLocal()
		logging.Info("gateway", "event bus", "backend", "local")
	}

	var results resultstore.Store
	if cfg.RedisURL != "" {
		results, err = resultstore.NewRedisStore(cfg.RedisURL, 0)
		if err != nil {
			return fmt.Errorf("open redis result store: %w", err)
		}
		logging.Info("gateway", "result store", "backend", "redis")
	} else {
		if dir := filepath.Dir(cfg.ResultDBPath); dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("create result db dir: %w", err)
			}
		}
		results, err = resultstore.NewBoltStore(cfg.ResultDBPath)
		if err != nil {
			return fmt.Errorf("open result store: %w", err)
		}
		logging.Info("gateway", "result store", "backend", "bbolt", "path", cfg.ResultDBPath)
	}
	defer results.Close()

	registry := pipeline.NewRegistry(policy.Progress.ReceiveShare, policy.TerminalRetention(), eventBus, prom)
	chunks := pipeline.NewChunkStore(policy.UploadTTL(), policy.TombstoneTTL(), prom)
	aggregator := aggregate.NewTallyAggregator()
	enricher := aggregate.NewCensusEnricher(cfg.CensusEndpoint, cfg.CensusAPIKey)
	orch := pipeline.NewOrchestrator(registry, aggregator, enricher, results, prom, policy.MaxProcessing())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watchdog := pipeline.NewWatchdog(registry, chunks, policy.SweepInterval(), policy.MaxProcessing())
	go watchdog.Start(ctx)

	server := New(Options{
		Chunks:       chunks,
		Registry:     registry,
		Orchestrator: orch,
		Thresholds: pipeline.Thresholds{
			SyncMaxBytes:       policy.Strategy.SyncMaxBytes,
			BackgroundMaxBytes: policy.Strategy.BackgroundMaxBytes,
		},
		ChunkSizeBytes: policy.Upload.ChunkSizeBytes,
		Results:        results,
		Events:         eventBus,
		Metrics:        prom,
		PipelineStats:  prom,
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", infraMetrics.Handler())
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logging.Info("gateway", "metrics listening", "addr", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("gateway", "metrics server failed", "error", err)
		}
	}()

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logging.Info("gateway", "http listening", "addr", cfg.HTTPAddr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logging.Info("gateway", "shutting down")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	return httpSrv.Shutdown(shutdownCtx)
}
