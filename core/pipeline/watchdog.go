package pipeline

import (
	"context"
	"time"

	"github.com/geoscope/geoscope/core/infra/logging"
)

// Watchdog periodically sweeps the chunk and job tables: stale pending
// uploads are expired, terminal jobs past retention are evicted, and
// jobs stuck in Processing are force-failed with a timeout message.
type Watchdog struct {
	registry      *Registry
	chunks        *ChunkStore
	interval      time.Duration
	maxProcessing time.Duration
}

func NewWatchdog(registry *Registry, chunks *ChunkStore, interval, maxProcessing time.Duration) *Watchdog {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Watchdog{
		registry:      registry,
		chunks:        chunks,
		interval:      interval,
		maxProcessing: maxProcessing,
	}
}

// Start runs the sweep loop until the context is cancelled.
func (w *Watchdog) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

func (w *Watchdog) tick() {
	if w.registry != nil {
		if timedOut := w.registry.TimeoutStale(w.maxProcessing); len(timedOut) > 0 {
			logging.Info("watchdog", "jobs forced to error", "count", len(timedOut))
		}
		if evicted := w.registry.EvictExpired(); evicted > 0 {
			logging.Info("watchdog", "terminal jobs evicted", "count", evicted)
		}
	}
	if w.chunks != nil {
		if expired := w.chunks.Sweep(); expired > 0 {
			logging.Info("watchdog", "pending uploads expired", "count", expired)
		}
	}
}
