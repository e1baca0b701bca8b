package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/geoscope/geoscope/core/infra/logging"
)

// Progress checkpoints reported while a background run executes. The
// receive phase accounts for the first half; these cover the rest.
const (
	progressAggregationStarted = 60
	progressAggregationDone    = 80
)

const defaultMaxProcessing = 5 * time.Minute

// Orchestrator drives jobs through aggregation and optional enrichment.
type Orchestrator struct {
	registry      *Registry
	aggregator    Aggregator
	enricher      Enricher
	results       ResultWriter
	metrics       Metrics
	maxProcessing time.Duration
}

// NewOrchestrator wires the orchestrator to its collaborators. enricher
// and results may be nil; maxProcessing bounds each background run.
func NewOrchestrator(registry *Registry, aggregator Aggregator, enricher Enricher, results ResultWriter, metrics Metrics, maxProcessing time.Duration) *Orchestrator {
	if maxProcessing <= 0 {
		maxProcessing = defaultMaxProcessing
	}
	return &Orchestrator{
		registry:      registry,
		aggregator:    aggregator,
		enricher:      enricher,
		results:       results,
		metrics:       metrics,
		maxProcessing: maxProcessing,
	}
}

// RunSynchronous aggregates and optionally enriches inside the caller's
// request cycle. Collaborator failures surface as ErrProcessingFailed;
// retry is the caller's responsibility.
func (o *Orchestrator) RunSynchronous(ctx context.Context, document, geoDocument []byte, enrichmentRequest json.RawMessage) (json.RawMessage, error) {
	summary, err := o.aggregator.Aggregate(ctx, document, geoDocument)
	if err != nil {
		return nil, fmt.Errorf("%w: aggregate: %v", ErrProcessingFailed, err)
	}
	if len(enrichmentRequest) > 0 && o.enricher != nil {
		summary, err = o.enricher.Enrich(ctx, summary, enrichmentRequest)
		if err != nil {
			return nil, fmt.Errorf("%w: enrich: %v", ErrProcessingFailed, err)
		}
	}
	return summary, nil
}

// RunInBackground executes the same logic as RunSynchronous outside the
// request/response cycle, recording the outcome on the job. The caller
// must already have transitioned the job to Processing. A failure is
// always observable via polling, never silent, and never crashes the
// host process.
func (o *Orchestrator) RunInBackground(jobID string, document, geoDocument []byte, enrichmentRequest json.RawMessage) {
	go o.run(jobID, document, geoDocument, enrichmentRequest)
}

func (o *Orchestrator) run(jobID string, document, geoDocument []byte, enrichmentRequest json.RawMessage) {
	started := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			o.failJob(jobID, fmt.Sprintf("panic during processing: %v", rec))
		}
		if o.metrics != nil {
			o.metrics.ObserveProcessingDuration(time.Since(started).Seconds())
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), o.maxProcessing)
	defer cancel()

	o.advance(jobID, progressAggregationStarted)
	summary, err := o.aggregator.Aggregate(ctx, document, geoDocument)
	if err != nil {
		o.failJob(jobID, fmt.Sprintf("aggregate: %v", err))
		return
	}
	o.advance(jobID, progressAggregationDone)

	if len(enrichmentRequest) > 0 && o.enricher != nil {
		summary, err = o.enricher.Enrich(ctx, summary, enrichmentRequest)
		if err != nil {
			o.failJob(jobID, fmt.Sprintf("enrich: %v", err))
			return
		}
	}

	if o.results != nil {
		putCtx, putCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := o.results.PutResult(putCtx, jobID, summary); err != nil {
			logging.Error("orchestrator", "result persist failed", "job_id", jobID, "error", err)
		}
		putCancel()
	}

	if err := o.registry.Complete(jobID, summary); err != nil {
		logging.Error("orchestrator", "complete failed", "job_id", jobID, "error", err)
	}
}

func (o *Orchestrator) advance(jobID string, progress float64) {
	if err := o.registry.Advance(jobID, progress); err != nil {
		logging.Error("orchestrator", "advance failed", "job_id", jobID, "progress", progress, "error", err)
	}
}

func (o *Orchestrator) failJob(jobID, msg string) {
	if err := o.registry.Fail(jobID, msg); err != nil {
		logging.Error("orchestrator", "fail transition rejected", "job_id", jobID, "error", err)
	}
}
