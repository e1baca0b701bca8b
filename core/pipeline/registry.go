package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/geoscope/geoscope/core/infra/logging"
)

// DefaultReceiveShare is the fraction of total progress attributed to the
// chunk-receive phase. The 50/50 split is a deliberate simplification
// carried from the original progress bar, not a measured cost model.
const DefaultReceiveShare = 0.5

const (
	defaultTerminalRetention = 60 * time.Second
	// Terminal jobs that nobody ever polls are still evicted, after a
	// grace period long enough for any reasonable late poller.
	unreadRetentionFactor = 10
)

type jobEntry struct {
	mu          sync.Mutex
	job         Job
	finalizedAt time.Time
	// readAt is stamped once, by the first status read that observed a
	// terminal state. Eviction counts from this stamp so at least one
	// poll can retrieve the result.
	readAt time.Time
}

// Registry owns the job table and its state machine. All mutations go
// through it; per-job locks keep transitions atomic with respect to
// concurrent status reads.
type Registry struct {
	mu           sync.RWMutex
	jobs         map[string]*jobEntry
	now          func() time.Time
	receiveShare float64
	retention    time.Duration
	bus          Bus
	metrics      Metrics
}

// NewRegistry constructs an empty registry. receiveShare outside (0,1)
// falls back to DefaultReceiveShare; zero retention falls back to the
// default terminal retention.
func NewRegistry(receiveShare float64, retention time.Duration, bus Bus, metrics Metrics) *Registry {
	if receiveShare <= 0 || receiveShare >= 1 {
		receiveShare = DefaultReceiveShare
	}
	if retention <= 0 {
		retention = defaultTerminalRetention
	}
	return &Registry{
		jobs:         make(map[string]*jobEntry),
		now:          time.Now,
		receiveShare: receiveShare,
		retention:    retention,
		bus:          bus,
		metrics:      metrics,
	}
}

// Create allocates a fresh job in Pending with progress 0.
func (r *Registry) Create(chunksExpected int, geoDocument, enrichmentRequest json.RawMessage) (Job, error) {
	if chunksExpected < 0 {
		return Job{}, fmt.Errorf("%w: chunks expected must be non-negative", ErrInvalidInput)
	}
	now := r.now()
	entry := &jobEntry{
		job: Job{
			ID:                uuid.NewString(),
			Status:            JobStatusPending,
			ChunksExpected:    chunksExpected,
			GeoDocument:       geoDocument,
			EnrichmentRequest: enrichmentRequest,
			CreatedAt:         now,
			UpdatedAt:         now,
		},
	}
	r.mu.Lock()
	r.jobs[entry.job.ID] = entry
	r.mu.Unlock()

	r.publish(entry.job)
	return entry.job, nil
}

func (r *Registry) entry(jobID string) (*jobEntry, error) {
	r.mu.RLock()
	entry, ok := r.jobs[jobID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	return entry, nil
}

// RecordChunk increments the received-chunk count and recomputes progress.
// Progress during the receive phase is capped at receiveShare of the total.
func (r *Registry) RecordChunk(jobID string) (float64, error) {
	entry, err := r.entry(jobID)
	if err != nil {
		return 0, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.job.Status.IsTerminal() {
		return entry.job.Progress, fmt.Errorf("%w: job %s", ErrJobAlreadyFinalized, jobID)
	}
	if entry.job.Status != JobStatusPending {
		return entry.job.Progress, fmt.Errorf("%w: job %s is %s, chunks only accepted while pending", ErrInvalidTransition, jobID, entry.job.Status)
	}
	if entry.job.ChunksReceived >= entry.job.ChunksExpected {
		return entry.job.Progress, fmt.Errorf("%w: job %s already has all %d chunks", ErrInvalidInput, jobID, entry.job.ChunksExpected)
	}
	entry.job.ChunksReceived++
	p := r.receiveShare * 100 * float64(entry.job.ChunksReceived) / float64(entry.job.ChunksExpected)
	if p > entry.job.Progress {
		entry.job.Progress = p
	}
	entry.job.UpdatedAt = r.now()
	job := entry.job
	r.publish(job)
	return job.Progress, nil
}

// BeginProcessing transitions Pending -> Processing once every expected
// chunk has been recorded.
func (r *Registry) BeginProcessing(jobID string) error {
	entry, err := r.entry(jobID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.job.Status.IsTerminal() {
		return fmt.Errorf("%w: job %s", ErrJobAlreadyFinalized, jobID)
	}
	if !isAllowedTransition(entry.job.Status, JobStatusProcessing) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, entry.job.Status, JobStatusProcessing)
	}
	if entry.job.ChunksReceived != entry.job.ChunksExpected {
		return fmt.Errorf("%w: job %s has %d of %d chunks", ErrIncompleteUpload, jobID, entry.job.ChunksReceived, entry.job.ChunksExpected)
	}
	entry.job.Status = JobStatusProcessing
	entry.job.UpdatedAt = r.now()
	r.publish(entry.job)
	return nil
}

// Advance updates progress while the job is Processing. Progress is
// clamped monotonically non-decreasing and never exceeds 100.
func (r *Registry) Advance(jobID string, progress float64) error {
	entry, err := r.entry(jobID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.job.Status.IsTerminal() {
		return fmt.Errorf("%w: job %s", ErrJobAlreadyFinalized, jobID)
	}
	if entry.job.Status != JobStatusProcessing {
		return fmt.Errorf("%w: job %s is %s, progress only advances while processing", ErrInvalidTransition, jobID, entry.job.Status)
	}
	if progress > 100 {
		progress = 100
	}
	if progress > entry.job.Progress {
		entry.job.Progress = progress
		entry.job.UpdatedAt = r.now()
		r.publish(entry.job)
	}
	return nil
}

// Complete is the successful terminal transition; it is a one-shot.
func (r *Registry) Complete(jobID string, result json.RawMessage) error {
	return r.finalize(jobID, JobStatusCompleted, result, "")
}

// Fail is the failing terminal transition; it is a one-shot.
func (r *Registry) Fail(jobID, errorMessage string) error {
	return r.finalize(jobID, JobStatusError, nil, errorMessage)
}

func (r *Registry) finalize(jobID string, status JobStatus, result json.RawMessage, errorMessage string) error {
	entry, err := r.entry(jobID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.job.Status.IsTerminal() {
		return fmt.Errorf("%w: job %s is already %s", ErrJobAlreadyFinalized, jobID, entry.job.Status)
	}
	if !isAllowedTransition(entry.job.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, entry.job.Status, status)
	}
	entry.job.Status = status
	entry.job.Result = result
	entry.job.ErrorMessage = errorMessage
	if status == JobStatusCompleted {
		entry.job.Progress = 100
	}
	now := r.now()
	entry.job.UpdatedAt = now
	entry.finalizedAt = now
	if r.metrics != nil {
		r.metrics.IncJobsCompleted(string(status))
	}
	r.publish(entry.job)
	return nil
}

// Get returns a copy of the job. The first read that observes a terminal
// state starts the eviction clock.
func (r *Registry) Get(jobID string) (Job, error) {
	entry, err := r.entry(jobID)
	if err != nil {
		return Job{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.job.Status.IsTerminal() && entry.readAt.IsZero() {
		entry.readAt = r.now()
	}
	return entry.job, nil
}

// ListRecent returns up to limit jobs ordered by most recent update.
func (r *Registry) ListRecent(limit int) []Job {
	if limit <= 0 {
		limit = 50
	}
	r.mu.RLock()
	entries := make([]*jobEntry, 0, len(r.jobs))
	for _, entry := range r.jobs {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()

	jobs := make([]Job, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		jobs = append(jobs, entry.job)
		entry.mu.Unlock()
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].UpdatedAt.After(jobs[j].UpdatedAt) })
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}

// TimeoutStale force-fails jobs stuck in Processing past maxProcessing.
// Returns the IDs of jobs it transitioned.
func (r *Registry) TimeoutStale(maxProcessing time.Duration) []string {
	if maxProcessing <= 0 {
		return nil
	}
	cutoff := r.now().Add(-maxProcessing)
	r.mu.RLock()
	entries := make([]*jobEntry, 0, len(r.jobs))
	for _, entry := range r.jobs {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()

	var timedOut []string
	for _, entry := range entries {
		entry.mu.Lock()
		stale := entry.job.Status == JobStatusProcessing && entry.job.UpdatedAt.Before(cutoff)
		id := entry.job.ID
		entry.mu.Unlock()
		if !stale {
			continue
		}
		if err := r.Fail(id, fmt.Sprintf("%v: processing exceeded %s", ErrTimeout, maxProcessing)); err != nil {
			continue
		}
		logging.Info("registry", "job timed out", "job_id", id, "max_processing", maxProcessing)
		timedOut = append(timedOut, id)
	}
	return timedOut
}

// EvictExpired removes terminal jobs whose post-read retention has lapsed,
// and terminal jobs nobody read within a generous multiple of retention.
// Returns the number of jobs evicted.
func (r *Registry) EvictExpired() int {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, entry := range r.jobs {
		entry.mu.Lock()
		terminal := entry.job.Status.IsTerminal()
		readAt := entry.readAt
		finalizedAt := entry.finalizedAt
		entry.mu.Unlock()
		if !terminal {
			continue
		}
		expired := (!readAt.IsZero() && now.Sub(readAt) > r.retention) ||
			(readAt.IsZero() && !finalizedAt.IsZero() && now.Sub(finalizedAt) > r.retention*unreadRetentionFactor)
		if expired {
			delete(r.jobs, id)
			evicted++
		}
	}
	return evicted
}

func (r *Registry) publish(job Job) {
	if r.bus == nil {
		return
	}
	evt := JobEvent{
		JobID:    job.ID,
		Status:   job.Status,
		Progress: job.Progress,
		Error:    job.ErrorMessage,
	}
	if err := r.bus.Publish(EventSubject(job.ID), evt); err != nil {
		logging.Error("registry", "event publish failed", "job_id", job.ID, "error", err)
	}
}
