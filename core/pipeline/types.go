package pipeline

import (
	"context"
	"encoding/json"
	"time"
)

// JobStatus captures the lifecycle of a processing job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusError      JobStatus = "ERROR"
)

var terminalStatuses = map[JobStatus]bool{
	JobStatusCompleted: true,
	JobStatusError:     true,
}

var allowedTransitions = map[JobStatus][]JobStatus{
	"":                  {JobStatusPending},
	JobStatusPending:    {JobStatusProcessing, JobStatusError},
	JobStatusProcessing: {JobStatusCompleted, JobStatusError},
	JobStatusCompleted:  {},
	JobStatusError:      {},
}

// IsTerminal reports whether the status permits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return terminalStatuses[s]
}

func isAllowedTransition(from, to JobStatus) bool {
	allowed, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	for _, target := range allowed {
		if target == to {
			return true
		}
	}
	return false
}

// ChunkMeta carries the upload-wide metadata declared on the first chunk.
type ChunkMeta struct {
	Name        string `json:"name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	TotalSize   int64  `json:"total_size,omitempty"`
}

// Chunk is one bounded-size slice of a larger payload, tagged with its
// position and total count.
type Chunk struct {
	UploadID    string     `json:"upload_id"`
	Index       int        `json:"index"`
	TotalChunks int        `json:"total_chunks"`
	Payload     []byte     `json:"payload"`
	Meta        *ChunkMeta `json:"meta,omitempty"`
}

// Job is a unit of asynchronous work tracked by identifier, progress,
// and terminal outcome.
type Job struct {
	ID                string          `json:"job_id"`
	Status            JobStatus       `json:"status"`
	Progress          float64         `json:"progress"`
	ChunksExpected    int             `json:"chunks_expected"`
	ChunksReceived    int             `json:"chunks_received"`
	GeoDocument       json.RawMessage `json:"-"`
	EnrichmentRequest json.RawMessage `json:"-"`
	Result            json.RawMessage `json:"result,omitempty"`
	ErrorMessage      string          `json:"error,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// JobEvent is published on every observable change to a job.
type JobEvent struct {
	JobID    string    `json:"job_id"`
	Status   JobStatus `json:"status"`
	Progress float64   `json:"progress"`
	Error    string    `json:"error,omitempty"`
}

// EventSubject is the bus subject for a job's event stream.
func EventSubject(jobID string) string {
	return "job.events." + jobID
}

// Bus abstracts the event transport so the registry can remain decoupled
// from concrete implementations.
type Bus interface {
	Publish(subject string, evt JobEvent) error
}

// Metrics captures counters for pipeline events.
type Metrics interface {
	IncChunksReceived()
	IncUploadsCompleted()
	IncUploadsExpired()
	IncJobsStarted(strategy string)
	IncJobsCompleted(status string)
	ObserveProcessingDuration(seconds float64)
}

// Aggregator turns a reassembled document plus geographic boundaries
// into a summary. The pipeline treats the summary as opaque.
type Aggregator interface {
	Aggregate(ctx context.Context, document, geoDocument []byte) (json.RawMessage, error)
}

// Enricher augments a computed summary with auxiliary reference data.
type Enricher interface {
	Enrich(ctx context.Context, summary json.RawMessage, request json.RawMessage) (json.RawMessage, error)
}

// ResultWriter persists terminal results beyond registry eviction.
type ResultWriter interface {
	PutResult(ctx context.Context, jobID string, summary []byte) error
}
