// Package resultstore persists job summaries past registry eviction so
// dashboards can fetch results after the in-memory job record is gone.
package resultstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrResultNotFound is returned when no summary exists for a job.
var ErrResultNotFound = errors.New("result not found")

// Record is a persisted job summary.
type Record struct {
	JobID    string          `json:"jobId"`
	Summary  json.RawMessage `json:"summary"`
	StoredAt time.Time       `json:"storedAt"`
}

// Store persists and retrieves job summaries.
type Store interface {
	PutResult(ctx context.Context, jobID string, summary []byte) error
	GetResult(ctx context.Context, jobID string) (Record, error)
	Close() error
}
