package pipeline

import "fmt"

// Strategy is the closed set of execution paths for a processing request.
type Strategy uint8

const (
	// StrategySync processes the document inside the request/response cycle.
	StrategySync Strategy = iota
	// StrategyBackground accepts the document in one request and defers
	// the heavy work to a background run.
	StrategyBackground
	// StrategyChunked splits the document into a multi-request upload
	// followed by a background run.
	StrategyChunked
)

func (s Strategy) String() string {
	switch s {
	case StrategySync:
		return "sync"
	case StrategyBackground:
		return "background"
	case StrategyChunked:
		return "chunked"
	}
	return fmt.Sprintf("strategy(%d)", uint8(s))
}

// MarshalText renders the strategy tag for JSON responses.
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

const (
	// DefaultSyncMaxBytes is the largest payload processed synchronously.
	DefaultSyncMaxBytes = 5 << 20
	// DefaultBackgroundMaxBytes is the largest payload accepted in a
	// single deferred request; anything bigger goes through chunks.
	DefaultBackgroundMaxBytes = 50 << 20
)

// Thresholds is the policy table driving strategy selection. The values
// are configuration, not business logic; both are overridable.
type Thresholds struct {
	SyncMaxBytes       int64
	BackgroundMaxBytes int64
}

// DefaultThresholds returns the stock policy table.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SyncMaxBytes:       DefaultSyncMaxBytes,
		BackgroundMaxBytes: DefaultBackgroundMaxBytes,
	}
}

// Select is a pure decision over payload size; it performs no I/O.
func (t Thresholds) Select(sizeBytes int64) Strategy {
	switch {
	case sizeBytes <= t.SyncMaxBytes:
		return StrategySync
	case sizeBytes <= t.BackgroundMaxBytes:
		return StrategyBackground
	default:
		return StrategyChunked
	}
}
