package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/geoscope/geoscope/core/infra/logging"
)

const (
	defaultUploadTTL    = 30 * time.Minute
	defaultTombstoneTTL = 10 * time.Minute
)

type pendingUpload struct {
	mu          sync.Mutex
	uploadID    string
	slots       [][]byte
	received    int
	totalChunks int
	meta        *ChunkMeta
	createdAt   time.Time
	updatedAt   time.Time
}

func (p *pendingUpload) complete() bool {
	return p.received == p.totalChunks
}

// ReceiveResult reports slot-table state after a chunk write. Stored is
// true only when the write filled a previously empty slot, so callers can
// treat resends as no-ops without re-reading the table.
type ReceiveResult struct {
	Complete      bool `json:"complete"`
	Stored        bool `json:"stored"`
	ReceivedCount int  `json:"received_count"`
	TotalChunks   int  `json:"total_chunks"`
}

// UploadStatus is the externally visible view of a pending upload.
type UploadStatus struct {
	ReceivedCount int        `json:"received_count"`
	TotalChunks   int        `json:"total_chunks"`
	Meta          *ChunkMeta `json:"meta,omitempty"`
}

// ChunkStore accumulates chunks for logical uploads until all are present,
// then yields the reassembled payload exactly once. Entries that never
// complete are swept after uploadTTL and answer ErrUploadExpired for a
// bounded tombstone window afterwards.
type ChunkStore struct {
	mu           sync.Mutex
	uploads      map[string]*pendingUpload
	expired      map[string]time.Time
	uploadTTL    time.Duration
	tombstoneTTL time.Duration
	now          func() time.Time
	metrics      Metrics
}

// NewChunkStore constructs an empty store. Zero durations fall back to
// defaults.
func NewChunkStore(uploadTTL, tombstoneTTL time.Duration, metrics Metrics) *ChunkStore {
	if uploadTTL <= 0 {
		uploadTTL = defaultUploadTTL
	}
	if tombstoneTTL <= 0 {
		tombstoneTTL = defaultTombstoneTTL
	}
	return &ChunkStore{
		uploads:      make(map[string]*pendingUpload),
		expired:      make(map[string]time.Time),
		uploadTTL:    uploadTTL,
		tombstoneTTL: tombstoneTTL,
		now:          time.Now,
		metrics:      metrics,
	}
}

// Receive registers a chunk in its upload's slot table, allocating the
// table on the first chunk for an unseen uploadId. Re-sending the same
// index overwrites the slot; it does not double count.
func (s *ChunkStore) Receive(chunk Chunk) (ReceiveResult, error) {
	if chunk.UploadID == "" {
		return ReceiveResult{}, fmt.Errorf("%w: upload id required", ErrInvalidInput)
	}
	if chunk.TotalChunks <= 0 {
		return ReceiveResult{}, fmt.Errorf("%w: total chunks must be positive", ErrInvalidInput)
	}
	if chunk.Index < 0 || chunk.Index >= chunk.TotalChunks {
		return ReceiveResult{}, fmt.Errorf("%w: chunk index %d out of range [0,%d)", ErrInvalidInput, chunk.Index, chunk.TotalChunks)
	}

	s.mu.Lock()
	if _, gone := s.expired[chunk.UploadID]; gone {
		s.mu.Unlock()
		return ReceiveResult{}, fmt.Errorf("%w: upload %s", ErrUploadExpired, chunk.UploadID)
	}
	up, ok := s.uploads[chunk.UploadID]
	if !ok {
		up = &pendingUpload{
			uploadID:    chunk.UploadID,
			slots:       make([][]byte, chunk.TotalChunks),
			totalChunks: chunk.TotalChunks,
			meta:        chunk.Meta,
			createdAt:   s.now(),
		}
		s.uploads[chunk.UploadID] = up
	}
	s.mu.Unlock()

	up.mu.Lock()
	defer up.mu.Unlock()
	if chunk.TotalChunks != up.totalChunks {
		return ReceiveResult{}, fmt.Errorf("%w: total chunks mismatch, upload declared %d got %d", ErrInvalidInput, up.totalChunks, chunk.TotalChunks)
	}
	stored := up.slots[chunk.Index] == nil
	if stored {
		up.received++
	}
	payload := make([]byte, len(chunk.Payload))
	copy(payload, chunk.Payload)
	up.slots[chunk.Index] = payload
	if up.meta == nil && chunk.Meta != nil {
		up.meta = chunk.Meta
	}
	up.updatedAt = s.now()

	if s.metrics != nil {
		s.metrics.IncChunksReceived()
	}
	return ReceiveResult{
		Complete:      up.complete(),
		Stored:        stored,
		ReceivedCount: up.received,
		TotalChunks:   up.totalChunks,
	}, nil
}

// TakeCompleted reassembles and removes a completed upload. It succeeds at
// most once per uploadId; the entry is gone before the payload is returned,
// so duplicate takes observe ErrNotFound.
func (s *ChunkStore) TakeCompleted(uploadID string) ([]byte, *ChunkMeta, error) {
	s.mu.Lock()
	up, ok := s.uploads[uploadID]
	if !ok {
		_, gone := s.expired[uploadID]
		s.mu.Unlock()
		if gone {
			return nil, nil, fmt.Errorf("%w: upload %s", ErrUploadExpired, uploadID)
		}
		return nil, nil, fmt.Errorf("%w: upload %s", ErrNotFound, uploadID)
	}
	up.mu.Lock()
	if !up.complete() {
		up.mu.Unlock()
		s.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: upload %s has %d of %d chunks", ErrIncompleteUpload, uploadID, up.received, up.totalChunks)
	}
	delete(s.uploads, uploadID)
	s.mu.Unlock()

	parts := make(map[int][]byte, up.totalChunks)
	for i, slot := range up.slots {
		parts[i] = slot
	}
	meta := up.meta
	total := up.totalChunks
	up.mu.Unlock()

	payload, err := Reassemble(parts, total)
	if err != nil {
		return nil, nil, err
	}
	if s.metrics != nil {
		s.metrics.IncUploadsCompleted()
	}
	return payload, meta, nil
}

// Status reports progress for a pending upload.
func (s *ChunkStore) Status(uploadID string) (UploadStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, gone := s.expired[uploadID]; gone {
		return UploadStatus{}, fmt.Errorf("%w: upload %s", ErrUploadExpired, uploadID)
	}
	up, ok := s.uploads[uploadID]
	if !ok {
		return UploadStatus{}, fmt.Errorf("%w: upload %s", ErrNotFound, uploadID)
	}
	up.mu.Lock()
	defer up.mu.Unlock()
	return UploadStatus{
		ReceivedCount: up.received,
		TotalChunks:   up.totalChunks,
		Meta:          up.meta,
	}, nil
}

// Sweep evicts pending uploads older than uploadTTL, leaving tombstones so
// late queries observe ErrUploadExpired, and drops tombstones older than
// tombstoneTTL. Returns the number of uploads expired.
func (s *ChunkStore) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	for id, up := range s.uploads {
		up.mu.Lock()
		last := up.updatedAt
		if last.IsZero() {
			last = up.createdAt
		}
		stale := now.Sub(last) > s.uploadTTL
		up.mu.Unlock()
		if stale {
			delete(s.uploads, id)
			s.expired[id] = now
			expired++
			logging.Info("chunkstore", "pending upload expired", "upload_id", id)
			if s.metrics != nil {
				s.metrics.IncUploadsExpired()
			}
		}
	}
	for id, at := range s.expired {
		if now.Sub(at) > s.tombstoneTTL {
			delete(s.expired, id)
		}
	}
	return expired
}

// PendingCount reports how many uploads are currently buffered.
func (s *ChunkStore) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}
