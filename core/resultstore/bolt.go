package resultstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var resultsBucket = []byte("results")

// BoltStore is the embedded default backend: a single-file bbolt database
// that needs no external service.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database file at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open result db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(resultsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init result db: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close closes the database file.
func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// PutResult stores the summary under the job's key.
func (s *BoltStore) PutResult(ctx context.Context, jobID string, summary []byte) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("result store unavailable")
	}
	if jobID == "" {
		return fmt.Errorf("empty job id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	rec := Record{JobID: jobID, Summary: summary, StoredAt: time.Now().UTC()}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(resultsBucket).Put([]byte(jobID), payload)
	})
}

// GetResult fetches the summary stored for a job.
func (s *BoltStore) GetResult(ctx context.Context, jobID string) (Record, error) {
	if s == nil || s.db == nil {
		return Record{}, fmt.Errorf("result store unavailable")
	}
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	var rec Record
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(resultsBucket).Get([]byte(jobID))
		if data == nil {
			return ErrResultNotFound
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}
