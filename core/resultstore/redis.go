package resultstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultResultTTL = 7 * 24 * time.Hour
	resultKeyPrefix  = "result:"
)

// RedisStore keeps job summaries in Redis with a TTL, so results survive
// gateway restarts when an external Redis is configured.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis at the given URL.
func NewRedisStore(url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultResultTTL
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

// NewRedisStoreWithClient wraps an existing client. Used by tests.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultResultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// PutResult stores the summary under the job's key.
func (s *RedisStore) PutResult(ctx context.Context, jobID string, summary []byte) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("result store unavailable")
	}
	if jobID == "" {
		return fmt.Errorf("empty job id")
	}
	rec := Record{JobID: jobID, Summary: summary, StoredAt: time.Now().UTC()}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return s.client.Set(ctx, resultKey(jobID), payload, s.ttl).Err()
}

// GetResult fetches the summary stored for a job.
func (s *RedisStore) GetResult(ctx context.Context, jobID string) (Record, error) {
	if s == nil || s.client == nil {
		return Record{}, fmt.Errorf("result store unavailable")
	}
	data, err := s.client.Get(ctx, resultKey(jobID)).Bytes()
	if err == redis.Nil {
		return Record{}, ErrResultNotFound
	}
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode result: %w", err)
	}
	return rec, nil
}

func resultKey(jobID string) string {
	return resultKeyPrefix + jobID
}
