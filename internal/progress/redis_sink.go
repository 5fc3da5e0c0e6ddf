package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/lecture-service/internal/core"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "lecture:progress:"

// RedisSink stores progress in Redis with an expiry so finished jobs age out.
type RedisSink struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSink creates a sink from a Redis URL.
func NewRedisSink(redisURL string, ttl time.Duration) (*RedisSink, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	return &RedisSink{client: redis.NewClient(opts), ttl: ttl}, nil
}

// RedisKey returns the key a job's progress is stored under.
func RedisKey(jobID string) string {
	return redisKeyPrefix + jobID
}

// Ping checks the connection.
func (s *RedisSink) Ping(ctx context.Context) error {
	err := s.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

// Write stores the record and refreshes its expiry.
func (s *RedisSink) Write(ctx context.Context, jobID string, record core.ProgressRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal progress record: %w", err)
	}

	err = s.client.Set(ctx, RedisKey(jobID), data, s.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to store progress for job '%s': %w", jobID, err)
	}

	return nil
}

// Read returns the stored record, or the created record when the key is missing.
func (s *RedisSink) Read(ctx context.Context, jobID string) (core.ProgressRecord, error) {
	data, err := s.client.Get(ctx, RedisKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Created(), nil
	}

	if err != nil {
		return core.ProgressRecord{}, fmt.Errorf("failed to load progress for job '%s': %w", jobID, err)
	}

	return decode(data)
}

// Close releases the client's connections.
func (s *RedisSink) Close() error {
	err := s.client.Close()
	if err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}

	return nil
}
