package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/book-expert/lecture-service/internal/core"
	"github.com/nats-io/nats.go"
)

// KVSink stores progress in a JetStream key-value bucket keyed by job id.
// Only the latest revision is kept.
type KVSink struct {
	bucket string
	kv     nats.KeyValue
}

// NewKVSink creates the bucket, or binds to it when it already exists.
func NewKVSink(js nats.JetStreamContext, bucket string) (*KVSink, error) {
	kv, createErr := js.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:      bucket,
		Description: "Lecture job progress records.",
		History:     1,
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if createErr != nil {
		var bindErr error

		kv, bindErr = js.KeyValue(bucket)
		if bindErr != nil {
			return nil, fmt.Errorf("failed to open key-value bucket '%s': %w", bucket,
				errors.Join(createErr, bindErr))
		}
	}

	return &KVSink{bucket: bucket, kv: kv}, nil
}

// Write stores the record under jobID.
func (s *KVSink) Write(_ context.Context, jobID string, record core.ProgressRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal progress record: %w", err)
	}

	_, err = s.kv.Put(jobID, data)
	if err != nil {
		return fmt.Errorf("failed to put progress for job '%s' in bucket '%s': %w", jobID, s.bucket, err)
	}

	return nil
}

// Read returns the stored record, or the created record when the key is missing.
func (s *KVSink) Read(_ context.Context, jobID string) (core.ProgressRecord, error) {
	entry, err := s.kv.Get(jobID)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return Created(), nil
	}

	if err != nil {
		return core.ProgressRecord{}, fmt.Errorf("failed to get progress for job '%s': %w", jobID, err)
	}

	return decode(entry.Value())
}
