// Package progress records the lifecycle of a lecture job where a poller can read it.
//
// A Tracker owns the progress of one job and writes every update through a
// core.ProgressSink. Sinks exist for a JSON file in the job's result directory, a
// NATS JetStream key-value bucket and Redis.
package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/lecture-service/internal/core"
	"github.com/book-expert/logger"
)

// CreatedMessage is the message of the record sinks return for unknown jobs.
const CreatedMessage = "created"

// Created returns the record reported for a job nobody has written progress for yet.
func Created() core.ProgressRecord {
	return core.ProgressRecord{
		State:     core.ProgressCreated,
		Current:   0,
		Total:     0,
		Message:   CreatedMessage,
		UpdatedAt: 0,
		VideoPath: "",
	}
}

// Tracker serializes the progress updates of a single job.
// Current never decreases and nothing is written once the job reached done or failed.
type Tracker struct {
	sink  core.ProgressSink
	jobID string
	log   *logger.Logger
	now   func() time.Time

	mu   sync.Mutex
	last core.ProgressRecord
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithClock replaces time.Now as the source of UpdatedAt.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a tracker for jobID.
func NewTracker(sink core.ProgressSink, jobID string, log *logger.Logger, opts ...TrackerOption) *Tracker {
	tracker := &Tracker{
		sink:  sink,
		jobID: jobID,
		log:   log,
		now:   time.Now,
		mu:    sync.Mutex{},
		last:  Created(),
	}

	for _, opt := range opts {
		opt(tracker)
	}

	return tracker
}

// Resume creates a tracker that continues from the record already stored for jobID, so
// a redelivered job cannot move its progress backwards. When the stored record cannot be
// read the tracker starts from Created and the read error is returned with it.
func Resume(
	ctx context.Context,
	sink core.ProgressSink,
	jobID string,
	log *logger.Logger,
	opts ...TrackerOption,
) (*Tracker, error) {
	tracker := NewTracker(sink, jobID, log, opts...)

	record, err := sink.Read(ctx, jobID)
	if err != nil {
		return tracker, fmt.Errorf("failed to read progress for job %s: %w", jobID, err)
	}

	tracker.last = record

	return tracker, nil
}

// Running records an in-flight update.
func (t *Tracker) Running(ctx context.Context, current, total int, message string) error {
	return t.write(ctx, core.ProgressRecord{
		State:     core.ProgressRunning,
		Current:   current,
		Total:     total,
		Message:   message,
		UpdatedAt: 0,
		VideoPath: "",
	})
}

// Done records the successful end of the job.
func (t *Tracker) Done(ctx context.Context, videoPath, message string) error {
	return t.write(ctx, core.ProgressRecord{
		State:     core.ProgressDone,
		Current:   0,
		Total:     0,
		Message:   message,
		UpdatedAt: 0,
		VideoPath: videoPath,
	})
}

// Failed records the failure of the job.
func (t *Tracker) Failed(ctx context.Context, message string) error {
	return t.write(ctx, core.ProgressRecord{
		State:     core.ProgressFailed,
		Current:   0,
		Total:     0,
		Message:   message,
		UpdatedAt: 0,
		VideoPath: "",
	})
}

// Last returns the most recent record accepted by the tracker.
func (t *Tracker) Last() core.ProgressRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.last
}

func (t *Tracker) write(ctx context.Context, record core.ProgressRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.last.State.IsTerminal() {
		t.log.Warn("Job %s: ignoring %s update after %s", t.jobID, record.State, t.last.State)

		return nil
	}

	if record.Current < t.last.Current {
		record.Current = t.last.Current
	}

	if record.Total == 0 {
		record.Total = t.last.Total
	}

	record.UpdatedAt = t.now().Unix()

	err := t.sink.Write(ctx, t.jobID, record)
	if err != nil {
		t.log.Error("Job %s: failed to write progress: %v", t.jobID, err)

		return fmt.Errorf("failed to write progress for job %s: %w", t.jobID, err)
	}

	t.last = record

	return nil
}
