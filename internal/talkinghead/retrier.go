package talkinghead

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/lecture-service/internal/config"
	"github.com/book-expert/lecture-service/internal/core"
	"github.com/book-expert/lecture-service/internal/metrics"
	"github.com/book-expert/logger"
)

// ErrAttemptsExhausted is returned when every attempt ran out of accelerator memory.
var ErrAttemptsExhausted = errors.New("talking-head attempts exhausted")

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Retrier retries a generator on core.ErrResourceExhausted with a halving batch size.
// Memory is reclaimed before and after every attempt; reclaim failures are only logged.
type Retrier struct {
	next        core.TalkingHeadGenerator
	reclaimer   core.MemoryReclaimer
	maxAttempts int
	backoff     time.Duration
	sleep       SleepFunc
	log         *logger.Logger
}

// RetrierOption customizes a Retrier.
type RetrierOption func(*Retrier)

// WithSleep replaces the backoff pause, mainly for tests.
func WithSleep(sleep SleepFunc) RetrierOption {
	return func(r *Retrier) {
		r.sleep = sleep
	}
}

// NewRetrier wraps next with the configured attempt ceiling and backoff.
func NewRetrier(
	next core.TalkingHeadGenerator,
	reclaimer core.MemoryReclaimer,
	cfg config.TalkingHeadConfig,
	log *logger.Logger,
	opts ...RetrierOption,
) *Retrier {
	retrier := &Retrier{
		next:        next,
		reclaimer:   reclaimer,
		maxAttempts: max(1, cfg.MaxAttempts),
		backoff:     time.Duration(cfg.RetryBackoffMS) * time.Millisecond,
		sleep:       sleepContext,
		log:         log,
	}

	for _, opt := range opts {
		opt(retrier)
	}

	return retrier
}

// Generate implements core.TalkingHeadGenerator.
func (r *Retrier) Generate(ctx context.Context, req core.FaceRequest) (string, error) {
	batchSize := max(1, req.BatchSize)

	var lastErr error

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		attemptReq := req
		attemptReq.BatchSize = batchSize

		r.reclaim(ctx)
		clip, err := r.next.Generate(ctx, attemptReq)
		r.reclaim(ctx)

		if err == nil {
			if clip == "" {
				return "", ErrNoVideo
			}

			return clip, nil
		}

		if !errors.Is(err, core.ErrResourceExhausted) {
			return "", err
		}

		lastErr = err

		if attempt == r.maxAttempts {
			break
		}

		batchSize = max(1, batchSize/2)

		metrics.IncreaseFaceRetriesMetric()
		r.log.Warn("Accelerator memory exhausted on attempt %d/%d, retrying with batch size %d",
			attempt, r.maxAttempts, batchSize)

		sleepErr := r.sleep(ctx, r.backoff)
		if sleepErr != nil {
			return "", sleepErr
		}
	}

	return "", fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, r.maxAttempts, lastErr)
}

func (r *Retrier) reclaim(ctx context.Context) {
	if r.reclaimer == nil {
		return
	}

	reclaimErr := r.reclaimer.Reclaim(ctx)
	if reclaimErr != nil {
		r.log.Warn("Accelerator memory reclaim failed: %v", reclaimErr)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
