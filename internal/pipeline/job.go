package pipeline

import (
	"context"
	"fmt"

	"github.com/book-expert/lecture-service/internal/core"
	"github.com/book-expert/lecture-service/internal/fsutil"
	"github.com/book-expert/lecture-service/internal/metrics"
	"github.com/book-expert/lecture-service/internal/progress"
	"github.com/book-expert/logger"
)

// JobRunner runs a job whose inputs were stored before it was queued and persists its
// progress records along the way.
type JobRunner struct {
	assets       core.AssetProvider
	sink         core.ProgressSink
	orchestrator *Orchestrator
	trackerOpts  []progress.TrackerOption
	countJob     func(state core.ProgressState)
	log          *logger.Logger
}

// JobRunnerOption configures a JobRunner.
type JobRunnerOption func(*JobRunner)

// WithTrackerOptions passes opts to every progress.Tracker the runner creates.
func WithTrackerOptions(opts ...progress.TrackerOption) JobRunnerOption {
	return func(r *JobRunner) {
		r.trackerOpts = append(r.trackerOpts, opts...)
	}
}

// WithJobCounter replaces the jobs metric as the receiver of terminal job states.
func WithJobCounter(count func(state core.ProgressState)) JobRunnerOption {
	return func(r *JobRunner) {
		r.countJob = count
	}
}

// NewJobRunner creates a runner.
func NewJobRunner(
	assets core.AssetProvider,
	sink core.ProgressSink,
	orchestrator *Orchestrator,
	log *logger.Logger,
	opts ...JobRunnerOption,
) *JobRunner {
	runner := &JobRunner{
		assets:       assets,
		sink:         sink,
		orchestrator: orchestrator,
		trackerOpts:  nil,
		countJob: func(state core.ProgressState) {
			metrics.IncreaseJobsMetric(string(state))
		},
		log: log,
	}

	for _, opt := range opts {
		opt(runner)
	}

	return runner
}

// Run loads the job's assets, builds the lecture and records the outcome. The final
// progress record is always the last write for the job. A job whose stored record is
// already done or failed is not run again; its stored outcome is returned instead.
func (r *JobRunner) Run(ctx context.Context, jobID string) core.JobResult {
	// Progress must still be written when ctx was cancelled by a job timeout.
	writeCtx := context.WithoutCancel(ctx)

	tracker, err := progress.Resume(writeCtx, r.sink, jobID, r.log, r.trackerOpts...)
	if err != nil {
		r.log.Warn("Job %s: starting without previous progress: %v", jobID, err)
	}

	if previous := tracker.Last(); previous.State.IsTerminal() {
		r.log.Warn("Job %s already %s, not running it again", jobID, previous.State)

		return storedResult(previous)
	}

	result := r.build(ctx, writeCtx, tracker, jobID)
	if result.OK {
		r.countJob(core.ProgressDone)
	} else {
		r.countJob(core.ProgressFailed)
	}

	return result
}

func (r *JobRunner) build(ctx, writeCtx context.Context, tracker *progress.Tracker, jobID string) core.JobResult {
	_ = tracker.Running(writeCtx, 0, 0, startingMessage)

	req, err := r.load(ctx, jobID)
	if err != nil {
		return r.failed(writeCtx, tracker, err.Error())
	}

	result := r.orchestrator.RunJob(ctx, req, func(current, total int, message string) {
		_ = tracker.Running(writeCtx, current, total, message)
	})
	if !result.OK {
		return r.failed(writeCtx, tracker, result.Status)
	}

	if !fsutil.FileExists(result.VideoPath) {
		return r.failed(writeCtx, tracker, fmt.Sprintf("%v: %s", ErrFinalVideoMissing, result.VideoPath))
	}

	_ = tracker.Done(writeCtx, result.VideoPath, result.Status)

	return result
}

func storedResult(record core.ProgressRecord) core.JobResult {
	return core.JobResult{
		OK:        record.State == core.ProgressDone,
		VideoPath: record.VideoPath,
		Status:    record.Message,
	}
}

func (r *JobRunner) load(ctx context.Context, jobID string) (JobRequest, error) {
	slides, err := r.assets.Slides(ctx, jobID)
	if err != nil {
		return JobRequest{}, fmt.Errorf("failed to load slides: %w", err)
	}

	presenter, err := r.assets.PresenterImage(ctx, jobID)
	if err != nil {
		return JobRequest{}, fmt.Errorf("failed to load presenter image: %w", err)
	}

	params, err := r.assets.Parameters(ctx, jobID)
	if err != nil {
		return JobRequest{}, fmt.Errorf("failed to load parameters: %w", err)
	}

	return JobRequest{
		JobID:          jobID,
		Slides:         slides,
		PresenterImage: presenter,
		Params:         params,
	}, nil
}

func (r *JobRunner) failed(ctx context.Context, tracker *progress.Tracker, status string) core.JobResult {
	_ = tracker.Failed(ctx, status)

	return core.JobResult{OK: false, VideoPath: "", Status: status}
}
