// Package worker provides a NATS worker that runs queued lecture jobs.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/lecture-service/internal/core"
	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
)

var (
	// ErrJobIDEmpty indicates a request without a job id.
	ErrJobIDEmpty = errors.New("job id cannot be empty")
	// ErrInvalidRequest indicates a request body that is not a LectureJobRequest.
	ErrInvalidRequest = errors.New("invalid lecture job request")
)

// LectureJobRequest asks a worker to build the lecture of a prepared job.
type LectureJobRequest struct {
	Header events.EventHeader `json:"header"`
	JobID  string             `json:"job_id"`
}

// JobRunner runs one lecture job to completion.
type JobRunner interface {
	Run(ctx context.Context, jobID string) core.JobResult
}

// NatsWorker consumes lecture job requests from a NATS queue group. Messages of one
// subscription are delivered serially, so a worker process runs one job at a time.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	queue          string
	jobTimeout     time.Duration
	runner         JobRunner
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	queue string,
	jobTimeout time.Duration,
	runner JobRunner,
	log *logger.Logger,
) *NatsWorker {
	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		queue:          queue,
		jobTimeout:     jobTimeout,
		runner:         runner,
		log:            log,
	}
}

// Run subscribes and processes jobs until ctx is cancelled. Jobs in flight at that point
// see their context cancelled and record a failed state.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.QueueSubscribe(w.subject, w.queue, func(msg *nats.Msg) {
		w.handleMessage(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.Info("Listening for lecture jobs on %s (queue %s)", w.subject, w.queue)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(parent context.Context, msg *nats.Msg) {
	request, err := parseRequest(msg.Data)
	if err != nil {
		w.log.Error("Failed to parse lecture job request: %v", err)
		w.respond(msg, core.JobResult{OK: false, VideoPath: "", Status: err.Error()})

		return
	}

	ctx, cancel := context.WithTimeout(parent, w.jobTimeout)
	defer cancel()

	started := time.Now()
	w.log.Info("Job %s started (workflow %s)", request.JobID, request.Header.WorkflowID)

	result := w.runner.Run(ctx, request.JobID)

	w.log.Info("Job %s finished in %s: ok=%t %s", request.JobID, time.Since(started).Round(time.Second), result.OK, result.Status)
	w.respond(msg, result)
}

func (w *NatsWorker) respond(msg *nats.Msg, result core.JobResult) {
	if msg.Reply == "" {
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		w.log.Error("Failed to marshal job result: %v", err)

		return
	}

	err = msg.Respond(data)
	if err != nil {
		w.log.Error("Failed to publish job result: %v", err)
	}
}

func parseRequest(data []byte) (LectureJobRequest, error) {
	var request LectureJobRequest

	err := json.Unmarshal(data, &request)
	if err != nil {
		return LectureJobRequest{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	request.JobID = strings.TrimSpace(request.JobID)
	if request.JobID == "" {
		return LectureJobRequest{}, ErrJobIDEmpty
	}

	return request, nil
}

// Enqueue publishes a job request on subject and waits for the worker's result.
// The wait is bounded by ctx.
func Enqueue(ctx context.Context, natsConnection *nats.Conn, subject string, request LectureJobRequest) (core.JobResult, error) {
	data, err := json.Marshal(request)
	if err != nil {
		return core.JobResult{}, fmt.Errorf("failed to marshal job request: %w", err)
	}

	reply, err := natsConnection.RequestWithContext(ctx, subject, data)
	if err != nil {
		return core.JobResult{}, fmt.Errorf("job %s: request on %s failed: %w", request.JobID, subject, err)
	}

	var result core.JobResult

	err = json.Unmarshal(reply.Data, &result)
	if err != nil {
		return core.JobResult{}, fmt.Errorf("job %s: failed to unmarshal result: %w", request.JobID, err)
	}

	return result, nil
}
