package progress_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/lecture-service/internal/core"
	"github.com/book-expert/lecture-service/internal/progress"
	"github.com/book-expert/logger"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	errMockWrite = errors.New("mock write error")
	errMockRead  = errors.New("mock read error")
)

// mockSink records every write in order.
type mockSink struct {
	mu             sync.Mutex
	shouldFail     bool
	readShouldFail bool
	records    []core.ProgressRecord
	lastJobID  string
}

func (m *mockSink) Write(_ context.Context, jobID string, record core.ProgressRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shouldFail {
		return errMockWrite
	}

	m.lastJobID = jobID
	m.records = append(m.records, record)

	return nil
}

func (m *mockSink) Read(_ context.Context, _ string) (core.ProgressRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.readShouldFail {
		return core.ProgressRecord{}, errMockRead
	}

	if len(m.records) == 0 {
		return progress.Created(), nil
	}

	return m.records[len(m.records)-1], nil
}

func newLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "progress-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	return log
}

func fixedClock() time.Time {
	return time.Unix(1700000000, 0)
}

func TestTracker_CurrentNeverDecreases(t *testing.T) {
	t.Parallel()

	sink := &mockSink{}
	tracker := progress.NewTracker(sink, "job-1", newLogger(t), progress.WithClock(fixedClock))
	ctx := context.Background()

	require.NoError(t, tracker.Running(ctx, 0, 3, "Starting..."))
	require.NoError(t, tracker.Running(ctx, 2, 3, "Processing slide 2/3"))
	require.NoError(t, tracker.Running(ctx, 1, 3, "late update"))
	require.NoError(t, tracker.Running(ctx, 3, 0, "Processing slide 3/3"))

	require.Len(t, sink.records, 4)

	previous := 0
	for _, record := range sink.records {
		assert.GreaterOrEqual(t, record.Current, previous)
		assert.Equal(t, 3, record.Total)
		assert.Equal(t, int64(1700000000), record.UpdatedAt)

		previous = record.Current
	}

	assert.Equal(t, "job-1", sink.lastJobID)
}

func TestTracker_TerminalStateIsFinal(t *testing.T) {
	t.Parallel()

	sink := &mockSink{}
	tracker := progress.NewTracker(sink, "job-2", newLogger(t))
	ctx := context.Background()

	require.NoError(t, tracker.Running(ctx, 1, 1, "Processing slide 1/1"))
	require.NoError(t, tracker.Done(ctx, "/results/job-2/lecture_final.mp4", "1 slide(s)"))
	require.NoError(t, tracker.Failed(ctx, "too late"))
	require.NoError(t, tracker.Running(ctx, 2, 1, "too late"))

	require.Len(t, sink.records, 2)

	last := tracker.Last()
	assert.Equal(t, core.ProgressDone, last.State)
	assert.Equal(t, "/results/job-2/lecture_final.mp4", last.VideoPath)
	assert.Equal(t, 1, last.Current)
}

func TestTracker_SinkFailureKeepsLastRecord(t *testing.T) {
	t.Parallel()

	sink := &mockSink{shouldFail: true}
	tracker := progress.NewTracker(sink, "job-3", newLogger(t))

	err := tracker.Running(context.Background(), 1, 2, "Processing slide 1/2")
	require.ErrorIs(t, err, errMockWrite)
	assert.Equal(t, core.ProgressCreated, tracker.Last().State)
}

func TestResume(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("continues from the stored record", func(t *testing.T) {
		t.Parallel()

		sink := &mockSink{}
		sink.records = []core.ProgressRecord{{State: core.ProgressRunning, Current: 2, Total: 3}}

		tracker, err := progress.Resume(ctx, sink, "job-4", newLogger(t))
		require.NoError(t, err)
		require.NoError(t, tracker.Running(ctx, 0, 0, "Starting..."))

		last := sink.records[len(sink.records)-1]
		assert.Equal(t, 2, last.Current)
		assert.Equal(t, 3, last.Total)
	})

	t.Run("finished job stays finished", func(t *testing.T) {
		t.Parallel()

		sink := &mockSink{}
		sink.records = []core.ProgressRecord{{State: core.ProgressDone, VideoPath: "/results/job-5/lecture_final.mp4"}}

		tracker, err := progress.Resume(ctx, sink, "job-5", newLogger(t))
		require.NoError(t, err)
		require.NoError(t, tracker.Running(ctx, 0, 3, "Starting..."))

		require.Len(t, sink.records, 1)
		assert.Equal(t, core.ProgressDone, tracker.Last().State)
	})

	t.Run("unreadable record starts fresh", func(t *testing.T) {
		t.Parallel()

		sink := &mockSink{readShouldFail: true}

		tracker, err := progress.Resume(ctx, sink, "job-6", newLogger(t))
		require.ErrorIs(t, err, errMockRead)
		require.NotNil(t, tracker)
		assert.Equal(t, core.ProgressCreated, tracker.Last().State)
	})
}

func TestFileSink_RoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink := progress.NewFileSink(dir)
	ctx := context.Background()

	record, err := sink.Read(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, core.ProgressCreated, record.State)

	written := core.ProgressRecord{
		State:     core.ProgressRunning,
		Current:   2,
		Total:     5,
		Message:   "Processing slide 2/5",
		UpdatedAt: 1700000000,
		VideoPath: "",
	}
	require.NoError(t, sink.Write(ctx, "job-1", written))
	assert.FileExists(t, filepath.Join(dir, "job-1", progress.FileName))

	read, err := sink.Read(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, written, read)

	entries, err := os.ReadDir(filepath.Join(dir, "job-1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")
}

func TestFileSink_CorruptDocument(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "job-1"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "job-1", progress.FileName), []byte("{"), 0o600))

	_, err := progress.NewFileSink(dir).Read(context.Background(), "job-1")
	require.Error(t, err)
}

func TestKVSink_RoundTrip(t *testing.T) {
	t.Parallel()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)
	defer natsServer.Shutdown()

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	require.NoError(t, err)
	defer natsConnection.Close()

	js, err := natsConnection.JetStream()
	require.NoError(t, err)

	sink, err := progress.NewKVSink(js, "LECTURE_PROGRESS")
	require.NoError(t, err)

	ctx := context.Background()

	record, err := sink.Read(ctx, "unknown")
	require.NoError(t, err)
	assert.Equal(t, core.ProgressCreated, record.State)

	done := core.ProgressRecord{
		State:     core.ProgressDone,
		Current:   3,
		Total:     3,
		Message:   "Lecture built from 3 slide(s)",
		UpdatedAt: 1700000000,
		VideoPath: "/results/job-1/lecture_final.mp4",
	}
	require.NoError(t, sink.Write(ctx, "job-1", done))

	rebound, err := progress.NewKVSink(js, "LECTURE_PROGRESS")
	require.NoError(t, err)

	read, err := rebound.Read(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, done, read)
}

func TestRedisSink_RoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	sink, err := progress.NewRedisSink("redis://"+host+":"+port.Port(), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	require.NoError(t, sink.Ping(ctx))

	record, err := sink.Read(ctx, "unknown")
	require.NoError(t, err)
	assert.Equal(t, core.ProgressCreated, record.State)

	failed := core.ProgressRecord{
		State:     core.ProgressFailed,
		Current:   0,
		Total:     0,
		Message:   "Cannot create video for any slide",
		UpdatedAt: 1700000000,
		VideoPath: "",
	}
	require.NoError(t, sink.Write(ctx, "job-9", failed))

	read, err := sink.Read(ctx, "job-9")
	require.NoError(t, err)
	assert.Equal(t, failed, read)
}

func TestRedisKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "lecture:progress:job-1", progress.RedisKey("job-1"))
}
