package metrics_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/book-expert/lecture-service/internal/metrics"
	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_ExposesCounters(t *testing.T) {
	t.Parallel()

	log, err := logger.New(t.TempDir(), "metrics-test.log")
	require.NoError(t, err)

	defer func() { _ = log.Close() }()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	metrics.IncreaseSlidesMetric(metrics.OutcomeDone)
	metrics.IncreaseJobsMetric("done")
	metrics.IncreaseEncoderFallbacksMetric(metrics.OperationConcat)
	metrics.IncreaseFaceRetriesMetric()

	ctx, cancel := context.WithCancel(context.Background())
	server := metrics.NewServer(listener, log)

	done := make(chan error, 1)

	go func() { done <- server.Run(ctx) }()

	base := "http://" + listener.Addr().String()

	body := httpGet(t, base+"/healthz")
	assert.Equal(t, "ok", body)

	body = httpGet(t, base+"/metrics")
	assert.Contains(t, body, "lecture_slides_total")
	assert.Contains(t, body, "lecture_jobs_total")
	assert.Contains(t, body, "lecture_encoder_fallbacks_total")
	assert.Contains(t, body, "lecture_face_generation_retries_total")

	cancel()

	select {
	case runErr := <-done:
		require.NoError(t, runErr)
	case <-time.After(10 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}

func httpGet(t *testing.T, url string) string {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return string(data)
}
