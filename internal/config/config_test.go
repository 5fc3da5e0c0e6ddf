// Package config_test tests the configuration loading for the lecture-service.
package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/lecture-service/internal/config"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
[nats]
url = "nats://127.0.0.1:4222"
lecture_jobs_subject = "lecture.jobs"
lecture_jobs_queue = "gpu-workers"
speech_request_subject = "text.processed"
object_store_bucket = "AUDIO_FILES"

[paths]
uploads_dir = "/srv/uploads"
results_dir = "/srv/results"

[media]
pip_ratio = 0.2
pip_margin = 30
pip_fps = 30
software_only = true

[speech]
backend = "nats"
timeout_seconds = 120

[talking_head]
command = "python3"
args = ["inference.py"]
max_attempts = 5
retry_backoff_ms = 500

[progress]
backend = "redis"
`

func TestConfig_Unmarshal(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	err := toml.Unmarshal([]byte(sampleConfig), &cfg)
	require.NoError(t, err)

	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "gpu-workers", cfg.NATS.LectureJobsQueue)
	assert.Equal(t, "AUDIO_FILES", cfg.NATS.ObjectStoreBucket)
	assert.Equal(t, "/srv/results", cfg.Paths.ResultsDir)
	assert.InEpsilon(t, 0.2, cfg.Media.PIPRatio, 0.001)
	assert.Equal(t, 30, cfg.Media.PIPFPS)
	assert.True(t, cfg.Media.SoftwareOnly)
	assert.Equal(t, config.SpeechBackendNATS, cfg.Speech.Backend)
	assert.Equal(t, []string{"inference.py"}, cfg.TalkingHead.Args)
	assert.Equal(t, 5, cfg.TalkingHead.MaxAttempts)
}

func TestLoadFile_AppliesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "lecture.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 500*time.Millisecond, cfg.RetryBackoff())
	assert.Equal(t, 2*time.Minute, cfg.SpeechTimeout())
	assert.Equal(t, 3*time.Second, cfg.SilenceDuration())
	assert.Equal(t, "h264_nvenc", cfg.Media.HardwareEncoder)
	assert.Equal(t, "libx264", cfg.Media.SoftwareEncoder)
	assert.Equal(t, 1280, cfg.Slides.CardWidth)
	assert.Equal(t, 720, cfg.Slides.CardHeight)
	assert.Equal(t, "LECTURE_PROGRESS", cfg.NATS.ProgressBucket)
	assert.Equal(t, time.Hour, cfg.JobTimeout())
}

func TestLoadFile_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFile(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestApplyDefaults_EmptyConfig(t *testing.T) {
	t.Parallel()

	var cfg config.Config
	cfg.ApplyDefaults()

	require.NoError(t, cfg.Validate())
	assert.InEpsilon(t, 0.10, cfg.Media.PIPRatio, 0.001)
	assert.Equal(t, 50, cfg.Media.PIPMargin)
	assert.Equal(t, 25, cfg.Media.PIPFPS)
	assert.Equal(t, 3, cfg.TalkingHead.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.RetryBackoff())
	assert.Equal(t, config.SpeechBackendHTTP, cfg.Speech.Backend)
	assert.Equal(t, config.ProgressBackendFile, cfg.Progress.Backend)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		mutate  func(cfg *config.Config)
		wantErr error
	}{
		{
			name:    "ratio above one",
			mutate:  func(cfg *config.Config) { cfg.Media.PIPRatio = 1.5 },
			wantErr: config.ErrPIPRatioRange,
		},
		{
			name:    "negative fps",
			mutate:  func(cfg *config.Config) { cfg.Media.PIPFPS = -1 },
			wantErr: config.ErrPIPFPSRange,
		},
		{
			name:    "negative attempts",
			mutate:  func(cfg *config.Config) { cfg.TalkingHead.MaxAttempts = -2 },
			wantErr: config.ErrMaxAttemptsRange,
		},
		{
			name:    "unknown speech backend",
			mutate:  func(cfg *config.Config) { cfg.Speech.Backend = "carrier-pigeon" },
			wantErr: config.ErrUnknownBackend,
		},
		{
			name:    "unknown progress backend",
			mutate:  func(cfg *config.Config) { cfg.Progress.Backend = "etcd" },
			wantErr: config.ErrUnknownBackend,
		},
		{
			name:    "blank results dir",
			mutate:  func(cfg *config.Config) { cfg.Paths.ResultsDir = "  " },
			wantErr: config.ErrResultsDirEmpty,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var cfg config.Config
			cfg.ApplyDefaults()
			tc.mutate(&cfg)

			err := cfg.Validate()
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}
