// Package config provides the configuration structure for the lecture-service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
)

// Validation errors.
var (
	ErrResultsDirEmpty   = errors.New("paths.results_dir cannot be empty")
	ErrUploadsDirEmpty   = errors.New("paths.uploads_dir cannot be empty")
	ErrPIPRatioRange     = errors.New("media.pip_ratio must be in (0, 1]")
	ErrPIPFPSRange       = errors.New("media.pip_fps must be positive")
	ErrMaxAttemptsRange  = errors.New("talking_head.max_attempts must be at least 1")
	ErrUnknownBackend    = errors.New("unknown backend")
	ErrGeneratorCmdEmpty = errors.New("talking_head.command cannot be empty")
)

// Backend names accepted by the speech and progress sections.
const (
	SpeechBackendHTTP    = "http"
	SpeechBackendNATS    = "nats"
	SpeechBackendCommand = "command"

	ProgressBackendFile  = "file"
	ProgressBackendNATS  = "nats"
	ProgressBackendRedis = "redis"
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                  string `toml:"url"`
	LectureJobsSubject   string `toml:"lecture_jobs_subject"`
	LectureJobsQueue     string `toml:"lecture_jobs_queue"`
	SpeechRequestSubject string `toml:"speech_request_subject"`
	ObjectStoreBucket    string `toml:"object_store_bucket"`
	ProgressBucket       string `toml:"progress_bucket"`
}

// RedisConfig holds the configuration for the Redis progress backend.
type RedisConfig struct {
	URL        string `toml:"url"`
	TTLSeconds int    `toml:"ttl_seconds"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir       string `toml:"base_logs_dir"`
	UploadsDir        string `toml:"uploads_dir"`
	ResultsDir        string `toml:"results_dir"`
	ClonedVoicesDir   string `toml:"cloned_voices_dir"`
	FaceGenScratchDir string `toml:"face_gen_scratch_dir"`
}

// MediaConfig controls the transcoder invocations.
type MediaConfig struct {
	FFmpegPath      string  `toml:"ffmpeg_path"`
	FFprobePath     string  `toml:"ffprobe_path"`
	PIPRatio        float64 `toml:"pip_ratio"`
	PIPMargin       int     `toml:"pip_margin"`
	PIPFPS          int     `toml:"pip_fps"`
	SoftwareOnly    bool    `toml:"software_only"`
	HardwareEncoder string  `toml:"hardware_encoder"`
	SoftwareEncoder string  `toml:"software_encoder"`
}

// SlidesConfig controls the fallback text cards.
type SlidesConfig struct {
	FontPath     string  `toml:"font_path"`
	FontSize     float64 `toml:"font_size"`
	CardWidth    int     `toml:"card_width"`
	CardHeight   int     `toml:"card_height"`
	LineSpacing  int     `toml:"line_spacing"`
	SilenceMilli int     `toml:"silence_ms"`
}

// SpeechConfig selects and configures the narration backend.
type SpeechConfig struct {
	Backend        string  `toml:"backend"`
	ServiceURL     string  `toml:"service_url"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	Temperature    float64 `toml:"temperature"`
	CommandPath    string  `toml:"command_path"`
	ModelPath      string  `toml:"model_path"`
	Normalize      bool    `toml:"normalize_text"`
}

// TalkingHeadConfig configures the face generator subprocess and its retry policy.
type TalkingHeadConfig struct {
	Command        string   `toml:"command"`
	Args           []string `toml:"args"`
	ReclaimCommand []string `toml:"reclaim_command"`
	MaxAttempts    int      `toml:"max_attempts"`
	RetryBackoffMS int      `toml:"retry_backoff_ms"`
}

// WorkerConfig configures the queue consumer.
type WorkerConfig struct {
	JobTimeoutMinutes int `toml:"job_timeout_minutes"`
}

// ProgressConfig selects where progress records are persisted.
type ProgressConfig struct {
	Backend string `toml:"backend"`
}

// MetricsConfig configures the prometheus listener.
type MetricsConfig struct {
	Address string `toml:"address"`
}

// Config is the root configuration structure.
type Config struct {
	NATS        NATSConfig        `toml:"nats"`
	Redis       RedisConfig       `toml:"redis"`
	Paths       PathsConfig       `toml:"paths"`
	Media       MediaConfig       `toml:"media"`
	Slides      SlidesConfig      `toml:"slides"`
	Speech      SpeechConfig      `toml:"speech"`
	TalkingHead TalkingHeadConfig `toml:"talking_head"`
	Worker      WorkerConfig      `toml:"worker"`
	Progress    ProgressConfig    `toml:"progress"`
	Metrics     MetricsConfig     `toml:"metrics"`
}

// Load loads the configuration for the lecture-service through the central configurator.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finalize(&cfg)
}

// LoadFile loads the configuration from a local TOML file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	var cfg Config

	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file '%s': %w", path, err)
	}

	return finalize(&cfg)
}

func finalize(cfg *Config) (*Config, error) {
	cfg.ApplyDefaults()

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	return cfg, nil
}

// ApplyDefaults fills every unset field with its default value.
func (c *Config) ApplyDefaults() {
	setString(&c.NATS.URL, "nats://127.0.0.1:4222")
	setString(&c.NATS.LectureJobsSubject, "lecture.jobs")
	setString(&c.NATS.LectureJobsQueue, "lecture-workers")
	setString(&c.NATS.SpeechRequestSubject, "text.processed")
	setString(&c.NATS.ObjectStoreBucket, "LECTURE_AUDIO")
	setString(&c.NATS.ProgressBucket, "LECTURE_PROGRESS")

	setString(&c.Redis.URL, "redis://localhost:6379/0")
	setInt(&c.Redis.TTLSeconds, 7*24*3600)

	setString(&c.Paths.BaseLogsDir, os.TempDir())
	setString(&c.Paths.UploadsDir, "./uploads")
	setString(&c.Paths.ResultsDir, "./results")
	setString(&c.Paths.ClonedVoicesDir, "./cloned_voices")
	setString(&c.Paths.FaceGenScratchDir, "./tmp/facegen")

	setString(&c.Media.FFmpegPath, "ffmpeg")
	setString(&c.Media.FFprobePath, "ffprobe")
	setFloat(&c.Media.PIPRatio, 0.10)
	setInt(&c.Media.PIPMargin, 50)
	setInt(&c.Media.PIPFPS, 25)
	setString(&c.Media.HardwareEncoder, "h264_nvenc")
	setString(&c.Media.SoftwareEncoder, "libx264")

	setString(&c.Slides.FontPath, "DejaVuSans.ttf")
	setFloat(&c.Slides.FontSize, 40)
	setInt(&c.Slides.CardWidth, 1280)
	setInt(&c.Slides.CardHeight, 720)
	setInt(&c.Slides.LineSpacing, 20)
	setInt(&c.Slides.SilenceMilli, 3000)

	setString(&c.Speech.Backend, SpeechBackendHTTP)
	setString(&c.Speech.ServiceURL, "http://127.0.0.1:8000")
	setInt(&c.Speech.TimeoutSeconds, 300)
	setFloat(&c.Speech.Temperature, 0.75)
	setString(&c.Speech.CommandPath, "chatllm")

	setString(&c.TalkingHead.Command, "python3")
	setInt(&c.TalkingHead.MaxAttempts, 3)
	setInt(&c.TalkingHead.RetryBackoffMS, 2000)

	setInt(&c.Worker.JobTimeoutMinutes, 60)

	setString(&c.Progress.Backend, ProgressBackendFile)
}

// Validate checks the values that would otherwise fail deep inside a job.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Paths.ResultsDir) == "" {
		return ErrResultsDirEmpty
	}

	if strings.TrimSpace(c.Paths.UploadsDir) == "" {
		return ErrUploadsDirEmpty
	}

	if c.Media.PIPRatio <= 0 || c.Media.PIPRatio > 1 {
		return fmt.Errorf("%w: got %f", ErrPIPRatioRange, c.Media.PIPRatio)
	}

	if c.Media.PIPFPS <= 0 {
		return fmt.Errorf("%w: got %d", ErrPIPFPSRange, c.Media.PIPFPS)
	}

	if c.TalkingHead.MaxAttempts < 1 {
		return fmt.Errorf("%w: got %d", ErrMaxAttemptsRange, c.TalkingHead.MaxAttempts)
	}

	if strings.TrimSpace(c.TalkingHead.Command) == "" {
		return ErrGeneratorCmdEmpty
	}

	switch c.Speech.Backend {
	case SpeechBackendHTTP, SpeechBackendNATS, SpeechBackendCommand:
	default:
		return fmt.Errorf("%w: speech.backend=%q", ErrUnknownBackend, c.Speech.Backend)
	}

	switch c.Progress.Backend {
	case ProgressBackendFile, ProgressBackendNATS, ProgressBackendRedis:
	default:
		return fmt.Errorf("%w: progress.backend=%q", ErrUnknownBackend, c.Progress.Backend)
	}

	return nil
}

// RetryBackoff returns the pause between resource-exhausted generation attempts.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.TalkingHead.RetryBackoffMS) * time.Millisecond
}

// SilenceDuration returns the length of the narration placeholder for silent slides.
func (c *Config) SilenceDuration() time.Duration {
	return time.Duration(c.Slides.SilenceMilli) * time.Millisecond
}

// SpeechTimeout returns the per-request timeout of the speech backend.
func (c *Config) SpeechTimeout() time.Duration {
	return c.Speech.Timeout()
}

// Timeout returns the per-request timeout of the speech backend.
func (s SpeechConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// JobTimeout returns the wall-clock ceiling the worker imposes on one job.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Worker.JobTimeoutMinutes) * time.Minute
}

func setString(field *string, value string) {
	if strings.TrimSpace(*field) == "" {
		*field = value
	}
}

func setInt(field *int, value int) {
	if *field == 0 {
		*field = value
	}
}

func setFloat(field *float64, value float64) {
	if *field == 0 {
		*field = value
	}
}
