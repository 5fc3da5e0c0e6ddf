// Package media wraps the external transcoder used to assemble lecture videos.
//
// Every operation runs one subprocess at a time and blocks until it exits. A non-zero
// exit status is a failure; how a failure is handled depends on the operation.
package media

import (
	"github.com/book-expert/lecture-service/internal/config"
	"github.com/book-expert/logger"
)

// FFmpeg runs ffmpeg and ffprobe on behalf of the pipeline.
type FFmpeg struct {
	cfg    config.MediaConfig
	runner Runner
	log    *logger.Logger
}

// Option customizes an FFmpeg adapter.
type Option func(*FFmpeg)

// WithRunner replaces the process runner, mainly for tests.
func WithRunner(runner Runner) Option {
	return func(f *FFmpeg) {
		f.runner = runner
	}
}

// New creates an adapter for the configured binaries.
func New(cfg config.MediaConfig, log *logger.Logger, opts ...Option) *FFmpeg {
	adapter := &FFmpeg{
		cfg:    cfg,
		runner: ExecRunner{},
		log:    log,
	}

	for _, opt := range opts {
		opt(adapter)
	}

	return adapter
}
