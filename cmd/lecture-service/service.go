package main

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/book-expert/lecture-service/internal/config"
	"github.com/book-expert/lecture-service/internal/core"
	"github.com/book-expert/lecture-service/internal/fsutil"
	"github.com/book-expert/lecture-service/internal/jobstore"
	"github.com/book-expert/lecture-service/internal/media"
	"github.com/book-expert/lecture-service/internal/narration"
	"github.com/book-expert/lecture-service/internal/objectstore"
	"github.com/book-expert/lecture-service/internal/pipeline"
	"github.com/book-expert/lecture-service/internal/progress"
	"github.com/book-expert/lecture-service/internal/slides"
	"github.com/book-expert/lecture-service/internal/speech"
	"github.com/book-expert/lecture-service/internal/talkinghead"
	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
)

const connectTimeout = 10 * time.Second

var errNATSDisconnected = errors.New("nats connection is not connected")

// service holds the wired components shared by the commands.
type service struct {
	cfg    *config.Config
	log    *logger.Logger
	nats   *nats.Conn
	sink   core.ProgressSink
	ffmpeg *media.FFmpeg
	runner *pipeline.JobRunner
	probes []func(ctx context.Context) error

	closers []func() error
}

// newService connects the configured backends. A NATS connection is opened when
// needsQueue is set or when the speech or progress backend uses NATS.
func newService(ctx context.Context, cfg *config.Config, log *logger.Logger, needsQueue bool) (*service, error) {
	svc := &service{cfg: cfg, log: log}

	err := svc.connect(needsQueue)
	if err != nil {
		svc.Close()

		return nil, err
	}

	svc.sink, err = svc.progressSink(ctx)
	if err != nil {
		svc.Close()

		return nil, err
	}

	synthesizer, err := svc.speechBackend()
	if err != nil {
		svc.Close()

		return nil, err
	}

	svc.ffmpeg = media.New(cfg.Media, log)

	reclaimer := talkinghead.NewCommandReclaimer(cfg.TalkingHead.ReclaimCommand, nil)
	faces := talkinghead.NewRetrier(
		talkinghead.NewCommandGenerator(cfg.TalkingHead, cfg.Paths.FaceGenScratchDir, log),
		reclaimer,
		cfg.TalkingHead,
		log,
	)

	deps := pipeline.Dependencies{
		Media:      svc.ffmpeg,
		Slides:     slides.NewPreparer(cfg.Slides, log),
		Speech:     synthesizer,
		Faces:      faces,
		Normalizer: nil,
		Reclaimer:  reclaimer,
	}
	if cfg.Speech.Normalize {
		deps.Normalizer = narration.NewNormalizer()
	}

	orchestrator := pipeline.NewOrchestrator(deps, cfg.Paths.ResultsDir, cfg.SilenceDuration(), log)
	store := jobstore.NewFileStore(cfg.Paths.UploadsDir, cfg.Paths.ResultsDir, log)
	svc.runner = pipeline.NewJobRunner(store, svc.sink, orchestrator, log)

	svc.probes = append(svc.probes,
		func(context.Context) error { return svc.ffmpeg.CheckTools() },
		lookPathProbe(cfg.TalkingHead.Command),
	)

	log.Info("Service initialized: speech=%s progress=%s results=%s",
		cfg.Speech.Backend, cfg.Progress.Backend, cfg.Paths.ResultsDir)

	return svc, nil
}

func (s *service) connect(needsQueue bool) error {
	if !needsQueue && s.cfg.Speech.Backend != config.SpeechBackendNATS &&
		s.cfg.Progress.Backend != config.ProgressBackendNATS {
		return nil
	}

	conn, err := nats.Connect(s.cfg.NATS.URL, nats.Timeout(connectTimeout), nats.Name("lecture-service"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", s.cfg.NATS.URL, err)
	}

	s.nats = conn
	s.closers = append(s.closers, func() error {
		conn.Close()

		return nil
	})
	s.probes = append(s.probes, func(context.Context) error {
		if !conn.IsConnected() {
			return fmt.Errorf("%w: %s", errNATSDisconnected, s.cfg.NATS.URL)
		}

		return nil
	})

	return nil
}

func (s *service) jetStream() (nats.JetStreamContext, error) {
	js, err := s.nats.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return js, nil
}

func (s *service) progressSink(ctx context.Context) (core.ProgressSink, error) {
	switch s.cfg.Progress.Backend {
	case config.ProgressBackendNATS:
		js, err := s.jetStream()
		if err != nil {
			return nil, err
		}

		sink, err := progress.NewKVSink(js, s.cfg.NATS.ProgressBucket)
		if err != nil {
			return nil, err
		}

		return sink, nil
	case config.ProgressBackendRedis:
		sink, err := progress.NewRedisSink(s.cfg.Redis.URL, time.Duration(s.cfg.Redis.TTLSeconds)*time.Second)
		if err != nil {
			return nil, err
		}

		s.closers = append(s.closers, sink.Close)
		s.probes = append(s.probes, sink.Ping)

		err = sink.Ping(ctx)
		if err != nil {
			s.log.Warn("Redis is not reachable yet: %v", err)
		}

		return sink, nil
	default:
		return progress.NewFileSink(s.cfg.Paths.ResultsDir), nil
	}
}

func (s *service) speechBackend() (core.SpeechSynthesizer, error) {
	clones := speech.NewCloneLibrary(s.cfg.Paths.ClonedVoicesDir)

	switch s.cfg.Speech.Backend {
	case config.SpeechBackendNATS:
		js, err := s.jetStream()
		if err != nil {
			return nil, err
		}

		store, err := objectstore.New(js, s.cfg.NATS.ObjectStoreBucket)
		if err != nil {
			return nil, err
		}

		return speech.NewNATSSynthesizer(
			s.nats,
			store,
			s.cfg.NATS.SpeechRequestSubject,
			s.cfg.Speech.Timeout(),
			s.cfg.Speech.Temperature,
			clones,
			s.log,
		), nil
	case config.SpeechBackendCommand:
		s.probes = append(s.probes, lookPathProbe(s.cfg.Speech.CommandPath), func(context.Context) error {
			_, err := fsutil.ResolveModelPath(s.cfg.Speech.ModelPath)

			return err
		})

		return speech.NewCommandSynthesizer(s.cfg.Speech, clones, nil, s.log), nil
	default:
		client := speech.NewHTTPClient(s.cfg.Speech.ServiceURL, s.cfg.Speech.Timeout())
		s.probes = append(s.probes, client.HealthCheck)

		return speech.NewHTTPSynthesizerWithClient(client, clones, s.cfg.Speech.Temperature, s.log), nil
	}
}

// check runs every environment probe and returns the failures.
func (s *service) check(ctx context.Context) []error {
	var failures []error

	for _, probe := range s.probes {
		err := probe(ctx)
		if err != nil {
			s.log.Error("Environment check failed: %v", err)
			failures = append(failures, err)
		}
	}

	return failures
}

// Close releases connections in reverse order of creation.
func (s *service) Close() {
	for index := len(s.closers) - 1; index >= 0; index-- {
		err := s.closers[index]()
		if err != nil {
			s.log.Warn("Failed to release resource: %v", err)
		}
	}

	s.closers = nil
}

func lookPathProbe(command string) func(context.Context) error {
	return func(context.Context) error {
		_, err := exec.LookPath(command)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", media.ErrToolMissing, command, err)
		}

		return nil
	}
}
