// Package pipeline turns a job's slides into a narrated picture-in-picture lecture.
//
// A Stage carries one slide from its still image to a composited clip. The
// Orchestrator runs the stage over every slide of a job, concatenates the clips and
// reports progress. The JobRunner loads a queued job's assets and persists its
// progress records.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/book-expert/lecture-service/internal/core"
	"github.com/book-expert/lecture-service/internal/media"
	"github.com/book-expert/lecture-service/internal/metrics"
	"github.com/book-expert/logger"
)

const (
	// minNarrationSeconds is the shortest probed duration trusted as real audio.
	minNarrationSeconds = 0.1
	// fallbackNarrationSeconds replaces durations that could not be probed.
	fallbackNarrationSeconds = 3.0

	slideImageFormat   = "slide_%02d.png"
	slideClipFormat    = "slide_%03d.mp4"
	silentTrackFormat  = "silent_%02d.wav"
	speechScratchName  = "tts"
	faceScratchDirName = "facegen"
)

// SlideState is a step of the per-slide state machine.
type SlideState string

const (
	SlidePending    SlideState = "pending"
	SlideImageReady SlideState = "image_ready"
	SlideAudioReady SlideState = "audio_ready"
	SlideFaceReady  SlideState = "face_ready"
	SlideComposited SlideState = "composited"
	SlideDone       SlideState = "done"
	SlideSkipped    SlideState = "skipped"
)

// MediaTool is the transcoder surface the pipeline needs; media.FFmpeg implements it.
type MediaTool interface {
	AdjustTempo(ctx context.Context, inputPath string, rate float64) string
	Overlay(ctx context.Context, req media.OverlayRequest) error
	Concat(ctx context.Context, clips []string, manifestPath, outPath string) error
	ProbeDuration(ctx context.Context, path string) (float64, error)
	Silence(ctx context.Context, outPath string, length time.Duration) error
}

// SlidePreparer writes the still image of a slide; slides.Preparer implements it.
type SlidePreparer interface {
	Prepare(ctx context.Context, slide core.Slide, outPath string) error
}

// TextNormalizer cleans narration before synthesis; narration.Normalizer implements it.
type TextNormalizer interface {
	Normalize(language, text string) string
}

// Dependencies are the collaborators shared by the stage and the orchestrator.
// Normalizer and Reclaimer are optional.
type Dependencies struct {
	Media      MediaTool
	Slides     SlidePreparer
	Speech     core.SpeechSynthesizer
	Faces      core.TalkingHeadGenerator
	Normalizer TextNormalizer
	Reclaimer  core.MemoryReclaimer
}

// Job is the per-job context handed to every stage call.
type Job struct {
	ID             string
	Dir            string
	PresenterImage string
	Params         core.Parameters
}

// SpeechDir is where synthesized narration is written.
func (j Job) SpeechDir() string {
	return filepath.Join(j.Dir, speechScratchName)
}

// FaceWorkDir is the job-scoped root of the face generator's work directories.
func (j Job) FaceWorkDir() string {
	return filepath.Join(j.Dir, faceScratchDirName)
}

// SlideOutcome is the result of one stage run. ClipPath and Duration are set only when
// State is SlideDone.
type SlideOutcome struct {
	Number   int
	State    SlideState
	ClipPath string
	Duration float64
	Err      error
}

// Stage processes a single slide.
type Stage struct {
	deps    Dependencies
	silence time.Duration
	log     *logger.Logger
}

// NewStage creates a stage. silence is the length of the track used when a slide has
// no narration.
func NewStage(deps Dependencies, silence time.Duration, log *logger.Logger) *Stage {
	return &Stage{deps: deps, silence: silence, log: log}
}

// Process runs the slide through image, audio, face and composition. Every failure
// ends in SlideSkipped with the intermediates of that slide removed.
func (s *Stage) Process(ctx context.Context, job Job, slide core.Slide) SlideOutcome {
	outcome := SlideOutcome{Number: slide.Number, State: SlidePending, ClipPath: "", Duration: 0, Err: nil}

	imagePath := filepath.Join(job.Dir, fmt.Sprintf(slideImageFormat, slide.Number))

	err := s.deps.Slides.Prepare(ctx, slide, imagePath)
	if err != nil {
		return s.skip(outcome, fmt.Errorf("prepare image: %w", err))
	}

	outcome.State = SlideImageReady

	audioPath, err := s.narrate(ctx, job, slide)
	if err != nil {
		removeQuietly(s.log, imagePath)

		return s.skip(outcome, err)
	}

	duration := s.duration(ctx, audioPath)
	outcome.State = SlideAudioReady

	facePath, err := s.deps.Faces.Generate(ctx, core.FaceRequest{
		SourceImage:    job.PresenterImage,
		AudioPath:      audioPath,
		BatchSize:      job.Params.BatchSize,
		PreprocessMode: job.Params.PreprocessMode,
		StillMode:      job.Params.StillMode,
		Enhancer:       job.Params.Enhancer,
		ImageSize:      job.Params.ImageSize,
		PoseStyle:      job.Params.PoseStyle,
		WorkDir:        job.FaceWorkDir(),
	})
	if err != nil {
		removeQuietly(s.log, audioPath, imagePath)

		return s.skip(outcome, fmt.Errorf("generate face: %w", err))
	}

	outcome.State = SlideFaceReady

	clipPath := filepath.Join(job.Dir, fmt.Sprintf(slideClipFormat, slide.Number))

	err = s.deps.Media.Overlay(ctx, media.OverlayRequest{
		Background: imagePath,
		Face:       facePath,
		Audio:      audioPath,
		Output:     clipPath,
	})
	if err != nil {
		removeQuietly(s.log, facePath, audioPath, imagePath, clipPath)

		return s.skip(outcome, fmt.Errorf("composite: %w", err))
	}

	outcome.State = SlideComposited

	removeQuietly(s.log, facePath, audioPath, imagePath)

	outcome.State = SlideDone
	outcome.ClipPath = clipPath
	outcome.Duration = duration

	metrics.IncreaseSlidesMetric(metrics.OutcomeDone)
	s.log.Info("Slide %d done: %s (%.1fs)", slide.Number, clipPath, duration)

	return outcome
}

// narrate synthesizes the slide text, falling back to silence, and applies the
// requested speech rate.
func (s *Stage) narrate(ctx context.Context, job Job, slide core.Slide) (string, error) {
	text := slide.Text
	if s.deps.Normalizer != nil {
		text = s.deps.Normalizer.Normalize(job.Params.Language, text)
	}

	audioPath, err := s.deps.Speech.Synthesize(ctx, core.SpeechRequest{
		Text:            text,
		Language:        job.Params.Language,
		Gender:          job.Params.Gender,
		PreferredVoice:  job.Params.BuiltinVoice,
		VoiceMode:       job.Params.VoiceMode,
		ClonedVoiceName: job.Params.ClonedVoiceName,
		ClonedLanguage:  job.Params.ClonedLanguage,
		OutputDir:       job.SpeechDir(),
	})
	if err != nil || audioPath == "" {
		s.log.Warn("Slide %d: no narration, using %s of silence: %v", slide.Number, s.silence, err)

		audioPath = filepath.Join(job.Dir, fmt.Sprintf(silentTrackFormat, slide.Number))

		silenceErr := s.deps.Media.Silence(ctx, audioPath, s.silence)
		if silenceErr != nil {
			removeQuietly(s.log, audioPath)

			return "", fmt.Errorf("build silent track: %w", silenceErr)
		}
	}

	adjusted := s.deps.Media.AdjustTempo(ctx, audioPath, job.Params.SpeechRate)
	if adjusted != audioPath {
		removeQuietly(s.log, audioPath)
	}

	return adjusted, nil
}

func (s *Stage) duration(ctx context.Context, audioPath string) float64 {
	seconds, err := s.deps.Media.ProbeDuration(ctx, audioPath)
	if err != nil || seconds <= minNarrationSeconds {
		return fallbackNarrationSeconds
	}

	return seconds
}

func (s *Stage) skip(outcome SlideOutcome, err error) SlideOutcome {
	s.log.Warn("Slide %d skipped at %s: %v", outcome.Number, outcome.State, err)
	metrics.IncreaseSlidesMetric(metrics.OutcomeSkipped)

	outcome.State = SlideSkipped
	outcome.Err = err

	return outcome
}
