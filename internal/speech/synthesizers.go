package speech

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/lecture-service/internal/config"
	"github.com/book-expert/lecture-service/internal/core"
	"github.com/book-expert/lecture-service/internal/fsutil"
	"github.com/book-expert/lecture-service/internal/media"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
)

const (
	audioFilePermissions = 0o600
	outputFilePrefix     = "speech_"
)

// HTTPSynthesizer implements core.SpeechSynthesizer with an HTTPClient.
type HTTPSynthesizer struct {
	client      *HTTPClient
	clones      *CloneLibrary
	temperature float64
	log         *logger.Logger
}

// NewHTTPSynthesizer creates a synthesizer for the configured service.
func NewHTTPSynthesizer(cfg config.SpeechConfig, clones *CloneLibrary, log *logger.Logger) *HTTPSynthesizer {
	return NewHTTPSynthesizerWithClient(
		NewHTTPClient(cfg.ServiceURL, cfg.Timeout()),
		clones,
		cfg.Temperature,
		log,
	)
}

// NewHTTPSynthesizerWithClient creates a synthesizer around an existing client.
func NewHTTPSynthesizerWithClient(
	client *HTTPClient,
	clones *CloneLibrary,
	temperature float64,
	log *logger.Logger,
) *HTTPSynthesizer {
	return &HTTPSynthesizer{
		client:      client,
		clones:      clones,
		temperature: temperature,
		log:         log,
	}
}

// Synthesize implements core.SpeechSynthesizer.
func (s *HTTPSynthesizer) Synthesize(ctx context.Context, req core.SpeechRequest) (string, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", ErrTextEmpty
	}

	choice := choose(req, s.clones, s.log)

	audio, err := s.client.GenerateSpeech(ctx, Request{
		Text:           text,
		SpeakerRefPath: choice.ReferencePath,
		Voice:          choice.Voice,
		Language:       choice.Language,
		Temperature:    s.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate speech: %w", err)
	}

	return writeAudio(req.OutputDir, audio.Extension, audio.Data)
}

// CommandSynthesizer implements core.SpeechSynthesizer by running a local TTS binary
// that exports a WAV file (chatllm by default).
type CommandSynthesizer struct {
	command     string
	modelPath   string
	temperature float64
	clones      *CloneLibrary
	runner      media.Runner
	log         *logger.Logger
}

// NewCommandSynthesizer creates a command synthesizer. A nil runner uses os/exec. The
// model is looked up as given, under ./models and under the cache directory.
func NewCommandSynthesizer(
	cfg config.SpeechConfig,
	clones *CloneLibrary,
	runner media.Runner,
	log *logger.Logger,
) *CommandSynthesizer {
	if runner == nil {
		runner = media.ExecRunner{}
	}

	modelPath := cfg.ModelPath
	if modelPath != "" {
		resolved, err := fsutil.ResolveModelPath(modelPath)
		if err != nil {
			log.Warn("Speech model %q not found locally, passing it through: %v", modelPath, err)
		} else {
			modelPath = resolved
		}
	}

	return &CommandSynthesizer{
		command:     cfg.CommandPath,
		modelPath:   modelPath,
		temperature: cfg.Temperature,
		clones:      clones,
		runner:      runner,
		log:         log,
	}
}

// BuildCommandArgs returns the argument list of one command invocation.
func BuildCommandArgs(modelPath, voice, text, outPath string, temperature float64) []string {
	return []string{
		"-m", modelPath,
		"-p", fmt.Sprintf("{%s}: %s", voice, text),
		"--tts_export", outPath,
		"--temp", fmt.Sprintf("%.2f", temperature),
	}
}

// Synthesize implements core.SpeechSynthesizer.
func (s *CommandSynthesizer) Synthesize(ctx context.Context, req core.SpeechRequest) (string, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", ErrTextEmpty
	}

	choice := choose(req, s.clones, s.log)

	outPath, err := newOutputPath(req.OutputDir, ".wav")
	if err != nil {
		return "", err
	}

	voice := choice.Voice
	if choice.Cloned() {
		voice = choice.ReferencePath
	}

	args := BuildCommandArgs(s.modelPath, voice, text, outPath, s.temperature)

	result, err := s.runner.Run(ctx, s.command, args...)
	if err != nil {
		_ = os.Remove(outPath)

		return "", &media.CommandError{
			Operation: "synthesize",
			CommandLog: media.CommandLog{
				Command:  s.command,
				Args:     args,
				ExitCode: result.ExitCode,
				Stderr:   result.Stderr,
			},
			Err: err,
		}
	}

	if !fsutil.FileExists(outPath) {
		return "", fmt.Errorf("%w: %s wrote no audio", ErrReceivedEmptyAudio, s.command)
	}

	return outPath, nil
}

// choose resolves the voice and logs a clone fallback.
func choose(req core.SpeechRequest, clones *CloneLibrary, log *logger.Logger) Choice {
	choice, fallbackErr := Choose(req, clones)
	if fallbackErr != nil {
		log.Warn("Cloned voice %q unavailable: %v", req.ClonedVoiceName, fallbackErr)
	}

	return choice
}

func newOutputPath(dir, extension string) (string, error) {
	err := fsutil.EnsureDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to create speech output directory: %w", err)
	}

	return filepath.Join(dir, outputFilePrefix+uuid.NewString()+extension), nil
}

func writeAudio(dir, extension string, data []byte) (string, error) {
	outPath, err := newOutputPath(dir, extension)
	if err != nil {
		return "", err
	}

	err = os.WriteFile(outPath, data, audioFilePermissions)
	if err != nil {
		return "", fmt.Errorf("failed to write audio file: %w", err)
	}

	return outPath, nil
}
