// Package talkinghead drives the external face-animation model and the retry policy
// wrapped around it.
package talkinghead

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/lecture-service/internal/config"
	"github.com/book-expert/lecture-service/internal/core"
	"github.com/book-expert/lecture-service/internal/fsutil"
	"github.com/book-expert/lecture-service/internal/media"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
)

const (
	videoExt      = ".mp4"
	enhancerName  = "gfpgan"
	inputsDirName = "inputs"
	resultDirName = "result"
)

// ErrNoVideo is returned when the model exits cleanly without producing a clip.
var ErrNoVideo = errors.New("talking-head model produced no video")

// Markers the model prints to stderr when the accelerator runs out of memory.
var exhaustionMarkers = []string{
	"CUDA out of memory",
	"OutOfMemoryError",
	"CUBLAS_STATUS_ALLOC_FAILED",
}

// CommandGenerator runs the face-animation model as a subprocess.
// Each call works in its own uuid-named directory below the request's WorkDir.
type CommandGenerator struct {
	command    string
	args       []string
	scratchDir string
	runner     media.Runner
	log        *logger.Logger
}

// GeneratorOption customizes a CommandGenerator.
type GeneratorOption func(*CommandGenerator)

// WithRunner replaces the process runner, mainly for tests.
func WithRunner(runner media.Runner) GeneratorOption {
	return func(g *CommandGenerator) {
		g.runner = runner
	}
}

// NewCommandGenerator creates a generator for the configured model command.
// scratchDir is used when a request carries no WorkDir.
func NewCommandGenerator(
	cfg config.TalkingHeadConfig,
	scratchDir string,
	log *logger.Logger,
	opts ...GeneratorOption,
) *CommandGenerator {
	generator := &CommandGenerator{
		command:    cfg.Command,
		args:       cfg.Args,
		scratchDir: scratchDir,
		runner:     media.ExecRunner{},
		log:        log,
	}

	for _, opt := range opts {
		opt(generator)
	}

	return generator
}

// Generate animates req.SourceImage with req.AudioPath and returns a silent clip placed
// directly in the work root. The per-call directory is always removed.
func (g *CommandGenerator) Generate(ctx context.Context, req core.FaceRequest) (string, error) {
	workRoot := req.WorkDir
	if workRoot == "" {
		workRoot = g.scratchDir
	}

	callID := uuid.NewString()
	callDir := filepath.Join(workRoot, callID)

	defer func() {
		removeErr := os.RemoveAll(callDir)
		if removeErr != nil {
			g.log.Warn("Failed to remove face work dir '%s': %v", callDir, removeErr)
		}
	}()

	sourceCopy, audioCopy, stageErr := stageInputs(callDir, req)
	if stageErr != nil {
		return "", stageErr
	}

	resultDir := filepath.Join(callDir, resultDirName)

	dirErr := fsutil.EnsureDir(resultDir)
	if dirErr != nil {
		return "", dirErr
	}

	args := BuildArgs(g.args, req, sourceCopy, audioCopy, resultDir)

	result, runErr := g.runner.Run(ctx, g.command, args...)
	if runErr != nil {
		if IsExhausted(result.Stderr) {
			return "", fmt.Errorf("%w: batch size %d: %w", core.ErrResourceExhausted, req.BatchSize, runErr)
		}

		return "", fmt.Errorf("talking-head model failed (exit=%d): %w", result.ExitCode, runErr)
	}

	clip, findErr := newestVideo(resultDir)
	if findErr != nil {
		return "", findErr
	}

	finalPath := filepath.Join(workRoot, callID+videoExt)

	renameErr := os.Rename(clip, finalPath)
	if renameErr != nil {
		return "", fmt.Errorf("failed to move face clip '%s': %w", clip, renameErr)
	}

	return finalPath, nil
}

// stageInputs copies the inputs into the call directory because the model may move or
// rewrite the files it is given.
func stageInputs(callDir string, req core.FaceRequest) (string, string, error) {
	inputsDir := filepath.Join(callDir, inputsDirName)

	dirErr := fsutil.EnsureDir(inputsDir)
	if dirErr != nil {
		return "", "", dirErr
	}

	sourceCopy := filepath.Join(inputsDir, filepath.Base(req.SourceImage))

	copyErr := fsutil.CopyFile(req.SourceImage, sourceCopy)
	if copyErr != nil {
		return "", "", copyErr
	}

	audioCopy := filepath.Join(inputsDir, filepath.Base(req.AudioPath))

	copyErr = fsutil.CopyFile(req.AudioPath, audioCopy)
	if copyErr != nil {
		return "", "", copyErr
	}

	return sourceCopy, audioCopy, nil
}

// BuildArgs appends the per-request model flags to the configured base arguments.
func BuildArgs(base []string, req core.FaceRequest, source, audio, resultDir string) []string {
	args := make([]string, 0, len(base)+18)
	args = append(args, base...)
	args = append(args,
		"--source_image", source,
		"--driven_audio", audio,
		"--result_dir", resultDir,
		"--preprocess", req.PreprocessMode,
		"--batch_size", strconv.Itoa(req.BatchSize),
		"--size", strconv.Itoa(req.ImageSize),
		"--pose_style", strconv.Itoa(req.PoseStyle),
	)

	if req.StillMode {
		args = append(args, "--still")
	}

	if req.Enhancer {
		args = append(args, "--enhancer", enhancerName)
	}

	return args
}

// IsExhausted reports whether model stderr signals accelerator memory exhaustion.
func IsExhausted(stderr string) bool {
	for _, marker := range exhaustionMarkers {
		if strings.Contains(stderr, marker) {
			return true
		}
	}

	return false
}

func newestVideo(dir string) (string, error) {
	var (
		newest   string
		newestAt time.Time
	)

	walkErr := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if entry.IsDir() || !strings.EqualFold(filepath.Ext(path), videoExt) {
			return nil
		}

		info, infoErr := entry.Info()
		if infoErr != nil {
			return infoErr
		}

		if newest == "" || info.ModTime().After(newestAt) {
			newest = path
			newestAt = info.ModTime()
		}

		return nil
	})
	if walkErr != nil {
		return "", fmt.Errorf("failed to scan '%s': %w", dir, walkErr)
	}

	if newest == "" {
		return "", ErrNoVideo
	}

	return newest, nil
}
