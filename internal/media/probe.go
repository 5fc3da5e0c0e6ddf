package media

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const silenceSampleRate = "24000"

// ErrToolMissing is returned by CheckTools when a binary cannot be found.
var ErrToolMissing = errors.New("required tool not found")

// ProbeDuration returns the container duration of a media file in seconds.
func (f *FFmpeg) ProbeDuration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	result, runErr := run(ctx, f.runner, "probe", f.cfg.FFprobePath, args)
	if runErr != nil {
		return 0, runErr
	}

	seconds, parseErr := strconv.ParseFloat(strings.TrimSpace(result.Stdout), 64)
	if parseErr != nil {
		return 0, fmt.Errorf("failed to parse duration of '%s': %w", path, parseErr)
	}

	return seconds, nil
}

// Silence writes a mono PCM track of the given length.
func (f *FFmpeg) Silence(ctx context.Context, outPath string, length time.Duration) error {
	args := []string{
		"-y",
		"-f", "lavfi",
		"-i", "anullsrc=r=" + silenceSampleRate + ":cl=mono",
		"-t", strconv.FormatFloat(length.Seconds(), 'f', 3, 64),
		"-acodec", "pcm_s16le",
		outPath,
	}

	_, runErr := run(ctx, f.runner, "silence", f.cfg.FFmpegPath, args)
	if runErr != nil {
		removeQuietly(outPath)

		return runErr
	}

	return nil
}

// CheckTools verifies that the configured transcoder binaries are resolvable.
func (f *FFmpeg) CheckTools() error {
	var missing []error

	for _, tool := range []string{f.cfg.FFmpegPath, f.cfg.FFprobePath} {
		_, lookErr := exec.LookPath(tool)
		if lookErr != nil {
			missing = append(missing, fmt.Errorf("%w: %s: %w", ErrToolMissing, tool, lookErr))
		}
	}

	return errors.Join(missing...)
}
