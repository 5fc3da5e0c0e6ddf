package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/lecture-service/internal/metrics"
)

// Concatenation errors.
var (
	ErrNoClips      = errors.New("no clips to concatenate")
	ErrConcatFailed = errors.New("both concatenation strategies failed")
)

// EscapeManifestPath quotes a path for the concat demuxer's single-quoted syntax.
func EscapeManifestPath(path string) string {
	return strings.ReplaceAll(path, "'", `'\''`)
}

// WriteManifest writes one "file '<abs path>'" line per clip, in order.
func WriteManifest(manifestPath string, clips []string) error {
	var builder strings.Builder

	for _, clip := range clips {
		absPath, err := filepath.Abs(clip)
		if err != nil {
			return fmt.Errorf("failed to resolve clip path '%s': %w", clip, err)
		}

		fmt.Fprintf(&builder, "file '%s'\n", EscapeManifestPath(absPath))
	}

	err := os.WriteFile(manifestPath, []byte(builder.String()), 0o600)
	if err != nil {
		return fmt.Errorf("failed to write concat manifest '%s': %w", manifestPath, err)
	}

	return nil
}

// BuildStreamCopyArgs joins the manifest entries without re-encoding.
func BuildStreamCopyArgs(manifestPath, outPath string) []string {
	return []string{"-y", "-f", "concat", "-safe", "0", "-i", manifestPath, "-c", "copy", outPath}
}

// BuildReencodeArgs decodes every clip and joins them through the concat filter.
func BuildReencodeArgs(clips []string, outPath string) []string {
	args := make([]string, 0, 2*len(clips)+16)
	args = append(args, "-y")

	var streams strings.Builder

	for index, clip := range clips {
		args = append(args, "-i", clip)
		fmt.Fprintf(&streams, "[%d:v][%d:a]", index, index)
	}

	filter := fmt.Sprintf("%sconcat=n=%d:v=1:a=1[v][a]", streams.String(), len(clips))

	return append(args,
		"-filter_complex", filter,
		"-map", "[v]",
		"-map", "[a]",
		"-c:v", "libx264",
		"-preset", softwarePreset,
		"-crf", "23",
		"-c:a", "aac",
		outPath,
	)
}

// Concat joins clips into outPath. Stream copy is tried first and a full re-encode is
// the fallback. Each strategy is a single subprocess, so no decoded clip outlives the
// call. A partial output file is removed when both strategies fail.
func (f *FFmpeg) Concat(ctx context.Context, clips []string, manifestPath, outPath string) error {
	if len(clips) == 0 {
		return ErrNoClips
	}

	manifestErr := WriteManifest(manifestPath, clips)
	if manifestErr != nil {
		return manifestErr
	}

	_, copyErr := run(ctx, f.runner, "concat-copy", f.cfg.FFmpegPath, BuildStreamCopyArgs(manifestPath, outPath))
	if copyErr == nil {
		return nil
	}

	metrics.IncreaseEncoderFallbacksMetric(metrics.OperationConcat)
	f.log.Warn("Stream-copy concatenation failed, re-encoding %d clips: %v", len(clips), copyErr)
	removeQuietly(outPath)

	_, encodeErr := run(ctx, f.runner, "concat-reencode", f.cfg.FFmpegPath, BuildReencodeArgs(clips, outPath))
	if encodeErr == nil {
		return nil
	}

	removeQuietly(outPath)

	return fmt.Errorf("%w: %w", ErrConcatFailed, errors.Join(copyErr, encodeErr))
}
