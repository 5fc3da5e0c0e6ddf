package media

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	tempoNoOpTolerance = 0.001
	tempoMaxFactor     = 2.0
	tempoMinFactor     = 0.5
)

// TempoChain decomposes rate into atempo factors that each lie in [0.5, 2.0] and whose
// product equals rate. Whole 2.0 or 0.5 steps are factored out first and the residual is
// appended last, so 4.0 becomes [2 2 1] and 0.2 becomes [0.5 0.5 0.8].
// A non-positive rate has no decomposition and yields nil.
func TempoChain(rate float64) []float64 {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return nil
	}

	var chain []float64

	residual := rate
	for residual >= tempoMaxFactor {
		chain = append(chain, tempoMaxFactor)
		residual /= tempoMaxFactor
	}

	for residual <= tempoMinFactor {
		chain = append(chain, tempoMinFactor)
		residual /= tempoMinFactor
	}

	return append(chain, residual)
}

// TempoFilter renders a chain as an ffmpeg audio filter expression. Factors are
// written in their shortest exact form so the rendered product still equals the rate.
func TempoFilter(chain []float64) string {
	parts := make([]string, 0, len(chain))
	for _, factor := range chain {
		parts = append(parts, "atempo="+strconv.FormatFloat(factor, 'g', -1, 64))
	}

	return strings.Join(parts, ",")
}

// TempoOutputPath names the re-timed copy of inputPath.
func TempoOutputPath(inputPath string, rate float64) string {
	ext := filepath.Ext(inputPath)
	base := strings.TrimSuffix(inputPath, ext)

	return fmt.Sprintf("%s_r%.2f%s", base, rate, ext)
}

// AdjustTempo rewrites the playback speed of an audio file and returns the new path.
// The input path is returned unchanged when rate is effectively 1.0, when the input
// does not exist, or when the transcoder fails.
func (f *FFmpeg) AdjustTempo(ctx context.Context, inputPath string, rate float64) string {
	if math.Abs(rate-1.0) < tempoNoOpTolerance {
		return inputPath
	}

	_, statErr := os.Stat(inputPath)
	if statErr != nil {
		return inputPath
	}

	chain := TempoChain(rate)
	if len(chain) == 0 {
		f.log.Warn("Ignoring invalid speech rate %f for %s", rate, inputPath)

		return inputPath
	}

	outputPath := TempoOutputPath(inputPath, rate)
	args := []string{"-y", "-i", inputPath, "-filter:a", TempoFilter(chain), "-vn", outputPath}

	_, runErr := run(ctx, f.runner, "tempo", f.cfg.FFmpegPath, args)
	if runErr != nil {
		f.log.Warn("Tempo adjustment failed, keeping original audio: %v", runErr)
		removeQuietly(outputPath)

		return inputPath
	}

	return outputPath
}

func removeQuietly(path string) {
	_ = os.Remove(path)
}
