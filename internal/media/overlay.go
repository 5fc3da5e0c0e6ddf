package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	// Registered decoders for the background stills.
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strconv"

	"github.com/book-expert/lecture-service/internal/metrics"
)

const (
	hardwarePreset = "p5"
	softwarePreset = "ultrafast"
	minFaceWidth   = 2
)

// Overlay errors.
var (
	ErrOddDimensions = errors.New("background image dimensions must be even")
	ErrNoEncoder     = errors.New("no video encoder configured")
)

// OverlayRequest describes one picture-in-picture composition.
type OverlayRequest struct {
	Background string
	Face       string
	// Audio is muxed into the clip when set; the face clip itself is silent.
	Audio  string
	Output string
}

// Overlay composites the face clip over the top-right corner of the background still.
// The hardware encoder is tried first; when it fails the composition is retried once
// with the software encoder.
func (f *FFmpeg) Overlay(ctx context.Context, req OverlayRequest) error {
	width, height, dimErr := ImageDimensions(req.Background)
	if dimErr != nil {
		return dimErr
	}

	if width%2 != 0 || height%2 != 0 {
		return fmt.Errorf("%w: %s is %dx%d", ErrOddDimensions, req.Background, width, height)
	}

	encoders := f.encoders()
	if len(encoders) == 0 {
		return ErrNoEncoder
	}

	var lastErr error

	for index, encoder := range encoders {
		if index > 0 {
			metrics.IncreaseEncoderFallbacksMetric(metrics.OperationOverlay)
			f.log.Warn("Encoder %s failed, retrying overlay with %s: %v", encoders[index-1], encoder, lastErr)
		}

		args := BuildOverlayArgs(req, width, f.cfg.PIPRatio, f.cfg.PIPMargin, f.cfg.PIPFPS, encoder, f.presetFor(encoder))

		_, runErr := run(ctx, f.runner, "overlay", f.cfg.FFmpegPath, args)
		if runErr == nil {
			return nil
		}

		removeQuietly(req.Output)

		lastErr = runErr
	}

	return lastErr
}

func (f *FFmpeg) encoders() []string {
	var encoders []string

	if !f.cfg.SoftwareOnly && f.cfg.HardwareEncoder != "" {
		encoders = append(encoders, f.cfg.HardwareEncoder)
	}

	if f.cfg.SoftwareEncoder != "" && f.cfg.SoftwareEncoder != f.cfg.HardwareEncoder {
		encoders = append(encoders, f.cfg.SoftwareEncoder)
	}

	return encoders
}

func (f *FFmpeg) presetFor(encoder string) string {
	if encoder == f.cfg.HardwareEncoder {
		return hardwarePreset
	}

	return softwarePreset
}

// FaceWidth returns the even pixel width of the inset for a background of the given width.
func FaceWidth(backgroundWidth int, ratio float64) int {
	width := int(float64(backgroundWidth) * ratio)
	width -= width % 2

	if width < minFaceWidth {
		return minFaceWidth
	}

	return width
}

// OverlayFilter builds the filter graph that pads the background, scales the face and
// places it margin pixels from the top-right corner.
func OverlayFilter(faceWidth, margin int) string {
	return fmt.Sprintf(
		"[0:v]pad=ceil(iw/2)*2:ceil(ih/2)*2[bg];"+
			"[1:v]scale=%d:-2:flags=lanczos[face];"+
			"[bg][face]overlay=W-w-%d:%d:shortest=1,format=yuv420p[vout]",
		faceWidth, margin, margin,
	)
}

// BuildOverlayArgs builds the ffmpeg arguments of one overlay attempt.
func BuildOverlayArgs(
	req OverlayRequest,
	backgroundWidth int,
	ratio float64,
	margin, fps int,
	encoder, preset string,
) []string {
	args := []string{"-y", "-loop", "1", "-i", req.Background, "-i", req.Face}
	if req.Audio != "" {
		args = append(args, "-i", req.Audio)
	}

	args = append(args,
		"-filter_complex", OverlayFilter(FaceWidth(backgroundWidth, ratio), margin),
		"-map", "[vout]",
	)

	if req.Audio != "" {
		args = append(args, "-map", "2:a", "-c:a", "aac")
	}

	return append(args,
		"-c:v", encoder,
		"-preset", preset,
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(fps),
		"-shortest",
		req.Output,
	)
}

// ImageDimensions reads the pixel size of an image without decoding it fully.
func ImageDimensions(path string) (int, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open image '%s': %w", path, err)
	}

	defer func() { _ = file.Close() }()

	cfg, _, err := image.DecodeConfig(file)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read image header '%s': %w", path, err)
	}

	return cfg.Width, cfg.Height, nil
}
