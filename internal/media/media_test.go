package media_test

import (
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/lecture-service/internal/config"
	"github.com/book-expert/lecture-service/internal/media"
	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errExit = errors.New("exit status 1")

// fakeRunner records invocations and delegates outcomes to an injected function.
type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	run   func(call int, name string, args []string) (media.CommandResult, error)
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (media.CommandResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	call := len(f.calls)
	f.mu.Unlock()

	if f.run == nil {
		return media.CommandResult{}, nil
	}

	return f.run(call, name, args)
}

func (f *fakeRunner) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

func newTestFFmpeg(t *testing.T, runner media.Runner, mutate func(cfg *config.MediaConfig)) *media.FFmpeg {
	t.Helper()

	var cfg config.Config
	cfg.ApplyDefaults()

	if mutate != nil {
		mutate(&cfg.Media)
	}

	log, err := logger.New(t.TempDir(), "media-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	return media.New(cfg.Media, log, media.WithRunner(runner))
}

func writePNG(t *testing.T, path string, width, height int) {
	t.Helper()

	file, err := os.Create(path)
	require.NoError(t, err)

	defer func() { _ = file.Close() }()

	require.NoError(t, png.Encode(file, image.NewRGBA(image.Rect(0, 0, width, height))))
}

func touch(t *testing.T, path string) {
	t.Helper()

	require.NoError(t, os.WriteFile(path, []byte("media"), 0o600))
}

func argValue(args []string, key string) string {
	for index := 0; index < len(args)-1; index++ {
		if args[index] == key {
			return args[index+1]
		}
	}

	return ""
}

func TestTempoChain_ProductMatchesRate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		rate float64
		want []float64
	}{
		{rate: 4.0, want: []float64{2, 2, 1}},
		{rate: 0.2, want: []float64{0.5, 0.5, 0.8}},
		{rate: 1.5, want: []float64{1.5}},
		{rate: 2.0, want: []float64{2, 1}},
		{rate: 0.5, want: []float64{0.5, 1}},
		{rate: 8.3, want: nil},
		{rate: 0.03, want: nil},
	}

	for _, tc := range testCases {
		chain := media.TempoChain(tc.rate)
		require.NotEmpty(t, chain)

		product := 1.0
		for _, factor := range chain {
			assert.GreaterOrEqual(t, factor, 0.5)
			assert.LessOrEqual(t, factor, 2.0)

			product *= factor
		}

		assert.InEpsilon(t, tc.rate, product, 1e-9)

		if tc.want != nil {
			require.Len(t, chain, len(tc.want))

			for index := range tc.want {
				assert.InEpsilon(t, tc.want[index], chain[index], 1e-9)
			}
		}
	}

	assert.Nil(t, media.TempoChain(0))
	assert.Nil(t, media.TempoChain(-1))
}

func TestTempoFilterAndOutputPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "atempo=2,atempo=2,atempo=1", media.TempoFilter(media.TempoChain(4)))
	assert.Equal(t, "atempo=2,atempo=2,atempo=2,atempo=1.0375", media.TempoFilter(media.TempoChain(8.3)))
	assert.Equal(t, "/tmp/job/slide_01_r1.25.wav", media.TempoOutputPath("/tmp/job/slide_01.wav", 1.25))
}

func TestTempoFilter_RenderedProductMatchesRate(t *testing.T) {
	t.Parallel()

	for _, rate := range []float64{8.3, 0.03, 1.37, 3.3333, 0.77} {
		product := 1.0

		for _, part := range strings.Split(media.TempoFilter(media.TempoChain(rate)), ",") {
			factor, err := strconv.ParseFloat(strings.TrimPrefix(part, "atempo="), 64)
			require.NoError(t, err)

			product *= factor
		}

		assert.InEpsilon(t, rate, product, 1e-9, "rate %v", rate)
	}
}

func TestAdjustTempo_NoOpCases(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	ffmpeg := newTestFFmpeg(t, runner, nil)
	dir := t.TempDir()
	input := filepath.Join(dir, "speech.wav")
	touch(t, input)

	assert.Equal(t, input, ffmpeg.AdjustTempo(context.Background(), input, 1.0004))
	assert.Equal(t, filepath.Join(dir, "missing.wav"),
		ffmpeg.AdjustTempo(context.Background(), filepath.Join(dir, "missing.wav"), 1.5))
	assert.Equal(t, input, ffmpeg.AdjustTempo(context.Background(), input, -2))
	assert.Empty(t, runner.Calls())
}

func TestAdjustTempo_Success(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{
		run: func(_ int, _ string, args []string) (media.CommandResult, error) {
			touch(t, args[len(args)-1])

			return media.CommandResult{}, nil
		},
	}
	ffmpeg := newTestFFmpeg(t, runner, nil)
	input := filepath.Join(t.TempDir(), "speech.wav")
	touch(t, input)

	output := ffmpeg.AdjustTempo(context.Background(), input, 4.0)

	assert.Equal(t, media.TempoOutputPath(input, 4.0), output)
	require.Len(t, runner.Calls(), 1)
	assert.Equal(t, "ffmpeg", runner.Calls()[0][0])
	assert.Equal(t, "atempo=2,atempo=2,atempo=1", argValue(runner.Calls()[0], "-filter:a"))
}

func TestAdjustTempo_FailureKeepsInput(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{
		run: func(_ int, _ string, _ []string) (media.CommandResult, error) {
			return media.CommandResult{ExitCode: 1, Stderr: "bad filter"}, errExit
		},
	}
	ffmpeg := newTestFFmpeg(t, runner, nil)
	input := filepath.Join(t.TempDir(), "speech.wav")
	touch(t, input)

	assert.Equal(t, input, ffmpeg.AdjustTempo(context.Background(), input, 0.8))
}

func TestOverlay_RejectsOddBackground(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	ffmpeg := newTestFFmpeg(t, runner, nil)
	dir := t.TempDir()
	background := filepath.Join(dir, "slide_01.png")
	writePNG(t, background, 641, 480)

	err := ffmpeg.Overlay(context.Background(), media.OverlayRequest{
		Background: background,
		Face:       filepath.Join(dir, "face.mp4"),
		Audio:      "",
		Output:     filepath.Join(dir, "slide_001.mp4"),
	})

	require.ErrorIs(t, err, media.ErrOddDimensions)
	assert.Empty(t, runner.Calls())
}

func TestOverlay_FallsBackToSoftwareEncoder(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{
		run: func(call int, _ string, _ []string) (media.CommandResult, error) {
			if call == 1 {
				return media.CommandResult{ExitCode: 1, Stderr: "No NVENC capable devices found"}, errExit
			}

			return media.CommandResult{}, nil
		},
	}
	ffmpeg := newTestFFmpeg(t, runner, nil)
	dir := t.TempDir()
	background := filepath.Join(dir, "slide_01.png")
	writePNG(t, background, 1280, 720)

	err := ffmpeg.Overlay(context.Background(), media.OverlayRequest{
		Background: background,
		Face:       filepath.Join(dir, "face.mp4"),
		Audio:      filepath.Join(dir, "speech.wav"),
		Output:     filepath.Join(dir, "slide_001.mp4"),
	})
	require.NoError(t, err)

	calls := runner.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "h264_nvenc", argValue(calls[0], "-c:v"))
	assert.Equal(t, "p5", argValue(calls[0], "-preset"))
	assert.Equal(t, "libx264", argValue(calls[1], "-c:v"))
	assert.Equal(t, "ultrafast", argValue(calls[1], "-preset"))
	assert.Equal(t, "25", argValue(calls[1], "-r"))
	assert.Contains(t, argValue(calls[1], "-filter_complex"), "scale=128:-2:flags=lanczos")
	assert.Contains(t, argValue(calls[1], "-filter_complex"), "overlay=W-w-50:50")
	assert.Contains(t, calls[1], "2:a")
}

func TestOverlay_SoftwareOnlyFailureSurfaces(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{
		run: func(_ int, _ string, _ []string) (media.CommandResult, error) {
			return media.CommandResult{ExitCode: 1, Stderr: "broken pipe"}, errExit
		},
	}
	ffmpeg := newTestFFmpeg(t, runner, func(cfg *config.MediaConfig) { cfg.SoftwareOnly = true })
	dir := t.TempDir()
	background := filepath.Join(dir, "slide_01.png")
	writePNG(t, background, 640, 480)

	err := ffmpeg.Overlay(context.Background(), media.OverlayRequest{
		Background: background,
		Face:       filepath.Join(dir, "face.mp4"),
		Audio:      "",
		Output:     filepath.Join(dir, "slide_001.mp4"),
	})

	var cmdErr *media.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "overlay", cmdErr.Operation)
	assert.Equal(t, "broken pipe", cmdErr.CommandLog.Stderr)
	require.Len(t, runner.Calls(), 1)
	assert.NotContains(t, runner.Calls()[0], "2:a")
}

func TestFaceWidth(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 128, media.FaceWidth(1280, 0.10))
	assert.Equal(t, 64, media.FaceWidth(650, 0.10))
	assert.Equal(t, 2, media.FaceWidth(10, 0.10))
}

func TestWriteManifest_EscapesQuotes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	manifest := filepath.Join(dir, "concat_list.txt")
	clips := []string{filepath.Join(dir, "slide_001.mp4"), filepath.Join(dir, "it's", "slide_003.mp4")}

	require.NoError(t, media.WriteManifest(manifest, clips))

	data, err := os.ReadFile(manifest)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "file '"+clips[0]+"'", lines[0])
	assert.Equal(t, "file '"+filepath.Join(dir, `it'\''s`, "slide_003.mp4")+"'", lines[1])
}

func TestConcat_StreamCopy(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	ffmpeg := newTestFFmpeg(t, runner, nil)
	dir := t.TempDir()

	err := ffmpeg.Concat(context.Background(),
		[]string{filepath.Join(dir, "a.mp4"), filepath.Join(dir, "b.mp4")},
		filepath.Join(dir, "concat_list.txt"),
		filepath.Join(dir, "lecture_final.mp4"))
	require.NoError(t, err)

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "copy", argValue(calls[0], "-c"))
	assert.Equal(t, "concat", argValue(calls[0], "-f"))
}

func TestConcat_FallsBackToReencode(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{
		run: func(call int, _ string, _ []string) (media.CommandResult, error) {
			if call == 1 {
				return media.CommandResult{ExitCode: 1}, errExit
			}

			return media.CommandResult{}, nil
		},
	}
	ffmpeg := newTestFFmpeg(t, runner, nil)
	dir := t.TempDir()

	err := ffmpeg.Concat(context.Background(),
		[]string{filepath.Join(dir, "a.mp4"), filepath.Join(dir, "b.mp4")},
		filepath.Join(dir, "concat_list.txt"),
		filepath.Join(dir, "lecture_final.mp4"))
	require.NoError(t, err)

	calls := runner.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "[0:v][0:a][1:v][1:a]concat=n=2:v=1:a=1[v][a]", argValue(calls[1], "-filter_complex"))
	assert.Equal(t, "23", argValue(calls[1], "-crf"))
	assert.Equal(t, "aac", argValue(calls[1], "-c:a"))
}

func TestConcat_BothStrategiesFailRemovesOutput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	output := filepath.Join(dir, "lecture_final.mp4")
	runner := &fakeRunner{
		run: func(_ int, _ string, args []string) (media.CommandResult, error) {
			touch(t, args[len(args)-1])

			return media.CommandResult{ExitCode: 1}, errExit
		},
	}
	ffmpeg := newTestFFmpeg(t, runner, nil)

	err := ffmpeg.Concat(context.Background(),
		[]string{filepath.Join(dir, "a.mp4")},
		filepath.Join(dir, "concat_list.txt"),
		output)

	require.ErrorIs(t, err, media.ErrConcatFailed)
	assert.NoFileExists(t, output)
}

func TestConcat_NoClips(t *testing.T) {
	t.Parallel()

	ffmpeg := newTestFFmpeg(t, &fakeRunner{}, nil)
	dir := t.TempDir()

	err := ffmpeg.Concat(context.Background(), nil, filepath.Join(dir, "list.txt"), filepath.Join(dir, "out.mp4"))
	require.ErrorIs(t, err, media.ErrNoClips)
}

func TestProbeDuration(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{
		run: func(_ int, name string, _ []string) (media.CommandResult, error) {
			if name != "ffprobe" {
				return media.CommandResult{}, errExit
			}

			return media.CommandResult{Stdout: "4.520000\n"}, nil
		},
	}
	ffmpeg := newTestFFmpeg(t, runner, nil)

	seconds, err := ffmpeg.ProbeDuration(context.Background(), "speech.wav")
	require.NoError(t, err)
	assert.InEpsilon(t, 4.52, seconds, 1e-9)
}

func TestProbeDuration_Unparseable(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{
		run: func(_ int, _ string, _ []string) (media.CommandResult, error) {
			return media.CommandResult{Stdout: "N/A"}, nil
		},
	}
	ffmpeg := newTestFFmpeg(t, runner, nil)

	_, err := ffmpeg.ProbeDuration(context.Background(), "speech.wav")
	require.Error(t, err)
}

func TestSilence(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	ffmpeg := newTestFFmpeg(t, runner, nil)

	require.NoError(t, ffmpeg.Silence(context.Background(), "silence.wav", 3*time.Second))

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "3.000", argValue(calls[0], "-t"))
	assert.Equal(t, "anullsrc=r=24000:cl=mono", argValue(calls[0], "-i"))
}
