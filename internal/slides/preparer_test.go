package slides_test

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/lecture-service/internal/config"
	"github.com/book-expert/lecture-service/internal/core"
	"github.com/book-expert/lecture-service/internal/slides"
	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var marker = color.RGBA{R: 200, G: 10, B: 10, A: 255}

func newPreparer(t *testing.T, mutate func(cfg *config.SlidesConfig)) *slides.Preparer {
	t.Helper()

	var cfg config.Config
	cfg.ApplyDefaults()
	// A font path that does not exist exercises the built-in fallback face.
	cfg.Slides.FontPath = filepath.Join(t.TempDir(), "missing.ttf")

	if mutate != nil {
		mutate(&cfg.Slides)
	}

	log, err := logger.New(t.TempDir(), "slides-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	return slides.NewPreparer(cfg.Slides, log)
}

func writeMarkedPNG(t *testing.T, path string, width, height int) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.Set(x, y, marker)
		}
	}

	file, err := os.Create(path)
	require.NoError(t, err)

	defer func() { _ = file.Close() }()

	require.NoError(t, png.Encode(file, img))
}

func decode(t *testing.T, path string) image.Image {
	t.Helper()

	file, err := os.Open(path)
	require.NoError(t, err)

	defer func() { _ = file.Close() }()

	img, _, err := image.Decode(file)
	require.NoError(t, err)

	return img
}

func TestPrepare_CopiesEvenImage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "rendered.png")
	writeMarkedPNG(t, src, 640, 360)
	out := filepath.Join(dir, "slide_01.png")

	err := newPreparer(t, nil).Prepare(context.Background(), core.Slide{Number: 1, Text: "ignored", ImagePath: src}, out)
	require.NoError(t, err)

	srcBytes, err := os.ReadFile(src)
	require.NoError(t, err)
	outBytes, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, srcBytes, outBytes)
}

func TestPrepare_PadsOddDimensions(t *testing.T) {
	t.Parallel()

	sizes := [][2]int{{641, 360}, {640, 361}, {1, 1}, {1279, 719}, {3, 2}}

	for _, size := range sizes {
		dir := t.TempDir()
		src := filepath.Join(dir, "rendered.png")
		writeMarkedPNG(t, src, size[0], size[1])
		out := filepath.Join(dir, "slide_01.png")

		err := newPreparer(t, nil).Prepare(context.Background(), core.Slide{Number: 1, ImagePath: src}, out)
		require.NoError(t, err)

		img := decode(t, out)
		bounds := img.Bounds()
		assert.Equal(t, 0, bounds.Dx()%2, "width of %v", size)
		assert.Equal(t, 0, bounds.Dy()%2, "height of %v", size)
		assert.Equal(t, size[0]+size[0]%2, bounds.Dx())
		assert.Equal(t, size[1]+size[1]%2, bounds.Dy())

		r, g, b, _ := img.At(0, 0).RGBA()
		assert.Equal(t, uint32(marker.R)*0x101, r)
		assert.Equal(t, uint32(marker.G)*0x101, g)
		assert.Equal(t, uint32(marker.B)*0x101, b)

		if size[0]%2 == 1 {
			r, g, b, _ = img.At(bounds.Dx()-1, 0).RGBA()
			assert.Equal(t, []uint32{0xffff, 0xffff, 0xffff}, []uint32{r, g, b})
		}
	}
}

func TestPrepare_DrawsCardWithoutImage(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "slide_02.png")
	slide := core.Slide{Number: 2, Text: "Photosynthesis\nconverts light into chemical energy", ImagePath: ""}

	require.NoError(t, newPreparer(t, nil).Prepare(context.Background(), slide, out))

	img := decode(t, out)
	assert.Equal(t, 1280, img.Bounds().Dx())
	assert.Equal(t, 720, img.Bounds().Dy())

	r, g, b, _ := img.At(0, 0).RGBA()
	assert.Equal(t, []uint32{0xffff, 0xffff, 0xffff}, []uint32{r, g, b})
	assert.True(t, hasDarkPixel(img), "card should carry rendered text")
}

func TestPrepare_FallsBackToCardWhenImageMissing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	out := filepath.Join(dir, "slide_03.png")
	slide := core.Slide{Number: 3, Text: "fallback", ImagePath: filepath.Join(dir, "gone.png")}

	require.NoError(t, newPreparer(t, func(cfg *config.SlidesConfig) {
		cfg.CardWidth = 641
		cfg.CardHeight = 359
	}).Prepare(context.Background(), slide, out))

	img := decode(t, out)
	assert.Equal(t, 642, img.Bounds().Dx())
	assert.Equal(t, 360, img.Bounds().Dy())
}

func TestPrepare_FailsWhenOutputUnwritable(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "no-such-dir", "slide_04.png")

	err := newPreparer(t, nil).Prepare(context.Background(), core.Slide{Number: 4, Text: "x"}, out)
	require.ErrorIs(t, err, slides.ErrSlideUnavailable)
}

func TestEnsureEven_RejectsNonImage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "notes.png")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o600))

	require.Error(t, slides.EnsureEven(path))
}

func hasDarkPixel(img image.Image) bool {
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, _, _, _ := img.At(x, y).RGBA()
			if r < 0x8000 {
				return true
			}
		}
	}

	return false
}
