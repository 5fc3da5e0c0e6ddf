// Package slides resolves the still image shown behind each narrated slide.
package slides

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	// Registered decoders for pre-rendered slide images.
	_ "image/jpeg"
	"image/png"
	"os"
	"strings"

	"github.com/book-expert/lecture-service/internal/config"
	"github.com/book-expert/lecture-service/internal/core"
	"github.com/book-expert/lecture-service/internal/fsutil"
	"github.com/book-expert/logger"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"
)

const (
	fontDPI = 72
	// Vertical budget per line used to centre the text block.
	blockLineHeight = 50
	cardMargin      = 40
)

// ErrSlideUnavailable is returned when neither the pre-rendered image nor a text card
// could be produced.
var ErrSlideUnavailable = errors.New("slide image unavailable")

// Preparer places a codec-friendly still for a slide at a caller-chosen path.
type Preparer struct {
	cfg  config.SlidesConfig
	face font.Face
	log  *logger.Logger
}

// NewPreparer loads the configured TrueType font, falling back to the built-in face.
func NewPreparer(cfg config.SlidesConfig, log *logger.Logger) *Preparer {
	face, faceErr := loadFace(cfg.FontPath, cfg.FontSize)
	if faceErr != nil {
		log.Warn("Using built-in font for text cards: %v", faceErr)

		face = basicfont.Face7x13
	}

	return &Preparer{cfg: cfg, face: face, log: log}
}

func loadFace(path string, size float64) (font.Face, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read font '%s': %w", path, err)
	}

	parsed, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font '%s': %w", path, err)
	}

	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{
		Size:    size,
		DPI:     fontDPI,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build font face '%s': %w", path, err)
	}

	return face, nil
}

// Prepare writes the slide's still to outPath with even width and height.
// A readable pre-rendered image is copied; otherwise a white card carrying the
// narration text is drawn.
func (p *Preparer) Prepare(ctx context.Context, slide core.Slide, outPath string) error {
	ctxErr := ctx.Err()
	if ctxErr != nil {
		return ctxErr
	}

	if slide.ImagePath != "" {
		copyErr := p.copyImage(slide.ImagePath, outPath)
		if copyErr == nil {
			return nil
		}

		p.log.Warn("Slide %d: pre-rendered image unusable, drawing text card: %v", slide.Number, copyErr)
	}

	cardErr := p.drawCard(slide.Text, outPath)
	if cardErr != nil {
		_ = os.Remove(outPath)

		return fmt.Errorf("%w: slide %d: %w", ErrSlideUnavailable, slide.Number, cardErr)
	}

	return nil
}

func (p *Preparer) copyImage(src, outPath string) error {
	copyErr := fsutil.CopyFile(src, outPath)
	if copyErr != nil {
		return copyErr
	}

	return EnsureEven(outPath)
}

func (p *Preparer) drawCard(text, outPath string) error {
	width, height := p.cfg.CardWidth, p.cfg.CardHeight

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)

	drawer := &font.Drawer{Dst: canvas, Src: image.Black, Face: p.face, Dot: fixed.Point26_6{}}
	lines := wrapLines(drawer, text, width-2*cardMargin)

	faceMetrics := p.face.Metrics()
	ascent := faceMetrics.Ascent.Ceil()
	textHeight := (faceMetrics.Ascent + faceMetrics.Descent).Ceil()

	y := height/2 - (len(lines)*blockLineHeight)/2
	for _, line := range lines {
		advance := drawer.MeasureString(line).Ceil()
		drawer.Dot = fixed.P((width-advance)/2, y+ascent)
		drawer.DrawString(line)

		y += textHeight + p.cfg.LineSpacing
	}

	return writePNG(outPath, evenCanvas(canvas))
}

// wrapLines splits text on newlines and then greedily on spaces so no line is wider
// than maxWidth, unless a single word already is.
func wrapLines(drawer *font.Drawer, text string, maxWidth int) []string {
	var lines []string

	for _, paragraph := range strings.Split(text, "\n") {
		words := strings.Fields(paragraph)
		if len(words) == 0 {
			lines = append(lines, "")

			continue
		}

		current := words[0]
		for _, word := range words[1:] {
			candidate := current + " " + word
			if drawer.MeasureString(candidate).Ceil() > maxWidth {
				lines = append(lines, current)
				current = word

				continue
			}

			current = candidate
		}

		lines = append(lines, current)
	}

	return lines
}

// EnsureEven pads the image at path with a white right/bottom border when either
// dimension is odd, keeping the content anchored at the top-left corner.
func EnsureEven(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open '%s': %w", path, err)
	}

	img, _, decodeErr := image.Decode(file)
	_ = file.Close()

	if decodeErr != nil {
		return fmt.Errorf("failed to decode '%s': %w", path, decodeErr)
	}

	bounds := img.Bounds()
	if bounds.Dx()%2 == 0 && bounds.Dy()%2 == 0 {
		return nil
	}

	return writePNG(path, evenCanvas(img))
}

func evenCanvas(img image.Image) image.Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	if width%2 == 0 && height%2 == 0 {
		return img
	}

	padded := image.NewRGBA(image.Rect(0, 0, width+width%2, height+height%2))
	draw.Draw(padded, padded.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(padded, image.Rect(0, 0, width, height), img, bounds.Min, draw.Src)

	return padded
}

func writePNG(path string, img image.Image) error {
	var buf bytes.Buffer

	encodeErr := png.Encode(&buf, img)
	if encodeErr != nil {
		return fmt.Errorf("failed to encode '%s': %w", path, encodeErr)
	}

	return fsutil.WriteFileAtomic(path, buf.Bytes())
}
