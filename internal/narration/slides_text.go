package narration

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/book-expert/lecture-service/internal/core"
)

// slideHeaderPattern matches "## Slide 3", "Slide 3:" and similar header lines.
var slideHeaderPattern = regexp.MustCompile(`(?im)^\s*(?:#+\s*)?slide\s+(\d+)\s*:?\s*$`)

// ParseSlidesText splits edited slides text into slides ordered by number.
// Text without any header becomes a single slide 1; blank text yields no slides.
func ParseSlidesText(text string) []core.Slide {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return nil
	}

	matches := slideHeaderPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return []core.Slide{{Number: 1, Text: strings.TrimSpace(text), ImagePath: "", HasMath: false}}
	}

	slides := make([]core.Slide, 0, len(matches))

	for index, match := range matches {
		end := len(text)
		if index+1 < len(matches) {
			end = matches[index+1][0]
		}

		number, err := strconv.Atoi(text[match[2]:match[3]])
		if err != nil {
			continue
		}

		slides = append(slides, core.Slide{
			Number:    number,
			Text:      strings.TrimSpace(text[match[1]:end]),
			ImagePath: "",
			HasMath:   false,
		})
	}

	sort.SliceStable(slides, func(i, j int) bool { return slides[i].Number < slides[j].Number })

	return slides
}

// FormatSlidesText renders slides in the form ParseSlidesText reads back.
func FormatSlidesText(slides []core.Slide) string {
	var builder strings.Builder

	for _, slide := range slides {
		fmt.Fprintf(&builder, "## Slide %d\n%s\n\n", slide.Number, strings.TrimSpace(slide.Text))
	}

	return strings.TrimSpace(builder.String())
}

// MergeWithImages pairs user-edited narration with the images extracted from the deck.
// An image is matched by slide number first and by position second. When either list
// is empty the other is returned unchanged.
func MergeWithImages(userSlides, deckSlides []core.Slide) []core.Slide {
	if len(userSlides) == 0 {
		return deckSlides
	}

	if len(deckSlides) == 0 {
		return userSlides
	}

	byNumber := make(map[int]core.Slide, len(deckSlides))
	for _, slide := range deckSlides {
		byNumber[slide.Number] = slide
	}

	merged := make([]core.Slide, 0, len(userSlides))

	for index, userSlide := range userSlides {
		deckSlide, found := byNumber[userSlide.Number]
		if !found && index < len(deckSlides) {
			deckSlide, found = deckSlides[index], true
		}

		result := userSlide
		if found {
			result.ImagePath = deckSlide.ImagePath
			result.HasMath = deckSlide.HasMath
		}

		merged = append(merged, result)
	}

	return merged
}
