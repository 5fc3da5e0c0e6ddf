// Package narration prepares slide text for speech synthesis.
//
// It parses the user-supplied slides text into per-slide narration, merges it with the
// images extracted from a deck, and cleans each narration before it reaches a speech
// backend.
package narration

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	numberBaseTen      = 10
	numberBaseTwenty   = 20
	numberBaseHundred  = 100
	numberBaseThousand = 1000
	// MaxNumberForWords is the largest integer spelled out in words.
	MaxNumberForWords = 999999
)

// collapsibleMarks are the sentence marks reduced to one when repeated.
const collapsibleMarks = ",!?;:"

// LanguageEnglish is the only language that receives full normalization.
const LanguageEnglish = "en"

// Regex patterns for text normalization.
const (
	urlRegexPattern        = `https?://\S+`
	emailRegexPattern      = `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`
	numberRegexPattern     = `\b\d+\b`
	referenceRegexPattern  = `(?:\[\d+\]|[¹²³⁴⁵⁶⁷⁸⁹⁰]+)`
	citationRegexPattern   = `\([^)]*\d{4}[^)]*\)|\b\w+\s+et\s+al\.`
	whitespaceRegexPattern = `\s+`
	looseStopRegexPattern  = `\s+([.,!?;:])`
)

// Normalizer cleans narration text. English text gets abbreviation expansion, numbers
// spelled out and citations removed; every language gets whitespace, quote and dash
// cleanup plus a closing sentence mark.
type Normalizer struct {
	urlPattern           *regexp.Regexp
	emailPattern         *regexp.Regexp
	numberPattern        *regexp.Regexp
	referencePattern     *regexp.Regexp
	citationPattern      *regexp.Regexp
	whitespacePattern    *regexp.Regexp
	looseStopPattern     *regexp.Regexp
	abbreviationReplacer *strings.Replacer
	punctuationReplacer  *strings.Replacer
}

// NewNormalizer compiles the patterns once.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		urlPattern:        regexp.MustCompile(urlRegexPattern),
		emailPattern:      regexp.MustCompile(emailRegexPattern),
		numberPattern:     regexp.MustCompile(numberRegexPattern),
		referencePattern:  regexp.MustCompile(referenceRegexPattern),
		citationPattern:   regexp.MustCompile(citationRegexPattern),
		whitespacePattern: regexp.MustCompile(whitespaceRegexPattern),
		looseStopPattern:  regexp.MustCompile(looseStopRegexPattern),
		abbreviationReplacer: strings.NewReplacer(
			"Mr.", "Mister",
			"Mrs.", "Misses",
			"Ms.", "Miss",
			"Dr.", "Doctor",
			"Prof.", "Professor",
			"e.g.", "for example",
			"i.e.", "that is",
			"etc.", "et cetera",
			"vs.", "versus",
		),
		punctuationReplacer: strings.NewReplacer(
			"—", ", ",
			"–", "-",
			"‒", "-",
			"…", "...",
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
			"•", "",
			"▪", "",
		),
	}
}

// Normalize returns text ready for the speech backend of the given language.
// Blank input stays blank so callers can fall back to silence.
func (n *Normalizer) Normalize(language, text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	// URLs and emails are restored only after every rewrite has run.
	text, tokens := n.preserveTokens(text)

	if isEnglish(language) {
		text = n.normalizeEnglish(text)
	}

	text = n.punctuationReplacer.Replace(text)
	text = n.whitespacePattern.ReplaceAllString(text, " ")
	text = n.looseStopPattern.ReplaceAllString(text, "$1")
	text = collapseRepeatedPunctuation(strings.TrimSpace(text))
	text = ensureSentenceEnding(text)

	for index, token := range tokens {
		text = strings.ReplaceAll(text, placeholder(index), token)
	}

	return text
}

func (n *Normalizer) normalizeEnglish(text string) string {
	text = n.abbreviationReplacer.Replace(text)
	text = n.citationPattern.ReplaceAllString(text, "")
	text = n.referencePattern.ReplaceAllString(text, "")

	return n.numberPattern.ReplaceAllStringFunc(text, func(digits string) string {
		number, err := strconv.Atoi(digits)
		if err != nil {
			return digits
		}

		return IntegerToWords(number)
	})
}

// preserveTokens swaps URLs and emails for placeholders so later rules leave them intact.
func (n *Normalizer) preserveTokens(text string) (string, []string) {
	var tokens []string

	replace := func(match string) string {
		tokens = append(tokens, match)

		return placeholder(len(tokens) - 1)
	}

	text = n.urlPattern.ReplaceAllStringFunc(text, replace)
	text = n.emailPattern.ReplaceAllStringFunc(text, replace)

	return text, tokens
}

// placeholder encodes index with letters only, so the number rule cannot rewrite it.
func placeholder(index int) string {
	var builder strings.Builder

	builder.WriteByte(0)

	for {
		builder.WriteByte(byte('a' + index%26))

		index /= 26
		if index == 0 {
			break
		}
	}

	builder.WriteByte(0)

	return builder.String()
}

func isEnglish(language string) bool {
	lang := strings.ToLower(strings.TrimSpace(language))

	return lang == LanguageEnglish || strings.HasPrefix(lang, LanguageEnglish+"-")
}

// collapseRepeatedPunctuation keeps the first of consecutive identical sentence marks.
// Periods are left alone so an ellipsis survives.
func collapseRepeatedPunctuation(text string) string {
	var (
		builder strings.Builder
		last    rune
	)

	for _, char := range text {
		if char == last && strings.ContainsRune(collapsibleMarks, char) {
			continue
		}

		builder.WriteRune(char)

		last = char
	}

	return builder.String()
}

func ensureSentenceEnding(text string) string {
	if text == "" {
		return ""
	}

	lastChar, _ := utf8.DecodeLastRuneInString(text)

	switch lastChar {
	case '.', '!', '?', '"', '\'':
		return text
	case ')', ']':
		return text + "."
	default:
		if unicode.IsPunct(lastChar) {
			return strings.TrimRightFunc(text, unicode.IsPunct) + "."
		}

		return text + "."
	}
}

var (
	onesWords = []string{
		"", "one", "two", "three", "four", "five",
		"six", "seven", "eight", "nine",
	}
	teensWords = []string{
		"ten", "eleven", "twelve", "thirteen", "fourteen",
		"fifteen", "sixteen", "seventeen", "eighteen", "nineteen",
	}
	tensWords = []string{
		"", "", "twenty", "thirty", "forty", "fifty",
		"sixty", "seventy", "eighty", "ninety",
	}
)

// IntegerToWords spells out 0..MaxNumberForWords in English; other values are returned
// as digits.
func IntegerToWords(number int) string {
	if number < 0 || number > MaxNumberForWords {
		return strconv.Itoa(number)
	}

	if number == 0 {
		return "zero"
	}

	var parts []string

	if thousands := number / numberBaseThousand; thousands > 0 {
		parts = append(parts, underThousand(thousands)+" thousand")
	}

	if remainder := number % numberBaseThousand; remainder > 0 {
		parts = append(parts, underThousand(remainder))
	}

	return strings.Join(parts, " ")
}

func underThousand(number int) string {
	var parts []string

	if hundreds := number / numberBaseHundred; hundreds > 0 {
		parts = append(parts, onesWords[hundreds]+" hundred")
	}

	if remainder := number % numberBaseHundred; remainder > 0 {
		parts = append(parts, underHundred(remainder))
	}

	return strings.Join(parts, " ")
}

func underHundred(number int) string {
	switch {
	case number < numberBaseTen:
		return onesWords[number]
	case number < numberBaseTwenty:
		return teensWords[number-numberBaseTen]
	case number%numberBaseTen == 0:
		return tensWords[number/numberBaseTen]
	default:
		return tensWords[number/numberBaseTen] + " " + onesWords[number%numberBaseTen]
	}
}
