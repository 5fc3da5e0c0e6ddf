// Package speech implements the narration backends of the lecture service.
//
// Three backends satisfy core.SpeechSynthesizer: an HTTP client for a standalone TTS
// server, a NATS request/reply client for remote TTS workers and a local command
// runner. All of them share the voice selection implemented here.
package speech

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/book-expert/lecture-service/internal/core"
)

// Gender labels understood by the voice table.
const (
	GenderFemale = "female"
	GenderMale   = "male"
)

const cloneConfigFile = "config.json"

// ErrCloneNotFound is returned when no cloned voice carries the requested display name.
var ErrCloneNotFound = errors.New("cloned voice not found")

// builtinVoices maps language and gender to a neural voice id.
var builtinVoices = map[string]map[string]string{
	"vi": {GenderFemale: "vi-VN-HoaiMyNeural", GenderMale: "vi-VN-NamMinhNeural"},
	"en": {GenderFemale: "en-US-JennyNeural", GenderMale: "en-US-GuyNeural"},
	"zh": {GenderFemale: "zh-CN-XiaoxiaoNeural", GenderMale: "zh-CN-YunxiNeural"},
	"ja": {GenderFemale: "ja-JP-NanamiNeural", GenderMale: "ja-JP-KeitaNeural"},
	"ko": {GenderFemale: "ko-KR-SunHiNeural", GenderMale: "ko-KR-InJoonNeural"},
	"fr": {GenderFemale: "fr-FR-DeniseNeural", GenderMale: "fr-FR-HenriNeural"},
	"de": {GenderFemale: "de-DE-KatjaNeural", GenderMale: "de-DE-ConradNeural"},
	"es": {GenderFemale: "es-ES-ElviraNeural", GenderMale: "es-ES-AlvaroNeural"},
	"it": {GenderFemale: "it-IT-ElsaNeural", GenderMale: "it-IT-IsmaelNeural"},
	"pt": {GenderFemale: "pt-BR-FranciscaNeural", GenderMale: "pt-BR-AntonioNeural"},
}

// NormalizeGender maps the labels users type, in English or Vietnamese, to a table key.
// Anything unrecognised is treated as female.
func NormalizeGender(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "male", "m", "man", "nam":
		return GenderMale
	default:
		return GenderFemale
	}
}

// VoiceFor returns the builtin voice for a language and gender, or "" when the language
// has no entry. Region suffixes such as "en-GB" fall back to the base language.
func VoiceFor(language, gender string) string {
	lang := strings.ToLower(strings.TrimSpace(language))
	if base, _, found := strings.Cut(lang, "-"); found {
		lang = base
	}

	return builtinVoices[lang][NormalizeGender(gender)]
}

// Languages lists the languages with builtin voices, sorted.
func Languages() []string {
	languages := make([]string, 0, len(builtinVoices))
	for lang := range builtinVoices {
		languages = append(languages, lang)
	}

	sort.Strings(languages)

	return languages
}

// cloneProfile is the config.json stored next to each cloned voice.
type cloneProfile struct {
	DisplayName  string `json:"display_name"`
	ReferenceWAV string `json:"reference_wav"`

	dir string
}

// CloneLibrary resolves cloned voices stored as <dir>/<voice id>/config.json.
type CloneLibrary struct {
	dir string
}

// NewCloneLibrary creates a library rooted at dir.
func NewCloneLibrary(dir string) *CloneLibrary {
	return &CloneLibrary{dir: dir}
}

// DisplayNames lists the display names of every readable profile, sorted.
func (l *CloneLibrary) DisplayNames() ([]string, error) {
	profiles, err := l.profiles()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(profiles))
	for _, profile := range profiles {
		names = append(names, profile.DisplayName)
	}

	sort.Strings(names)

	return names, nil
}

// ReferenceFor returns the reference recording of the voice named displayName. When
// several voices share the name, the first voice directory in name order wins.
func (l *CloneLibrary) ReferenceFor(displayName string) (string, error) {
	profiles, err := l.profiles()
	if err != nil {
		return "", err
	}

	for _, profile := range profiles {
		if profile.DisplayName != displayName || profile.ReferenceWAV == "" {
			continue
		}

		path := filepath.Join(profile.dir, filepath.Base(profile.ReferenceWAV))

		info, statErr := os.Stat(path)
		if statErr != nil || !info.Mode().IsRegular() {
			continue
		}

		return path, nil
	}

	return "", fmt.Errorf("%w: %q", ErrCloneNotFound, displayName)
}

// profiles returns the readable profiles ordered by voice directory name.
func (l *CloneLibrary) profiles() ([]cloneProfile, error) {
	entries, err := os.ReadDir(l.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to list cloned voices in '%s': %w", l.dir, err)
	}

	profiles := make([]cloneProfile, 0, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		voiceDir := filepath.Join(l.dir, entry.Name())

		data, readErr := os.ReadFile(filepath.Join(voiceDir, cloneConfigFile))
		if readErr != nil {
			continue
		}

		var profile cloneProfile
		if json.Unmarshal(data, &profile) != nil || profile.DisplayName == "" {
			continue
		}

		profile.dir = voiceDir
		profiles = append(profiles, profile)
	}

	return profiles, nil
}

// Choice is the resolved voice of one request.
// ReferencePath is set only when a cloned voice was found.
type Choice struct {
	Voice         string
	Language      string
	ReferencePath string
}

// Cloned reports whether the choice uses a cloned voice.
func (c Choice) Cloned() bool {
	return c.ReferencePath != ""
}

// Choose resolves the voice of req. A clone request whose voice cannot be found falls
// back to the builtin voice; the returned error explains why and is informational.
func Choose(req core.SpeechRequest, clones *CloneLibrary) (Choice, error) {
	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = core.DefaultLanguage
	}

	var fallbackErr error

	if req.VoiceMode == core.VoiceModeClone && req.ClonedVoiceName != "" && clones != nil {
		reference, err := clones.ReferenceFor(req.ClonedVoiceName)
		if err == nil {
			cloneLanguage := strings.TrimSpace(req.ClonedLanguage)
			if cloneLanguage == "" {
				cloneLanguage = language
			}

			return Choice{Voice: req.ClonedVoiceName, Language: cloneLanguage, ReferencePath: reference}, nil
		}

		fallbackErr = fmt.Errorf("using builtin voice: %w", err)
	}

	voice := strings.TrimSpace(req.PreferredVoice)
	if voice == "" {
		voice = VoiceFor(language, req.Gender)
	}

	return Choice{Voice: voice, Language: language, ReferencePath: ""}, fallbackErr
}
