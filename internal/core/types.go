package core

import (
	"errors"
	"fmt"
	"strings"
)

// VoiceMode selects between stock voices and a cloned presenter voice.
type VoiceMode string

const (
	VoiceModeBuiltin VoiceMode = "builtin"
	VoiceModeClone   VoiceMode = "clone"
)

// ParseVoiceMode maps user input to a VoiceMode. Anything that is not a clone request
// falls back to the builtin voices.
func ParseVoiceMode(raw string) VoiceMode {
	if strings.EqualFold(strings.TrimSpace(raw), string(VoiceModeClone)) {
		return VoiceModeClone
	}

	return VoiceModeBuiltin
}

// ProgressState is the coarse lifecycle state visible to pollers.
type ProgressState string

const (
	ProgressCreated ProgressState = "created"
	ProgressRunning ProgressState = "running"
	ProgressDone    ProgressState = "done"
	ProgressFailed  ProgressState = "failed"
)

// IsTerminal reports whether no further updates are expected after this state.
func (s ProgressState) IsTerminal() bool {
	return s == ProgressDone || s == ProgressFailed
}

// ProgressRecord is the snapshot written after each pipeline milestone.
type ProgressRecord struct {
	State     ProgressState `json:"state"`
	Current   int           `json:"current,omitempty"`
	Total     int           `json:"total,omitempty"`
	Message   string        `json:"message"`
	UpdatedAt int64         `json:"updated_at"`
	VideoPath string        `json:"video_path,omitempty"`
}

// Slide is one unit of lecture content.
type Slide struct {
	Number    int    `json:"slide_number"`
	Text      string `json:"text"`
	ImagePath string `json:"image_path,omitempty"`
	HasMath   bool   `json:"has_math_objects"`
}

// Parameters is the per-job synthesis configuration.
type Parameters struct {
	Language        string    `json:"language"`
	VoiceMode       VoiceMode `json:"voice_mode"`
	Gender          string    `json:"gender"`
	BuiltinVoice    string    `json:"builtin_voice,omitempty"`
	ClonedVoiceName string    `json:"cloned_voice_name,omitempty"`
	ClonedLanguage  string    `json:"cloned_lang,omitempty"`
	PreprocessMode  string    `json:"preprocess_type"`
	StillMode       bool      `json:"is_still_mode"`
	Enhancer        bool      `json:"enhancer"`
	BatchSize       int       `json:"batch_size"`
	ImageSize       int       `json:"size_of_image"`
	PoseStyle       int       `json:"pose_style"`
	SpeechRate      float64   `json:"speech_rate"`
}

// Default parameter values applied to fields a job leaves unset.
const (
	DefaultLanguage       = "vi"
	DefaultGender         = "female"
	DefaultPreprocessMode = "crop"
	DefaultBatchSize      = 2
	DefaultImageSize      = 256
	DefaultSpeechRate     = 1.0
)

// DefaultParameters returns the parameters used when a job supplies none.
func DefaultParameters() Parameters {
	return Parameters{
		Language:        DefaultLanguage,
		VoiceMode:       VoiceModeBuiltin,
		Gender:          DefaultGender,
		BuiltinVoice:    "",
		ClonedVoiceName: "",
		ClonedLanguage:  "",
		PreprocessMode:  DefaultPreprocessMode,
		StillMode:       false,
		Enhancer:        false,
		BatchSize:       DefaultBatchSize,
		ImageSize:       DefaultImageSize,
		PoseStyle:       0,
		SpeechRate:      DefaultSpeechRate,
	}
}

// WithDefaults fills zero-valued fields from DefaultParameters.
func (p Parameters) WithDefaults() Parameters {
	defaults := DefaultParameters()

	if strings.TrimSpace(p.Language) == "" {
		p.Language = defaults.Language
	}

	p.VoiceMode = ParseVoiceMode(string(p.VoiceMode))

	if strings.TrimSpace(p.Gender) == "" {
		p.Gender = defaults.Gender
	}

	if strings.TrimSpace(p.PreprocessMode) == "" {
		p.PreprocessMode = defaults.PreprocessMode
	}

	if p.BatchSize <= 0 {
		p.BatchSize = defaults.BatchSize
	}

	if p.ImageSize <= 0 {
		p.ImageSize = defaults.ImageSize
	}

	if p.SpeechRate <= 0 {
		p.SpeechRate = defaults.SpeechRate
	}

	return p
}

// UploadKind is the closed set of files a job may receive before it runs.
type UploadKind string

const (
	UploadSourceImage UploadKind = "source_image"
	UploadSlideDeck   UploadKind = "pptx"
	UploadVoiceSample UploadKind = "voice_sample"
)

// ErrUnknownUploadKind is returned for upload kinds outside the closed set.
var ErrUnknownUploadKind = errors.New("unknown upload kind")

// ParseUploadKind validates a raw upload kind.
func ParseUploadKind(raw string) (UploadKind, error) {
	kind := UploadKind(strings.TrimSpace(raw))

	switch kind {
	case UploadSourceImage, UploadSlideDeck, UploadVoiceSample:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownUploadKind, raw)
	}
}

// JobResult is the structured outcome handed back to the caller of a job.
type JobResult struct {
	OK        bool   `json:"ok"`
	VideoPath string `json:"video_path,omitempty"`
	Status    string `json:"status"`
}
