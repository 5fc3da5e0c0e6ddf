// Package core defines the domain types and collaborator ports of the lecture service.
package core

import (
	"context"
	"errors"
)

// ErrResourceExhausted is returned by a TalkingHeadGenerator when the accelerator ran
// out of memory. Callers match it with errors.Is and may retry with a smaller batch.
var ErrResourceExhausted = errors.New("accelerator resources exhausted")

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// SpeechRequest carries everything a speech backend needs to narrate one slide.
type SpeechRequest struct {
	Text            string
	Language        string
	Gender          string
	PreferredVoice  string
	VoiceMode       VoiceMode
	ClonedVoiceName string
	ClonedLanguage  string
	// OutputDir is where the backend writes the audio file it returns.
	OutputDir string
}

// SpeechSynthesizer turns narration text into an audio file and returns its path.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, req SpeechRequest) (string, error)
}

// FaceRequest holds the inputs of a single talking-head generation call.
type FaceRequest struct {
	SourceImage    string
	AudioPath      string
	BatchSize      int
	PreprocessMode string
	StillMode      bool
	Enhancer       bool
	ImageSize      int
	PoseStyle      int
	// WorkDir is a job-scoped directory the generator may use for scratch files.
	WorkDir string
}

// TalkingHeadGenerator produces a face video driven by an audio track.
// The returned clip carries no audio; callers pair it with the narration themselves.
type TalkingHeadGenerator interface {
	Generate(ctx context.Context, req FaceRequest) (string, error)
}

// MemoryReclaimer releases transient accelerator memory between generation attempts.
type MemoryReclaimer interface {
	Reclaim(ctx context.Context) error
}

// ProgressSink persists the latest ProgressRecord of a job.
type ProgressSink interface {
	Write(ctx context.Context, jobID string, record ProgressRecord) error
	Read(ctx context.Context, jobID string) (ProgressRecord, error)
}

// AssetProvider resolves the inputs of a job that were uploaded before it was queued.
type AssetProvider interface {
	Slides(ctx context.Context, jobID string) ([]Slide, error)
	PresenterImage(ctx context.Context, jobID string) (string, error)
	Parameters(ctx context.Context, jobID string) (Parameters, error)
}
