package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/lecture-service/internal/core"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Sampling values sent with every request; the remote worker rejects a repetition
// penalty below 1.0 and top_p outside [0, 1].
const (
	defaultTopP              = 0.9
	defaultRepetitionPenalty = 1.0
)

// ErrEmptyAudioKey is returned when a worker replies without an audio object.
var ErrEmptyAudioKey = errors.New("speech worker replied without an audio key")

// NATSSynthesizer hands narration to remote TTS workers. The text travels through the
// object store, the request carries an events.TextProcessedEvent and the worker
// answers with an events.AudioChunkCreatedEvent naming the uploaded audio.
type NATSSynthesizer struct {
	conn        *nats.Conn
	store       core.ObjectStore
	subject     string
	timeout     time.Duration
	temperature float64
	clones      *CloneLibrary
	log         *logger.Logger
}

// NewNATSSynthesizer creates a request/reply synthesizer on subject.
func NewNATSSynthesizer(
	conn *nats.Conn,
	store core.ObjectStore,
	subject string,
	timeout time.Duration,
	temperature float64,
	clones *CloneLibrary,
	log *logger.Logger,
) *NATSSynthesizer {
	return &NATSSynthesizer{
		conn:        conn,
		store:       store,
		subject:     subject,
		timeout:     timeout,
		temperature: temperature,
		clones:      clones,
		log:         log,
	}
}

// Synthesize implements core.SpeechSynthesizer.
func (s *NATSSynthesizer) Synthesize(ctx context.Context, req core.SpeechRequest) (string, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", ErrTextEmpty
	}

	choice := choose(req, s.clones, s.log)
	workflowID := uuid.NewString()
	textKey := workflowID + ".txt"

	err := s.store.Upload(ctx, textKey, []byte(text))
	if err != nil {
		return "", fmt.Errorf("failed to upload narration text: %w", err)
	}

	defer s.deleteQuietly(ctx, textKey)

	reply, err := s.request(ctx, s.buildEvent(workflowID, textKey, choice))
	if err != nil {
		return "", err
	}

	if reply.AudioKey == "" {
		return "", ErrEmptyAudioKey
	}

	defer s.deleteQuietly(ctx, reply.AudioKey)

	audioData, err := s.store.Download(ctx, reply.AudioKey)
	if err != nil {
		return "", fmt.Errorf("failed to download audio '%s': %w", reply.AudioKey, err)
	}

	if len(audioData) == 0 {
		return "", ErrReceivedEmptyAudio
	}

	extension := filepath.Ext(reply.AudioKey)
	if extension == "" {
		extension = ".wav"
	}

	return writeAudio(req.OutputDir, extension, audioData)
}

func (s *NATSSynthesizer) buildEvent(workflowID, textKey string, choice Choice) *events.TextProcessedEvent {
	voice := choice.Voice
	if choice.Cloned() {
		voice = choice.ReferencePath
	}

	return &events.TextProcessedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: workflowID,
			EventID:    uuid.NewString(),
			UserID:     "",
			TenantID:   "",
		},
		TextKey:           textKey,
		PNGKey:            "",
		PageNumber:        0,
		TotalPages:        0,
		Voice:             voice,
		Seed:              0,
		NGL:               0,
		TopP:              defaultTopP,
		RepetitionPenalty: defaultRepetitionPenalty,
		Temperature:       s.temperature,
	}
}

func (s *NATSSynthesizer) request(
	ctx context.Context,
	event *events.TextProcessedEvent,
) (*events.AudioChunkCreatedEvent, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal speech request: %w", err)
	}

	requestCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	msg, err := s.conn.RequestWithContext(requestCtx, s.subject, data)
	if err != nil {
		return nil, fmt.Errorf("speech request on '%s' failed: %w", s.subject, err)
	}

	var reply events.AudioChunkCreatedEvent

	err = json.Unmarshal(msg.Data, &reply)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal speech reply: %w", err)
	}

	return &reply, nil
}

func (s *NATSSynthesizer) deleteQuietly(ctx context.Context, key string) {
	err := s.store.Delete(ctx, key)
	if err != nil {
		s.log.Warn("Failed to delete speech object '%s': %v", key, err)
	}
}
