package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"
)

// API endpoints and paths.
const (
	apiGenerateSpeech = "/v1/generate/speech"
	apiHealth         = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
	contentTypeMPEG   = "audio/mpeg"
)

const defaultTemperature = 0.75

// Error messages.
const (
	errFmtServiceErrorWithCode = "speech service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus   = "speech service returned non-OK status: %s, body: %s"
)

// Static errors.
var (
	ErrTextEmpty              = errors.New("text cannot be empty")
	ErrUnexpectedContentType  = errors.New("unexpected content type")
	ErrReceivedEmptyAudio     = errors.New("received empty audio data")
	ErrServiceHealthCheckFail = errors.New("speech service health check failed")
)

// audioExtensions maps the accepted response types to file extensions.
var audioExtensions = map[string]string{
	contentTypeWAV:  ".wav",
	"audio/x-wav":   ".wav",
	contentTypeMPEG: ".mp3",
}

// HTTPClient talks to a standalone TTS HTTP server.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
}

// Request is the JSON payload of a generation request.
type Request struct {
	Text string `json:"text"`
	// SpeakerRefPath is a server-side reference recording used for cloned voices.
	SpeakerRefPath string  `json:"speaker_ref_path,omitempty"`
	Voice          string  `json:"voice,omitempty"`
	Language       string  `json:"language"`
	Temperature    float64 `json:"temperature"`
}

// ErrorResponse is the structured error body returned by the server.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// Audio is a generated recording and the file extension matching its encoding.
type Audio struct {
	Data      []byte
	Extension string
}

// NewHTTPClient creates a client for baseURL (e.g. "http://localhost:8000").
// The timeout applies to every request.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// GenerateSpeech sends a generation request and returns the audio.
func (c *HTTPClient) GenerateSpeech(ctx context.Context, req Request) (Audio, error) {
	if req.Text == "" {
		return Audio{}, ErrTextEmpty
	}

	if req.Temperature == 0 {
		req.Temperature = defaultTemperature
	}

	requestBody, err := json.Marshal(req)
	if err != nil {
		return Audio{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiGenerateSpeech,
		bytes.NewReader(requestBody),
	)
	if err != nil {
		return Audio{}, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV+", "+contentTypeMPEG)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Audio{}, fmt.Errorf("failed to send request to speech service at %s: %w", c.baseURL, err)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Audio{}, parseErrorResponse(resp)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get(headerContentType))

	extension, ok := audioExtensions[mediaType]
	if !ok {
		return Audio{}, fmt.Errorf("%w: %q", ErrUnexpectedContentType, mediaType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return Audio{}, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return Audio{}, ErrReceivedEmptyAudio
	}

	return Audio{Data: audioData, Extension: extension}, nil
}

// HealthCheck verifies that the server reports itself healthy.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrServiceHealthCheckFail, c.baseURL, err)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %s", ErrServiceHealthCheckFail, resp.Status)
	}

	return nil
}

// parseErrorResponse decodes a structured error, falling back to the raw body.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errorResp ErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode, resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, string(body))
}
