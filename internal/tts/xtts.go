package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-narrator/internal/core"
	"github.com/book-expert/voice-narrator/internal/tts/audio"
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
)

// Default values.
const (
	defaultTemperature = 0.75
	healthCheckTimeout = 10 * time.Second
)

// Error messages.
const (
	errFmtUnexpectedContentType = "unexpected content type: expected audio/wav, got %s"
	errFmtServiceErrorWithCode  = "XTTS service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus    = "XTTS service returned non-OK status: %s, body: %s"
)

// ErrModelNotLoaded is returned when the XTTS server is up but has no model loaded.
var ErrModelNotLoaded = errors.New("XTTS model not loaded")

// XTTSConfig configures the local neural clone backend.
type XTTSConfig struct {
	ServerURL   string
	Temperature float64
	Timeout     time.Duration
}

// xttsRequest is the JSON payload of a speech generation request.
type xttsRequest struct {
	Text string `json:"text"`
	// SpeakerRefPath is a server-side path to the reference voice sample.
	SpeakerRefPath string  `json:"speaker_ref_path,omitempty"`
	Language       string  `json:"language"`
	Temperature    float64 `json:"temperature"`
}

type xttsErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

type xttsHealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// xttsClient talks to the standalone XTTS HTTP server.
type xttsClient struct {
	httpClient *http.Client
	baseURL    string
}

// XTTSBackend is the local neural clone. The first successful health check marks
// the server's model as warm; later requests skip it.
type XTTSBackend struct {
	client *xttsClient
	cfg    XTTSConfig
	log    *logger.Logger
	warm   *Warm[struct{}]
}

// NewXTTSBackend creates the local neural clone backend.
func NewXTTSBackend(cfg XTTSConfig, log *logger.Logger) *XTTSBackend {
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}

	client := &xttsClient{
		baseURL:    strings.TrimRight(cfg.ServerURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}

	backend := &XTTSBackend{client: client, cfg: cfg, log: log}
	backend.warm = NewWarm("xtts model", func(ctx context.Context) (struct{}, error) {
		healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		defer cancel()

		err := client.healthCheck(healthCtx)
		if err != nil {
			return struct{}{}, err
		}

		log.Info("XTTS server at %s is healthy, model loaded", client.baseURL)

		return struct{}{}, nil
	}, nil)

	return backend
}

// ID implements core.Backend.
func (b *XTTSBackend) ID() core.BackendID {
	return core.BackendLocalNeuralClone
}

// Capabilities implements core.Backend.
func (b *XTTSBackend) Capabilities() core.Capabilities {
	return core.Capabilities{RequiresSample: true, RequiresNetwork: false, QuotaBound: false}
}

// Available reports whether the server is configured and has its model loaded.
func (b *XTTSBackend) Available(ctx context.Context) error {
	if b.client.baseURL == "" {
		return missingPrerequisite("XTTS server URL not configured")
	}

	_, err := b.warm.Get(ctx)
	if err != nil {
		return missingPrerequisite("XTTS server unavailable: %v", err)
	}

	return nil
}

// Synthesize generates WAV speech in the voice of sample.
func (b *XTTSBackend) Synthesize(
	ctx context.Context,
	req core.NarrationRequest,
	sample *core.VoiceSample,
) (core.Audio, error) {
	sampleErr := requireSample(sample)
	if sampleErr != nil {
		return core.Audio{}, sampleErr
	}

	data, err := b.client.generateSpeech(ctx, xttsRequest{
		Text:           req.Text,
		SpeakerRefPath: sample.AudioPath,
		Language:       req.Language,
		Temperature:    b.cfg.Temperature,
	})
	if err != nil {
		return core.Audio{}, synthesisFailed(b.ID(), err)
	}

	b.log.Info("XTTS generated %d bytes for %d characters", len(data), req.CharacterCount)

	return core.Audio{Data: data, Format: audio.FORMAT_WAV}, nil
}

// Close releases the warm state.
func (b *XTTSBackend) Close() error {
	return b.warm.Close()
}

func (c *xttsClient) generateSpeech(ctx context.Context, req xttsRequest) ([]byte, error) {
	if req.Text == "" {
		return nil, ErrTextEmpty
	}

	if req.Language == "" {
		req.Language = core.DefaultLanguage
	}

	requestBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiGenerateSpeech,
		bytes.NewReader(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to XTTS service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseXTTSError(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if audio.FormatFromMIME(contentType) != audio.FORMAT_WAV {
		return nil, fmt.Errorf(errFmtUnexpectedContentType, contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return audioData, nil
}

func (c *xttsClient) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	var health xttsHealthResponse

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read health response: %w", err)
	}

	err = parseJSON(body, &health)
	if err != nil {
		return err
	}

	if !health.ModelLoaded {
		return fmt.Errorf("%w (status %q)", ErrModelNotLoaded, health.Status)
	}

	return nil
}

// parseXTTSError decodes a structured JSON error, falling back to the raw body.
func parseXTTSError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errorResp xttsErrorResponse

	err := parseJSON(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode, resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, truncate(string(body)))
}
