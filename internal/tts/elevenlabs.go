package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-narrator/internal/core"
	"github.com/book-expert/voice-narrator/internal/tts/audio"
)

// ElevenLabs API paths and fields.
const (
	apiVoicesAdd       = "/v1/voices/add"
	apiVoicePattern    = "/v1/voices/%s"
	apiTextToSpeech    = "/v1/text-to-speech/%s"
	headerAPIKey       = "xi-api-key"
	contentTypeMPEG    = "audio/mpeg"
	formFieldName      = "name"
	formFieldFiles     = "files"
	formFieldDesc      = "description"
	voiceNamePrefix    = "narrator-"
	voiceDescription   = "Cloned narration voice"
	defaultCloudModel  = "eleven_multilingual_v2"
	defaultCloudAPIURL = "https://api.elevenlabs.io"
	shutdownTimeout    = 10 * time.Second

	// LargeRequestCharacters is where a single request starts to use a significant
	// share of the free-tier allowance.
	LargeRequestCharacters = 5000
)

// ElevenLabsConfig configures the cloud clone backend.
type ElevenLabsConfig struct {
	BaseURL string
	APIKey  string
	ModelID string
	Timeout time.Duration
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type textToSpeechRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	LanguageCode  string        `json:"language_code,omitempty"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type addVoiceResponse struct {
	VoiceID string `json:"voice_id"`
}

type elevenLabsError struct {
	Detail json.RawMessage `json:"detail"`
}

// ElevenLabsBackend clones the sample through the ElevenLabs API. The cloned voice
// is created once per sample and deleted at shutdown.
type ElevenLabsBackend struct {
	cfg        ElevenLabsConfig
	log        *logger.Logger
	httpClient *http.Client

	mu       sync.Mutex
	voices   map[string]string
	sampleID string
}

// NewElevenLabsBackend creates the cloud clone backend.
func NewElevenLabsBackend(cfg ElevenLabsConfig, log *logger.Logger) *ElevenLabsBackend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultCloudAPIURL
	}

	if cfg.ModelID == "" {
		cfg.ModelID = defaultCloudModel
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &ElevenLabsBackend{
		cfg:        cfg,
		log:        log,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		voices:     make(map[string]string),
	}
}

// ID implements core.Backend.
func (b *ElevenLabsBackend) ID() core.BackendID {
	return core.BackendCloudCloneAPI
}

// Capabilities implements core.Backend.
func (b *ElevenLabsBackend) Capabilities() core.Capabilities {
	return core.Capabilities{RequiresSample: true, RequiresNetwork: true, QuotaBound: true}
}

// Available reports whether an API key is configured.
func (b *ElevenLabsBackend) Available(_ context.Context) error {
	if b.cfg.APIKey == "" {
		return missingPrerequisite("ElevenLabs API key not configured")
	}

	return nil
}

// Synthesize clones the sample if needed and generates MP3 speech.
func (b *ElevenLabsBackend) Synthesize(
	ctx context.Context,
	req core.NarrationRequest,
	sample *core.VoiceSample,
) (core.Audio, error) {
	sampleErr := requireSample(sample)
	if sampleErr != nil {
		return core.Audio{}, sampleErr
	}

	availableErr := b.Available(ctx)
	if availableErr != nil {
		return core.Audio{}, availableErr
	}

	if req.CharacterCount > LargeRequestCharacters {
		b.log.Warn("ElevenLabs request is %d characters and may use significant quota", req.CharacterCount)
	}

	voiceID, err := b.voiceFor(ctx, sample)
	if err != nil {
		return core.Audio{}, synthesisFailed(b.ID(), err)
	}

	data, err := b.textToSpeech(ctx, voiceID, req)
	if err != nil {
		return core.Audio{}, synthesisFailed(b.ID(), err)
	}

	b.log.Info("ElevenLabs generated %d bytes, used %d characters", len(data), req.CharacterCount)

	return core.Audio{Data: data, Format: audio.FORMAT_MP3}, nil
}

// Close deletes every voice this process created.
func (b *ElevenLabsBackend) Close() error {
	b.mu.Lock()
	voices := b.voices
	b.voices = make(map[string]string)
	b.sampleID = ""
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var lastErr error

	for sampleID, voiceID := range voices {
		err := b.deleteVoice(ctx, voiceID)
		if err != nil {
			b.log.Warn("Failed to delete ElevenLabs voice %s for sample %s: %v", voiceID, sampleID, err)
			lastErr = err
		}
	}

	return lastErr
}

// voiceFor returns the cloned voice for sample, creating it on first use. A new
// sample replaces the previous voice.
func (b *ElevenLabsBackend) voiceFor(ctx context.Context, sample *core.VoiceSample) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if voiceID, ok := b.voices[sample.ID]; ok {
		return voiceID, nil
	}

	voiceID, err := b.addVoice(ctx, sample)
	if err != nil {
		return "", err
	}

	if previous, ok := b.voices[b.sampleID]; ok {
		deleteErr := b.deleteVoice(ctx, previous)
		if deleteErr != nil {
			b.log.Warn("Failed to delete superseded ElevenLabs voice %s: %v", previous, deleteErr)
		}

		delete(b.voices, b.sampleID)
	}

	b.voices[sample.ID] = voiceID
	b.sampleID = sample.ID

	b.log.Info("Cloned sample %s as ElevenLabs voice %s", sample.ID, voiceID)

	return voiceID, nil
}

func (b *ElevenLabsBackend) addVoice(ctx context.Context, sample *core.VoiceSample) (string, error) {
	file, err := os.Open(sample.AudioPath)
	if err != nil {
		return "", fmt.Errorf("failed to open voice sample: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	err = writer.WriteField(formFieldName, voiceNamePrefix+shortID(sample.ID))
	if err != nil {
		return "", fmt.Errorf("failed to write name field: %w", err)
	}

	err = writer.WriteField(formFieldDesc, voiceDescription)
	if err != nil {
		return "", fmt.Errorf("failed to write description field: %w", err)
	}

	part, err := writer.CreateFormFile(formFieldFiles, filepath.Base(sample.AudioPath))
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}

	_, err = io.Copy(part, file)
	if err != nil {
		return "", fmt.Errorf("failed to copy voice sample: %w", err)
	}

	closeErr := writer.Close()
	if closeErr != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", closeErr)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+apiVoicesAdd, &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create voice request: %w", err)
	}

	req.Header.Set(headerAPIKey, b.cfg.APIKey)
	req.Header.Set(headerContentType, writer.FormDataContentType())

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send voice request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", parseElevenLabsError("add voice", resp)
	}

	var added addVoiceResponse

	err = readJSON(resp.Body, &added)
	if err != nil {
		return "", err
	}

	if added.VoiceID == "" {
		return "", fmt.Errorf("add voice: %w", ErrEmptyVoiceID)
	}

	return added.VoiceID, nil
}

func (b *ElevenLabsBackend) textToSpeech(ctx context.Context, voiceID string, narration core.NarrationRequest) ([]byte, error) {
	body, err := json.Marshal(textToSpeechRequest{
		Text:          narration.Text,
		ModelID:       b.cfg.ModelID,
		LanguageCode:  narration.Language,
		VoiceSettings: voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := b.cfg.BaseURL + fmt.Sprintf(apiTextToSpeech, url.PathEscape(voiceID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create speech request: %w", err)
	}

	req.Header.Set(headerAPIKey, b.cfg.APIKey)
	req.Header.Set(headerContentType, contentTypeJSON)
	req.Header.Set(headerAccept, contentTypeMPEG)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send speech request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseElevenLabsError("text to speech", resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}

	return data, nil
}

func (b *ElevenLabsBackend) deleteVoice(ctx context.Context, voiceID string) error {
	endpoint := b.cfg.BaseURL + fmt.Sprintf(apiVoicePattern, url.PathEscape(voiceID))

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create delete request: %w", err)
	}

	req.Header.Set(headerAPIKey, b.cfg.APIKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send delete request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseElevenLabsError("delete voice", resp)
	}

	return nil
}

func parseElevenLabsError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxJSONResponseBytes))

	var apiErr elevenLabsError

	if parseJSON(body, &apiErr) == nil && len(apiErr.Detail) > 0 {
		return fmt.Errorf("%s: ElevenLabs returned %s: %s", operation, resp.Status, truncate(string(apiErr.Detail)))
	}

	return fmt.Errorf("%s: ElevenLabs returned %s: %s", operation, resp.Status, truncate(string(body)))
}

func shortID(id string) string {
	const shortLen = 8

	if len(id) <= shortLen {
		return id
	}

	return id[:shortLen]
}
