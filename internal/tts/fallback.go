package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/book-expert/logger"
	"github.com/book-expert/voice-narrator/internal/core"
	"github.com/book-expert/voice-narrator/internal/tts/audio"
	"github.com/book-expert/voice-narrator/internal/tts/text"
	"github.com/book-expert/voice-narrator/internal/tts/ttsutils"
)

// Fallback engine names.
const (
	EngineEdge   = "edge"
	EngineEspeak = "espeak"
	EngineGoogle = "google"
)

const (
	defaultEdgeExecutable = "edge-tts"
	defaultEdgeVoice      = "en-US-GuyNeural"
	// Google rejects requests above 5000 bytes of input.
	googleChunkBytes = 4800
)

// ErrUnknownEngine is returned for an unrecognized fallback engine name.
var ErrUnknownEngine = errors.New("unknown fallback engine")

// Edge neural voices used when the request language differs from the configured voice.
var edgeVoices = map[string]string{
	"en": defaultEdgeVoice,
	"es": "es-ES-AlvaroNeural",
	"fr": "fr-FR-HenriNeural",
	"de": "de-DE-ConradNeural",
	"it": "it-IT-DiegoNeural",
	"pt": "pt-BR-AntonioNeural",
	"ro": "ro-RO-EmilNeural",
}

// Google language codes for bare language tags.
var googleLanguages = map[string]string{
	"en": "en-US",
	"es": "es-ES",
	"fr": "fr-FR",
	"de": "de-DE",
	"it": "it-IT",
	"pt": "pt-BR",
	"ro": "ro-RO",
}

// SpeechClient is the subset of the Cloud Text-to-Speech client used here.
type SpeechClient interface {
	SynthesizeSpeech(
		ctx context.Context,
		req *texttospeechpb.SynthesizeSpeechRequest,
	) (*texttospeechpb.SynthesizeSpeechResponse, error)
	Close() error
}

// SpeechClientFactory creates a SpeechClient on first use.
type SpeechClientFactory func(ctx context.Context) (SpeechClient, error)

type googleSpeechClient struct {
	client *texttospeech.Client
}

// NewGoogleSpeechClient connects to Cloud Text-to-Speech with application
// default credentials.
func NewGoogleSpeechClient(ctx context.Context) (SpeechClient, error) {
	client, err := texttospeech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create TTS client: %w", err)
	}

	return &googleSpeechClient{client: client}, nil
}

func (g *googleSpeechClient) SynthesizeSpeech(
	ctx context.Context,
	req *texttospeechpb.SynthesizeSpeechRequest,
) (*texttospeechpb.SynthesizeSpeechResponse, error) {
	resp, err := g.client.SynthesizeSpeech(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("google synthesize: %w", err)
	}

	return resp, nil
}

func (g *googleSpeechClient) Close() error {
	err := g.client.Close()
	if err != nil {
		return fmt.Errorf("failed to close google TTS client: %w", err)
	}

	return nil
}

// FallbackConfig configures the non-cloning fallback backend.
type FallbackConfig struct {
	Engine           string
	Voice            string
	EdgeExecutable   string
	EspeakExecutable string
	TempDir          string
	// SpeechClientFactory overrides the Cloud Text-to-Speech client, mainly for tests.
	SpeechClientFactory SpeechClientFactory
}

type fallbackEngine interface {
	name() string
	requiresNetwork() bool
	synthesize(ctx context.Context, req core.NarrationRequest) (core.Audio, error)
	close() error
}

// FallbackBackend speaks in a fixed generic voice. It is never a true clone.
type FallbackBackend struct {
	engine fallbackEngine
	log    *logger.Logger
}

// NewFallbackBackend creates the non-cloning fallback with the configured engine.
func NewFallbackBackend(cfg FallbackConfig, log *logger.Logger) (*FallbackBackend, error) {
	var engine fallbackEngine

	switch cfg.Engine {
	case EngineEdge, "":
		engine = newEdgeEngine(cfg, log)
	case EngineEspeak:
		engine = newEspeakEngine(cfg, log)
	case EngineGoogle:
		engine = newGoogleEngine(cfg, log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, cfg.Engine)
	}

	return &FallbackBackend{engine: engine, log: log}, nil
}

// ID implements core.Backend.
func (b *FallbackBackend) ID() core.BackendID {
	return core.BackendNonCloningFallback
}

// Engine returns the name of the engine in use.
func (b *FallbackBackend) Engine() string {
	return b.engine.name()
}

// Capabilities implements core.Backend.
func (b *FallbackBackend) Capabilities() core.Capabilities {
	return core.Capabilities{RequiresSample: false, RequiresNetwork: b.engine.requiresNetwork(), QuotaBound: false}
}

// Available always succeeds. Engine problems surface as synthesis failures.
func (b *FallbackBackend) Available(_ context.Context) error {
	return nil
}

// Synthesize speaks req in the generic voice. The sample is ignored.
func (b *FallbackBackend) Synthesize(
	ctx context.Context,
	req core.NarrationRequest,
	_ *core.VoiceSample,
) (core.Audio, error) {
	b.log.Warn("Using %s fallback voice; the output is not the cloned voice", b.engine.name())

	result, err := b.engine.synthesize(ctx, req)
	if err != nil {
		return core.Audio{}, synthesisFailed(b.ID(), err)
	}

	return result, nil
}

// Close releases engine resources.
func (b *FallbackBackend) Close() error {
	return b.engine.close()
}

// edgeEngine runs the edge-tts command line tool.
type edgeEngine struct {
	executable string
	voice      string
	tempDir    string
	log        *logger.Logger
}

func newEdgeEngine(cfg FallbackConfig, log *logger.Logger) *edgeEngine {
	executable := cfg.EdgeExecutable
	if executable == "" {
		executable = defaultEdgeExecutable
	}

	voice := cfg.Voice
	if voice == "" {
		voice = defaultEdgeVoice
	}

	return &edgeEngine{executable: executable, voice: voice, tempDir: cfg.TempDir, log: log}
}

func (e *edgeEngine) name() string          { return EngineEdge }
func (e *edgeEngine) requiresNetwork() bool { return true }
func (e *edgeEngine) close() error          { return nil }

// voiceFor keeps the configured voice when it matches the request language.
func (e *edgeEngine) voiceFor(language string) string {
	base := baseLanguage(language)
	if strings.HasPrefix(strings.ToLower(e.voice), base+"-") {
		return e.voice
	}

	if voice, ok := edgeVoices[base]; ok {
		return voice
	}

	return e.voice
}

func (e *edgeEngine) synthesize(ctx context.Context, req core.NarrationRequest) (core.Audio, error) {
	textPath, err := writeTempText(e.tempDir, req.Text)
	if err != nil {
		return core.Audio{}, err
	}
	defer removeTemp(e.log, textPath)

	outputPath, err := tempOutputPath(e.tempDir, "edge-output-*.mp3")
	if err != nil {
		return core.Audio{}, err
	}
	defer removeTemp(e.log, outputPath)

	runErr := runTool(ctx, e.executable,
		"--voice", e.voiceFor(req.Language),
		"--file", textPath,
		"--write-media", outputPath,
	)
	if runErr != nil {
		return core.Audio{}, runErr
	}

	data, err := readToolOutput(outputPath)
	if err != nil {
		return core.Audio{}, err
	}

	return core.Audio{Data: data, Format: audio.FORMAT_MP3}, nil
}

// espeakEngine runs espeak-ng, or classic espeak when espeak-ng is missing. It
// works offline.
type espeakEngine struct {
	tempDir string
	log     *logger.Logger
	warm    *Warm[string]
}

func newEspeakEngine(cfg FallbackConfig, log *logger.Logger) *espeakEngine {
	candidates := []string{cfg.EspeakExecutable, "espeak-ng", "espeak"}

	return &espeakEngine{
		tempDir: cfg.TempDir,
		log:     log,
		warm: NewWarm("espeak executable", func(context.Context) (string, error) {
			return ttsutils.FindExecutable(candidates...)
		}, nil),
	}
}

func (e *espeakEngine) name() string          { return EngineEspeak }
func (e *espeakEngine) requiresNetwork() bool { return false }
func (e *espeakEngine) close() error          { return e.warm.Close() }

func (e *espeakEngine) synthesize(ctx context.Context, req core.NarrationRequest) (core.Audio, error) {
	executable, err := e.warm.Get(ctx)
	if err != nil {
		return core.Audio{}, err
	}

	textPath, err := writeTempText(e.tempDir, req.Text)
	if err != nil {
		return core.Audio{}, err
	}
	defer removeTemp(e.log, textPath)

	outputPath, err := tempOutputPath(e.tempDir, "espeak-output-*.wav")
	if err != nil {
		return core.Audio{}, err
	}
	defer removeTemp(e.log, outputPath)

	runErr := runTool(ctx, executable, "-v", baseLanguage(req.Language), "-w", outputPath, "-f", textPath)
	if runErr != nil {
		return core.Audio{}, runErr
	}

	data, err := readToolOutput(outputPath)
	if err != nil {
		return core.Audio{}, err
	}

	return core.Audio{Data: data, Format: audio.FORMAT_WAV}, nil
}

// googleEngine calls Cloud Text-to-Speech. Long text is sent in chunks whose MP3
// outputs are concatenated.
type googleEngine struct {
	voice  string
	log    *logger.Logger
	client *Warm[SpeechClient]
}

func newGoogleEngine(cfg FallbackConfig, log *logger.Logger) *googleEngine {
	factory := cfg.SpeechClientFactory
	if factory == nil {
		factory = NewGoogleSpeechClient
	}

	voice := cfg.Voice
	if voice == defaultEdgeVoice {
		voice = ""
	}

	return &googleEngine{
		voice:  voice,
		log:    log,
		client: NewWarm[SpeechClient]("google TTS client", factory, func(client SpeechClient) error { return client.Close() }),
	}
}

func (g *googleEngine) name() string          { return EngineGoogle }
func (g *googleEngine) requiresNetwork() bool { return true }
func (g *googleEngine) close() error          { return g.client.Close() }

func (g *googleEngine) synthesize(ctx context.Context, req core.NarrationRequest) (core.Audio, error) {
	client, err := g.client.Get(ctx)
	if err != nil {
		return core.Audio{}, err
	}

	languageCode := req.Language
	if mapped, ok := googleLanguages[baseLanguage(req.Language)]; ok && !strings.Contains(req.Language, "-") {
		languageCode = mapped
	}

	voice := &texttospeechpb.VoiceSelectionParams{LanguageCode: languageCode}
	if g.voice != "" && strings.HasPrefix(strings.ToLower(g.voice), strings.ToLower(languageCode)) {
		voice.Name = g.voice
	}

	var output bytes.Buffer

	chunks := text.Chunk(req.Text, googleChunkBytes)
	for index, chunk := range chunks {
		resp, synthErr := client.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
			Input: &texttospeechpb.SynthesisInput{
				InputSource: &texttospeechpb.SynthesisInput_Text{Text: chunk},
			},
			Voice: voice,
			AudioConfig: &texttospeechpb.AudioConfig{
				AudioEncoding: texttospeechpb.AudioEncoding_MP3,
			},
		})
		if synthErr != nil {
			return core.Audio{}, fmt.Errorf("failed to synthesize chunk %d/%d: %w", index+1, len(chunks), synthErr)
		}

		output.Write(resp.GetAudioContent())
	}

	if output.Len() == 0 {
		return core.Audio{}, ErrEmptyAudio
	}

	return core.Audio{Data: output.Bytes(), Format: audio.FORMAT_MP3}, nil
}

func baseLanguage(language string) string {
	base, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(language)), "-")
	if base == "" {
		return core.DefaultLanguage
	}

	return base
}
