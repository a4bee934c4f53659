package tts

import (
	"context"
	"fmt"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-narrator/internal/core"
	"github.com/book-expert/voice-narrator/internal/tts/audio"
	"github.com/book-expert/voice-narrator/internal/tts/ttsutils"
)

const defaultBarkExecutable = "bark-clone"

// BarkConfig configures the lightweight generative clone backend.
type BarkConfig struct {
	Executable string
	TempDir    string
}

// BarkBackend runs the Bark voice-prompt script as a subprocess. Its cloning is
// approximate: the sample conditions the generation rather than defining the voice.
type BarkBackend struct {
	cfg  BarkConfig
	log  *logger.Logger
	warm *Warm[string]
}

// NewBarkBackend creates the lightweight generative clone backend.
func NewBarkBackend(cfg BarkConfig, log *logger.Logger) *BarkBackend {
	if cfg.Executable == "" {
		cfg.Executable = defaultBarkExecutable
	}

	backend := &BarkBackend{cfg: cfg, log: log}
	backend.warm = NewWarm("bark executable", func(ctx context.Context) (string, error) {
		path, err := ttsutils.FindExecutable(cfg.Executable)
		if err != nil {
			return "", err
		}

		versionErr := runTool(ctx, path, "--version")
		if versionErr != nil {
			return "", versionErr
		}

		log.Info("Bark executable resolved at %s", path)

		return path, nil
	}, nil)

	return backend
}

// ID implements core.Backend.
func (b *BarkBackend) ID() core.BackendID {
	return core.BackendLightweightGenerativeClone
}

// Capabilities implements core.Backend.
func (b *BarkBackend) Capabilities() core.Capabilities {
	return core.Capabilities{RequiresSample: true, RequiresNetwork: false, QuotaBound: false}
}

// Available reports whether the executable can be found and runs.
func (b *BarkBackend) Available(ctx context.Context) error {
	_, err := b.warm.Get(ctx)
	if err != nil {
		return missingPrerequisite("bark unavailable: %v", err)
	}

	return nil
}

// Synthesize generates WAV speech conditioned on sample.
func (b *BarkBackend) Synthesize(
	ctx context.Context,
	req core.NarrationRequest,
	sample *core.VoiceSample,
) (core.Audio, error) {
	sampleErr := requireSample(sample)
	if sampleErr != nil {
		return core.Audio{}, sampleErr
	}

	executable, err := b.warm.Get(ctx)
	if err != nil {
		return core.Audio{}, missingPrerequisite("bark unavailable: %v", err)
	}

	textPath, err := writeTempText(b.cfg.TempDir, req.Text)
	if err != nil {
		return core.Audio{}, synthesisFailed(b.ID(), err)
	}
	defer removeTemp(b.log, textPath)

	outputPath, err := tempOutputPath(b.cfg.TempDir, "bark-output-*.wav")
	if err != nil {
		return core.Audio{}, synthesisFailed(b.ID(), err)
	}
	defer removeTemp(b.log, outputPath)

	args := []string{
		"--text-file", textPath,
		"--speaker-wav", sample.AudioPath,
		"--language", strings.ToLower(req.Language),
		"--output", outputPath,
	}

	runErr := runTool(ctx, executable, args...)
	if runErr != nil {
		return core.Audio{}, synthesisFailed(b.ID(), runErr)
	}

	data, err := readToolOutput(outputPath)
	if err != nil {
		return core.Audio{}, synthesisFailed(b.ID(), err)
	}

	return core.Audio{Data: data, Format: audio.FORMAT_WAV}, nil
}

// Close releases the warm state.
func (b *BarkBackend) Close() error {
	err := b.warm.Close()
	if err != nil {
		return fmt.Errorf("bark: %w", err)
	}

	return nil
}
