package tts

import (
	"errors"
	"fmt"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-narrator/internal/config"
	"github.com/book-expert/voice-narrator/internal/orchestrator"
)

type closingBackend interface {
	Close() error
}

// Registry owns the configured backends in their fixed priority order.
type Registry struct {
	entries  []orchestrator.Entry
	closers  []closingBackend
	fallback *FallbackBackend
	log      *logger.Logger
}

// NewRegistry builds every backend from configuration. Disabled backends are still
// listed so the audit trail records them as skipped.
func NewRegistry(cfg *config.Config, log *logger.Logger) (*Registry, error) {
	backends := cfg.Backends
	tempDir := cfg.Paths.TempDir

	local := NewXTTSBackend(XTTSConfig{
		ServerURL:   backends.LocalNeuralClone.ServerURL,
		Temperature: backends.LocalNeuralClone.Temperature,
		Timeout:     config.Seconds(backends.LocalNeuralClone.TimeoutSeconds),
	}, log)

	bark := NewBarkBackend(BarkConfig{
		Executable: backends.LightweightClone.Executable,
		TempDir:    tempDir,
	}, log)

	cloud := NewElevenLabsBackend(ElevenLabsConfig{
		BaseURL: backends.CloudClone.BaseURL,
		APIKey:  backends.CloudClone.APIKey,
		ModelID: backends.CloudClone.ModelID,
		Timeout: config.Seconds(backends.CloudClone.TimeoutSeconds),
	}, log)

	engine := backends.Fallback.Engine
	if backends.Offline && engine != EngineEspeak {
		log.Warn("Offline deployment: fallback engine %q needs network, using %s instead", engine, EngineEspeak)
		engine = EngineEspeak
	}

	fallback, err := NewFallbackBackend(FallbackConfig{
		Engine:              engine,
		Voice:               backends.Fallback.Voice,
		EdgeExecutable:      backends.Fallback.EdgeExecutable,
		EspeakExecutable:    backends.Fallback.EspeakExecutable,
		TempDir:             tempDir,
		SpeechClientFactory: nil,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create fallback backend: %w", err)
	}

	entries := []orchestrator.Entry{
		{
			Backend: local,
			Enabled: backends.LocalNeuralClone.Enabled,
			Timeout: config.Seconds(backends.LocalNeuralClone.TimeoutSeconds),
		},
		{
			Backend: bark,
			Enabled: backends.LightweightClone.Enabled,
			Timeout: config.Seconds(backends.LightweightClone.TimeoutSeconds),
		},
		{
			Backend: cloud,
			Enabled: backends.CloudClone.Enabled,
			Timeout: config.Seconds(backends.CloudClone.TimeoutSeconds),
		},
		{
			Backend: fallback,
			Enabled: backends.Fallback.Enabled,
			Timeout: config.Seconds(backends.Fallback.TimeoutSeconds),
		},
	}

	for _, entry := range entries {
		state := "enabled"
		if !entry.Enabled {
			state = "disabled"
		}

		log.Info("Backend %s %s (timeout %s)", entry.Backend.ID(), state, entry.Timeout)
	}

	return &Registry{
		entries:  entries,
		closers:  []closingBackend{local, bark, cloud, fallback},
		fallback: fallback,
		log:      log,
	}, nil
}

// Entries returns the cascade in priority order.
func (r *Registry) Entries() []orchestrator.Entry {
	out := make([]orchestrator.Entry, len(r.entries))
	copy(out, r.entries)

	return out
}

// FallbackEngine names the engine the fallback backend actually uses.
func (r *Registry) FallbackEngine() string {
	return r.fallback.Engine()
}

// Close releases warm resources and remote voices of every backend.
func (r *Registry) Close() error {
	var errs []error

	for _, closer := range r.closers {
		err := closer.Close()
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
