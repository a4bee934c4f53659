// Package tts adapts heterogeneous speech engines to the uniform synthesis
// backend used by the orchestrator: a local XTTS server, a Bark subprocess, the
// ElevenLabs voice-clone API and a generic non-cloning voice.
package tts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-narrator/internal/core"
)

const (
	filePermissions  = 0o600
	maxDiagnosticLen = 512
)

// Static errors.
var (
	ErrTextEmpty      = errors.New("text cannot be empty")
	ErrEmptyAudio     = errors.New("received empty audio data")
	ErrSampleRequired = errors.New("voice sample required")
	ErrEmptyVoiceID   = errors.New("service returned no voice id")
)

func missingPrerequisite(format string, args ...any) error {
	return fmt.Errorf("%w: %s", core.ErrMissingPrerequisite, fmt.Sprintf(format, args...))
}

func synthesisFailed(backend core.BackendID, err error) error {
	return fmt.Errorf("%w: %s: %w", core.ErrSynthesis, backend, err)
}

func requireSample(sample *core.VoiceSample) error {
	if sample == nil || sample.AudioPath == "" {
		return fmt.Errorf("%w: %w", core.ErrMissingPrerequisite, ErrSampleRequired)
	}

	return nil
}

// writeTempText stores narration text in a temp file for tools that read it from disk.
func writeTempText(dir, text string) (string, error) {
	tempFile, err := os.CreateTemp(dir, "narration-*.txt")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file for narration text: %w", err)
	}

	_, writeErr := tempFile.WriteString(text)
	closeErr := tempFile.Close()

	err = errors.Join(writeErr, closeErr)
	if err != nil {
		removeTemp(nil, tempFile.Name())

		return "", fmt.Errorf("failed to write narration text: %w", err)
	}

	return tempFile.Name(), nil
}

// tempOutputPath reserves a temp file name for a tool to write into.
func tempOutputPath(dir, pattern string) (string, error) {
	tempFile, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file for tool output: %w", err)
	}

	closeErr := tempFile.Close()
	if closeErr != nil {
		removeTemp(nil, tempFile.Name())

		return "", fmt.Errorf("failed to close temp output file: %w", closeErr)
	}

	return tempFile.Name(), nil
}

func removeTemp(log *logger.Logger, path string) {
	removeErr := os.Remove(path)
	if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) && log != nil {
		log.Warn("Failed to remove temp file '%s': %v", path, removeErr)
	}
}

// runTool runs an external engine and returns its combined output on failure.
func runTool(ctx context.Context, binary string, args ...string) error {
	// #nosec G204 -- binary comes from configuration, arguments are generated
	cmd := exec.CommandContext(ctx, binary, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s execution failed: %w - output: %s", binary, err, truncate(string(output)))
	}

	return nil
}

func readToolOutput(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data from temp file: %w", err)
	}

	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}

	return data, nil
}

func truncate(diagnostic string) string {
	diagnostic = strings.TrimSpace(diagnostic)
	if len(diagnostic) <= maxDiagnosticLen {
		return diagnostic
	}

	return diagnostic[:maxDiagnosticLen] + "..."
}
