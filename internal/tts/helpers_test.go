package tts_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-narrator/internal/core"
	"github.com/book-expert/voice-narrator/internal/tts/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "tts-test.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = testLogger.Close()
	})

	return testLogger
}

// writeScript writes an executable shell script standing in for an engine CLI.
func writeScript(t *testing.T, name, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o700))

	return path
}

func writeSample(t *testing.T) *core.VoiceSample {
	t.Helper()

	data, err := audio.Silence(10*time.Second, audio.CANONICAL_SAMPLE_RATE, audio.CANONICAL_CHANNELS)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "voice-sample.wav")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	return &core.VoiceSample{
		ID:              "3f0e5c1a-7b8d-4a43-9a52-1f7f0f2c9b11",
		AudioPath:       path,
		DurationSeconds: 10,
		SampleRate:      audio.CANONICAL_SAMPLE_RATE,
		Channels:        audio.CANONICAL_CHANNELS,
		SourceIdentity:  "42",
		CreatedAt:       time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC),
	}
}

func writeFixture(t *testing.T) string {
	t.Helper()

	data, err := audio.Silence(time.Second, audio.CANONICAL_SAMPLE_RATE, audio.CANONICAL_CHANNELS)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "fixture.wav")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	return path
}

func newRequest(t *testing.T, text string) core.NarrationRequest {
	t.Helper()

	req, err := core.NewNarrationRequest(text, "en")
	require.NoError(t, err)

	return req
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary files left behind")
}
