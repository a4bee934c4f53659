package converter_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-narrator/internal/converter"
	"github.com/book-expert/voice-narrator/internal/core"
	"github.com/book-expert/voice-narrator/internal/tts/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "converter-test.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = testLogger.Close()
	})

	return testLogger
}

// writeStub writes an ffmpeg stand-in that records its arguments and then runs body.
// The last argument is always the output path, available as $out.
func writeStub(t *testing.T, body string) (binary, argsFile string) {
	t.Helper()

	dir := t.TempDir()
	binary = filepath.Join(dir, "ffmpeg")
	argsFile = filepath.Join(dir, "args.txt")

	script := "#!/bin/sh\n" +
		"echo \"$@\" > '" + argsFile + "'\n" +
		"for arg in \"$@\"; do out=\"$arg\"; done\n" +
		body + "\n"

	require.NoError(t, os.WriteFile(binary, []byte(script), 0o700))

	return binary, argsFile
}

func writeFixture(t *testing.T, seconds time.Duration, rate, channels int) string {
	t.Helper()

	data, err := audio.Silence(seconds, rate, channels)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "fixture.wav")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	return path
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary files left behind")
}

func TestConvert_Success(t *testing.T) {
	t.Parallel()

	fixture := writeFixture(t, 10*time.Second, audio.CANONICAL_SAMPLE_RATE, 1)
	binary, argsFile := writeStub(t, "cp '"+fixture+"' \"$out\"")
	tempDir := t.TempDir()

	conv := converter.New(converter.Config{Binary: binary, TempDir: tempDir, Timeout: 5 * time.Second}, newTestLogger(t))

	canonical, err := conv.Convert(context.Background(), []byte("OggS fake voice note"), "ogg")
	require.NoError(t, err)

	assert.InDelta(t, 10.0, canonical.Info.Seconds(), 0.01)
	assert.Equal(t, audio.CANONICAL_SAMPLE_RATE, canonical.Info.SampleRate)
	assert.Equal(t, 1, canonical.Info.Channels)
	assert.NotEmpty(t, canonical.Data)

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Contains(t, string(args), "-ar 22050 -ac 1 -c:a pcm_s16le -f wav")
	assert.Contains(t, string(args), ".ogg")

	assertEmptyDir(t, tempDir)
}

func TestConvert_UnsafeSourceFormatStaysInTempDir(t *testing.T) {
	t.Parallel()

	fixture := writeFixture(t, 10*time.Second, audio.CANONICAL_SAMPLE_RATE, 1)
	binary, argsFile := writeStub(t, "cp '"+fixture+"' \"$out\"")
	parent := t.TempDir()
	tempDir := filepath.Join(parent, "tmp")
	require.NoError(t, os.Mkdir(tempDir, 0o750))

	conv := converter.New(converter.Config{Binary: binary, TempDir: tempDir, Timeout: 5 * time.Second}, newTestLogger(t))

	_, err := conv.Convert(context.Background(), []byte("OggS fake voice note"), "../escaped")
	require.NoError(t, err)

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.NotContains(t, string(args), "..")

	assertEmptyDir(t, tempDir)

	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "tmp", entries[0].Name())
}

func TestConvert_ToolFailure(t *testing.T) {
	t.Parallel()

	binary, _ := writeStub(t, "echo 'Invalid data found when processing input' >&2\nexit 1")
	tempDir := t.TempDir()

	conv := converter.New(converter.Config{Binary: binary, TempDir: tempDir, Timeout: 5 * time.Second}, newTestLogger(t))

	_, err := conv.Convert(context.Background(), []byte("garbage"), "ogg")
	require.ErrorIs(t, err, core.ErrConversion)

	var conversionErr *core.ConversionError
	require.ErrorAs(t, err, &conversionErr)
	assert.Equal(t, "ffmpeg", conversionErr.Tool)
	assert.Contains(t, conversionErr.Diagnostic, "Invalid data found")

	assertEmptyDir(t, tempDir)
}

func TestConvert_RejectsNonCanonicalOutput(t *testing.T) {
	t.Parallel()

	fixture := writeFixture(t, 2*time.Second, 44100, 2)
	binary, _ := writeStub(t, "cp '"+fixture+"' \"$out\"")
	tempDir := t.TempDir()

	conv := converter.New(converter.Config{Binary: binary, TempDir: tempDir, Timeout: 5 * time.Second}, newTestLogger(t))

	_, err := conv.Convert(context.Background(), []byte("voice"), "mp3")
	require.ErrorIs(t, err, core.ErrConversion)
	require.ErrorIs(t, err, audio.ErrNotCanonical)

	assertEmptyDir(t, tempDir)
}

func TestConvert_EmptyInput(t *testing.T) {
	t.Parallel()

	conv := converter.New(converter.Config{Binary: "/nonexistent/ffmpeg", TempDir: t.TempDir()}, newTestLogger(t))

	_, err := conv.Convert(context.Background(), nil, "ogg")
	require.ErrorIs(t, err, core.ErrConversion)
	require.ErrorIs(t, err, converter.ErrEmptyInput)
}

func TestConvert_MissingBinary(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	conv := converter.New(converter.Config{Binary: "/nonexistent/ffmpeg", TempDir: tempDir}, newTestLogger(t))

	_, err := conv.Convert(context.Background(), []byte("voice"), "ogg")
	require.ErrorIs(t, err, core.ErrConversion)

	assertEmptyDir(t, tempDir)
}

func TestTranscode(t *testing.T) {
	t.Parallel()

	fixture := writeFixture(t, time.Second, audio.CANONICAL_SAMPLE_RATE, 1)
	binary, argsFile := writeStub(t, "cp '"+fixture+"' \"$out\"")
	tempDir := t.TempDir()

	conv := converter.New(converter.Config{Binary: binary, TempDir: tempDir, Timeout: 5 * time.Second}, newTestLogger(t))

	input := []byte("wav bytes")

	same, err := conv.Transcode(context.Background(), input, audio.FORMAT_WAV, audio.FORMAT_WAV)
	require.NoError(t, err)
	assert.Equal(t, input, same)

	_, err = conv.Transcode(context.Background(), input, audio.FORMAT_WAV, audio.FORMAT_UNKNOWN)
	require.ErrorIs(t, err, converter.ErrUnsupportedFormat)

	out, err := conv.Transcode(context.Background(), input, audio.FORMAT_WAV, audio.FORMAT_M4A)
	require.NoError(t, err)
	assert.NotEmpty(t, out)

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Contains(t, string(args), "-vn -f ipod")

	assertEmptyDir(t, tempDir)
}
