package tts_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/book-expert/voice-narrator/internal/core"
	"github.com/book-expert/voice-narrator/internal/tts"
	"github.com/book-expert/voice-narrator/internal/tts/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// barkScript answers --version and otherwise copies fixture to the --output path.
func barkScript(t *testing.T, fixture, argsFile string) string {
	t.Helper()

	return writeScript(t, "bark-clone", `
if [ "$1" = "--version" ]; then echo "bark-clone 0.3"; exit 0; fi
echo "$@" > '`+argsFile+`'
while [ $# -gt 0 ]; do
  case "$1" in
    --output) out="$2"; shift ;;
  esac
  shift
done
cp '`+fixture+`' "$out"`)
}

func TestBark_Synthesize(t *testing.T) {
	t.Parallel()

	fixture := writeFixture(t)
	argsFile := filepath.Join(t.TempDir(), "args.txt")
	tempDir := t.TempDir()
	sample := writeSample(t)

	backend := tts.NewBarkBackend(tts.BarkConfig{
		Executable: barkScript(t, fixture, argsFile),
		TempDir:    tempDir,
	}, newTestLogger(t))
	t.Cleanup(func() { _ = backend.Close() })

	assert.Equal(t, core.BackendLightweightGenerativeClone, backend.ID())
	assert.False(t, backend.Capabilities().RequiresNetwork)
	require.NoError(t, backend.Available(context.Background()))

	result, err := backend.Synthesize(context.Background(), newRequest(t, "Once upon a time."), sample)
	require.NoError(t, err)
	assert.Equal(t, audio.FORMAT_WAV, result.Format)

	expected, err := os.ReadFile(fixture)
	require.NoError(t, err)
	assert.Equal(t, expected, result.Data)

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Contains(t, string(args), "--speaker-wav "+sample.AudioPath)
	assert.Contains(t, string(args), "--language en")

	assertEmptyDir(t, tempDir)
}

func TestBark_MissingExecutable(t *testing.T) {
	t.Parallel()

	backend := tts.NewBarkBackend(tts.BarkConfig{
		Executable: filepath.Join(t.TempDir(), "no-such-bark"),
		TempDir:    t.TempDir(),
	}, newTestLogger(t))

	require.ErrorIs(t, backend.Available(context.Background()), core.ErrMissingPrerequisite)

	_, err := backend.Synthesize(context.Background(), newRequest(t, "Hello."), writeSample(t))
	require.ErrorIs(t, err, core.ErrMissingPrerequisite)
}

func TestBark_ToolFailure(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	script := writeScript(t, "bark-clone", `
if [ "$1" = "--version" ]; then exit 0; fi
echo "RuntimeError: CUDA error: out of memory" >&2
exit 3`)

	backend := tts.NewBarkBackend(tts.BarkConfig{Executable: script, TempDir: tempDir}, newTestLogger(t))

	_, err := backend.Synthesize(context.Background(), newRequest(t, "Hello."), writeSample(t))
	require.ErrorIs(t, err, core.ErrSynthesis)
	assert.True(t, strings.Contains(err.Error(), "out of memory"), err.Error())

	assertEmptyDir(t, tempDir)
}

func TestBark_EmptyOutput(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	script := writeScript(t, "bark-clone", `exit 0`)

	backend := tts.NewBarkBackend(tts.BarkConfig{Executable: script, TempDir: tempDir}, newTestLogger(t))

	_, err := backend.Synthesize(context.Background(), newRequest(t, "Hello."), writeSample(t))
	require.ErrorIs(t, err, core.ErrSynthesis)
	require.ErrorIs(t, err, tts.ErrEmptyAudio)

	assertEmptyDir(t, tempDir)
}
