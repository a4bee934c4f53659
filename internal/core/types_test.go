package core_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/book-expert/voice-narrator/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNarrationRequest(t *testing.T) {
	t.Parallel()

	req, err := core.NewNarrationRequest("  Hola, ¿qué tal?  ", "")
	require.NoError(t, err)

	assert.Equal(t, "Hola, ¿qué tal?", req.Text)
	assert.Equal(t, 15, req.CharacterCount)
	assert.Equal(t, core.DefaultLanguage, req.Language)

	req, err = core.NewNarrationRequest("Bonjour", "fr")
	require.NoError(t, err)
	assert.Equal(t, "fr", req.Language)
}

func TestNewNarrationRequest_Invalid(t *testing.T) {
	t.Parallel()

	_, err := core.NewNarrationRequest("   \n\t", "en")
	require.ErrorIs(t, err, core.ErrValidation)

	_, err = core.NewNarrationRequest(string([]byte{0xff, 0xfe}), "en")
	require.ErrorIs(t, err, core.ErrValidation)
}

func TestQuotaEntry_Remaining(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 50, core.QuotaEntry{Consumed: 9950, Limit: 10000}.Remaining())
	assert.Equal(t, 0, core.QuotaEntry{Consumed: 10000, Limit: 10000}.Remaining())
	assert.Equal(t, 0, core.QuotaEntry{Consumed: 5, Limit: 0}.Remaining())
}

func TestExhaustedError(t *testing.T) {
	t.Parallel()

	attempts := []core.SynthesisAttempt{
		{Backend: core.BackendLocalNeuralClone, At: time.Now(), Outcome: core.OutcomeSkipped, Reason: core.ReasonDisabled},
		{
			Backend: core.BackendNonCloningFallback,
			At:      time.Now(),
			Outcome: core.OutcomeFailure,
			Reason:  core.ReasonSynthesisError,
			Detail:  "edge-tts exited 1",
		},
	}

	var err error = &core.ExhaustedError{Attempts: attempts}

	require.ErrorIs(t, err, core.ErrExhausted)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Contains(t, err.Error(), "non-cloning-fallback: failure (SynthesisError: edge-tts exited 1)")

	wrapped := fmt.Errorf("narrate: %w", err)

	var exhausted *core.ExhaustedError
	require.ErrorAs(t, wrapped, &exhausted)
	assert.Len(t, exhausted.Attempts, 2)
}

func TestConversionError(t *testing.T) {
	t.Parallel()

	cause := errors.New("exit status 1")
	err := &core.ConversionError{Tool: "ffmpeg", Diagnostic: "  Invalid data found  \n", Err: cause}

	require.ErrorIs(t, err, core.ErrConversion)
	require.ErrorIs(t, err, cause)
	assert.Equal(t, "audio conversion failed: ffmpeg: exit status 1: Invalid data found", err.Error())
}
