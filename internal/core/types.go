package core

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/book-expert/voice-narrator/internal/tts/audio"
)

// BackendID names a synthesis backend in the cascade.
type BackendID string

// Backend identifiers, listed in their default priority order.
const (
	BackendLocalNeuralClone           BackendID = "local-neural-clone"
	BackendLightweightGenerativeClone BackendID = "lightweight-generative-clone"
	BackendCloudCloneAPI              BackendID = "cloud-clone-api"
	BackendNonCloningFallback         BackendID = "non-cloning-fallback"
)

// DefaultLanguage is used when a narration request does not name a language.
const DefaultLanguage = "en"

// Capabilities is the descriptor checked before a backend is invoked.
type Capabilities struct {
	RequiresSample  bool `json:"requires_sample"`
	RequiresNetwork bool `json:"requires_network"`
	QuotaBound      bool `json:"quota_bound"`
}

// Audio is encoded audio produced by a backend or read from disk.
type Audio struct {
	Data   []byte
	Format audio.Format
}

// CanonicalAudio is audio already normalized to the canonical sample format.
type CanonicalAudio struct {
	Data []byte
	Info audio.Info
}

// SampleMetadata describes where an accepted sample came from.
type SampleMetadata struct {
	SourceIdentity  string
	DurationSeconds float64
}

// VoiceSample is the current canonical voice sample of the deployment.
type VoiceSample struct {
	ID              string    `json:"id"`
	AudioPath       string    `json:"audio_path"`
	DurationSeconds float64   `json:"duration_seconds"`
	SampleRate      int       `json:"sample_rate"`
	Channels        int       `json:"channels"`
	SourceIdentity  string    `json:"source_identity"`
	CreatedAt       time.Time `json:"created_at"`
}

// NarrationRequest is the text to synthesize.
type NarrationRequest struct {
	Text           string
	CharacterCount int
	Language       string
}

// NewNarrationRequest validates text and counts its characters as runes.
func NewNarrationRequest(text, language string) (NarrationRequest, error) {
	if !utf8.ValidString(text) {
		return NarrationRequest{}, fmt.Errorf("%w: narration text is not valid UTF-8", ErrValidation)
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return NarrationRequest{}, fmt.Errorf("%w: narration text is empty", ErrValidation)
	}

	lang := strings.TrimSpace(language)
	if lang == "" {
		lang = DefaultLanguage
	}

	return NarrationRequest{
		Text:           trimmed,
		CharacterCount: utf8.RuneCountInString(trimmed),
		Language:       lang,
	}, nil
}

// Outcome is the result of one backend attempt.
type Outcome string

// Attempt outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeSkipped Outcome = "skipped"
)

// Reason qualifies a skipped or failed attempt.
type Reason string

// Attempt reasons.
const (
	ReasonNone                Reason = ""
	ReasonDisabled            Reason = "Disabled"
	ReasonMissingPrerequisite Reason = "MissingPrerequisite"
	ReasonQuotaInsufficient   Reason = "QuotaInsufficient"
	ReasonSynthesisError      Reason = "SynthesisError"
	ReasonTimeout             Reason = "Timeout"
)

// SynthesisAttempt is one entry of the per-request audit trail.
type SynthesisAttempt struct {
	Backend BackendID `json:"backend"`
	At      time.Time `json:"at"`
	Outcome Outcome   `json:"outcome"`
	Reason  Reason    `json:"reason,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}

func (a SynthesisAttempt) String() string {
	if a.Reason == ReasonNone {
		return fmt.Sprintf("%s: %s", a.Backend, a.Outcome)
	}

	if a.Detail == "" {
		return fmt.Sprintf("%s: %s (%s)", a.Backend, a.Outcome, a.Reason)
	}

	return fmt.Sprintf("%s: %s (%s: %s)", a.Backend, a.Outcome, a.Reason, a.Detail)
}

// SynthesisResult is the audio of the one backend that succeeded.
type SynthesisResult struct {
	Audio       Audio
	Duration    time.Duration
	Backend     BackendID
	IsTrueClone bool
	Attempts    []SynthesisAttempt
	// OutputPath and FileSize are filled in once the audio has been persisted.
	OutputPath string
	FileSize   int64
}

// QuotaEntry is a snapshot of one ledger row.
type QuotaEntry struct {
	Backend  BackendID `json:"backend"`
	Period   string    `json:"period"`
	Consumed int       `json:"consumed"`
	Limit    int       `json:"limit"`
}

// Remaining returns the characters still available in the period.
func (e QuotaEntry) Remaining() int {
	if e.Consumed >= e.Limit {
		return 0
	}

	return e.Limit - e.Consumed
}
