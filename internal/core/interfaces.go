// Package core defines the domain types and interfaces shared by the voice-narrator
// components.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// Backend is a uniform synthesis capability wrapping one engine or external service.
// The sample is nil for backends that do not require one.
type Backend interface {
	ID() BackendID
	Capabilities() Capabilities
	// Available reports a missing credential, binary or endpoint as
	// ErrMissingPrerequisite. It must not perform synthesis.
	Available(ctx context.Context) error
	Synthesize(ctx context.Context, req NarrationRequest, sample *VoiceSample) (Audio, error)
}

// SampleStore persists exactly one canonical voice sample.
type SampleStore interface {
	Save(ctx context.Context, audio CanonicalAudio, meta SampleMetadata) (*VoiceSample, error)
	Current(ctx context.Context) (*VoiceSample, error)
	Exists(ctx context.Context) bool
}

// Converter normalizes arbitrary input audio into the canonical sample format.
type Converter interface {
	Convert(ctx context.Context, raw []byte, sourceFormat string) (CanonicalAudio, error)
}

// Ledger meters character consumption of quota-bound backends per billing period.
type Ledger interface {
	Remaining(ctx context.Context, backend BackendID, period string) (int, error)
	Commit(ctx context.Context, backend BackendID, period string, characters int) (QuotaEntry, error)
}
