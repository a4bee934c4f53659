// Package ingest runs an inbound voice-sample event through the gatekeeper, the
// converter and the sample store, and words the reply for the sender.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-narrator/internal/core"
	"github.com/book-expert/voice-narrator/internal/gatekeeper"
	"github.com/book-expert/voice-narrator/internal/tts/ttsutils"
	"golang.org/x/time/rate"
)

// Reply texts. Durations are reported as the transport gave them.
const (
	MsgUnauthorized = "❌ You're not authorized to use this bot."
	MsgTooShort     = "⚠️ Voice message too short (less than 5 seconds)\n" +
		"Please send a longer sample (10-30 seconds recommended)"
	MsgTooLong = "⚠️ Voice message too long (more than 60 seconds)\n" +
		"Please send a shorter sample (10-30 seconds recommended)"
	MsgRateLimited  = "⏳ Too many voice samples in a short time. Please wait a minute and try again."
	msgFmtReceiving = "📥 Downloading voice sample (%s)..."
	msgFmtAccepted  = "✅ Voice sample saved!\nDuration: %s\nFile: %s\n\n" +
		"You can now narrate text with your cloned voice! 🎬"
	msgFmtConversion  = "❌ Error converting audio:\n%s"
	msgFmtFailed      = "❌ Could not save the voice sample: %v"
	msgFmtStatusFound = "✅ Voice sample exists\nSize: %s\nPath: %s\nDuration: %s\nUpdated: %s"
	MsgStatusMissing  = "❌ No voice sample found\nSend me a voice message to create one!"
)

// ErrRateLimited is returned in a Reply when downloads arrive too quickly.
var ErrRateLimited = errors.New("voice sample rate limit reached")

// Event is an inbound voice message. Fetch downloads the payload and is only
// called once the gatekeeper has accepted the event.
type Event struct {
	SenderID        string
	DurationSeconds float64
	SourceFormat    string
	Fetch           func(ctx context.Context) ([]byte, error)
	// Notify, when set, receives progress messages before the final reply.
	Notify func(message string)
}

// Reply is the outcome of one event.
type Reply struct {
	Accepted bool
	Reason   gatekeeper.Reason
	Text     string
	Sample   *core.VoiceSample
	Err      error
}

// Status describes the stored sample.
type Status struct {
	Exists          bool
	Path            string
	SizeBytes       int64
	DurationSeconds float64
	CreatedAt       time.Time
}

// Config holds ingestion limits.
type Config struct {
	// DownloadsPerMinute bounds accepted downloads; zero disables the limit.
	DownloadsPerMinute int
}

// Service handles voice-sample events one at a time.
type Service struct {
	gate      *gatekeeper.Gatekeeper
	converter core.Converter
	store     core.SampleStore
	limiter   *rate.Limiter
	log       *logger.Logger
}

// New creates the ingestion service.
func New(
	gate *gatekeeper.Gatekeeper,
	converter core.Converter,
	store core.SampleStore,
	cfg Config,
	log *logger.Logger,
) *Service {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.DownloadsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.DownloadsPerMinute)), cfg.DownloadsPerMinute)
	}

	return &Service{gate: gate, converter: converter, store: store, limiter: limiter, log: log}
}

// Handle evaluates the event and, when accepted, converts and stores the sample.
// Nothing is downloaded or stored for a rejected event.
func (s *Service) Handle(ctx context.Context, event Event) Reply {
	decision := s.gate.Evaluate(event.SenderID, event.DurationSeconds)
	if !decision.Accepted {
		s.log.Warn("Rejected voice sample from %s (%.1fs): %v", event.SenderID, event.DurationSeconds, decision.Err)

		return Reply{Accepted: false, Reason: decision.Reason, Text: rejectionText(decision.Reason), Err: decision.Err}
	}

	if !s.limiter.Allow() {
		s.log.Warn("Rate limited voice sample from %s", event.SenderID)

		return Reply{Accepted: false, Reason: gatekeeper.ReasonNone, Text: MsgRateLimited, Err: ErrRateLimited}
	}

	if event.Notify != nil {
		event.Notify(fmt.Sprintf(msgFmtReceiving, ttsutils.FormatDuration(event.DurationSeconds)))
	}

	sample, err := s.ingest(ctx, event)
	if err != nil {
		s.log.Error("Failed to ingest voice sample from %s: %v", event.SenderID, err)

		var conversionErr *core.ConversionError
		if errors.As(err, &conversionErr) {
			diagnostic := conversionErr.Diagnostic
			if diagnostic == "" {
				diagnostic = conversionErr.Error()
			}

			return Reply{Text: fmt.Sprintf(msgFmtConversion, diagnostic), Err: err}
		}

		return Reply{Text: fmt.Sprintf(msgFmtFailed, err), Err: err}
	}

	s.log.Info("Voice sample %s saved from user %s, duration: %.1fs", sample.ID, sample.SourceIdentity, sample.DurationSeconds)

	return Reply{
		Accepted: true,
		Reason:   gatekeeper.ReasonNone,
		Text: fmt.Sprintf(msgFmtAccepted,
			ttsutils.FormatDuration(sample.DurationSeconds), sample.AudioPath),
		Sample: sample,
	}
}

// Status reports whether a sample is stored, with its size and duration.
func (s *Service) Status(ctx context.Context) (Status, error) {
	sample, err := s.store.Current(ctx)
	if errors.Is(err, core.ErrNoSample) {
		return Status{}, nil
	}

	if err != nil {
		return Status{}, fmt.Errorf("failed to read voice sample: %w", err)
	}

	info, err := os.Stat(sample.AudioPath)
	if err != nil {
		return Status{}, fmt.Errorf("failed to stat voice sample: %w", err)
	}

	return Status{
		Exists:          true,
		Path:            sample.AudioPath,
		SizeBytes:       info.Size(),
		DurationSeconds: sample.DurationSeconds,
		CreatedAt:       sample.CreatedAt,
	}, nil
}

// StatusText words a Status for the sender.
func StatusText(status Status) string {
	if !status.Exists {
		return MsgStatusMissing
	}

	return fmt.Sprintf(msgFmtStatusFound,
		ttsutils.FormatKilobytes(status.SizeBytes),
		status.Path,
		ttsutils.FormatDuration(status.DurationSeconds),
		status.CreatedAt.Format(time.RFC3339),
	)
}

func (s *Service) ingest(ctx context.Context, event Event) (*core.VoiceSample, error) {
	if event.Fetch == nil {
		return nil, fmt.Errorf("%w: voice event has no payload", core.ErrValidation)
	}

	raw, err := event.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to download voice sample: %w", err)
	}

	canonical, err := s.converter.Convert(ctx, raw, event.SourceFormat)
	if err != nil {
		return nil, err
	}

	sample, err := s.store.Save(ctx, canonical, core.SampleMetadata{
		SourceIdentity:  event.SenderID,
		DurationSeconds: event.DurationSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store voice sample: %w", err)
	}

	return sample, nil
}

func rejectionText(reason gatekeeper.Reason) string {
	switch reason {
	case gatekeeper.ReasonTooShort:
		return MsgTooShort
	case gatekeeper.ReasonTooLong:
		return MsgTooLong
	default:
		return MsgUnauthorized
	}
}
