// Package worker provides a NATS worker that processes narration jobs.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/voice-narrator/internal/core"
	"github.com/book-expert/voice-narrator/internal/tts/audio"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const defaultJobTimeout = 15 * time.Minute

var (
	// ErrTextKeyEmpty indicates that the event does not point at any narration text.
	ErrTextKeyEmpty = errors.New("text key cannot be empty")
	// ErrWorkflowIDEmpty indicates that the event header carries no workflow id.
	ErrWorkflowIDEmpty = errors.New("workflow id cannot be empty")
	// ErrUnsupportedFormat indicates that the requested output format is unknown.
	ErrUnsupportedFormat = errors.New("unsupported output format")
)

// NarrationRequestedEvent asks for the text stored under TextKey to be narrated.
type NarrationRequestedEvent struct {
	Header   events.EventHeader `json:"header"`
	TextKey  string             `json:"text_key"`
	Language string             `json:"language,omitempty"`
	// Format of the uploaded audio. Empty keeps the producing backend's format.
	Format string `json:"format,omitempty"`
}

// NarrationCompletedEvent reports the outcome of a narration job. Error is set and
// AudioKey empty when no audio was produced.
type NarrationCompletedEvent struct {
	Header          events.EventHeader      `json:"header"`
	TextKey         string                  `json:"text_key"`
	AudioKey        string                  `json:"audio_key,omitempty"`
	Format          string                  `json:"format,omitempty"`
	Backend         core.BackendID          `json:"backend,omitempty"`
	IsTrueClone     bool                    `json:"is_true_clone"`
	DurationSeconds float64                 `json:"duration_seconds"`
	SizeBytes       int64                   `json:"size_bytes"`
	Attempts        []core.SynthesisAttempt `json:"attempts,omitempty"`
	Error           string                  `json:"error,omitempty"`
}

// Narrator is the narration pipeline the worker drives.
type Narrator interface {
	CurrentSample(ctx context.Context) (*core.VoiceSample, error)
	Narrate(ctx context.Context, rawText, language string, sample *core.VoiceSample) (core.SynthesisResult, error)
	Render(ctx context.Context, result core.SynthesisResult, format audio.Format) ([]byte, error)
}

// Config holds the worker subjects and job bound.
type Config struct {
	Subject string
	// QueueGroup, when set, spreads jobs over every worker in the group.
	QueueGroup       string
	CompletedSubject string
	JobTimeout       time.Duration
}

// NatsWorker listens for narration jobs on a NATS subject and processes them one
// at a time.
type NatsWorker struct {
	natsConnection *nats.Conn
	cfg            Config
	textStore      core.ObjectStore
	audioStore     core.ObjectStore
	narrator       Narrator
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	cfg Config,
	textStore core.ObjectStore,
	audioStore core.ObjectStore,
	narrator Narrator,
	log *logger.Logger,
) *NatsWorker {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		cfg:            cfg,
		textStore:      textStore,
		audioStore:     audioStore,
		narrator:       narrator,
		log:            log,
	}
}

// Run starts the worker and blocks until ctx is done.
func (w *NatsWorker) Run(ctx context.Context) error {
	var (
		sub *nats.Subscription
		err error
	)

	if w.cfg.QueueGroup != "" {
		sub, err = w.natsConnection.QueueSubscribe(w.cfg.Subject, w.cfg.QueueGroup, w.handleMessage)
	} else {
		sub, err = w.natsConnection.Subscribe(w.cfg.Subject, w.handleMessage)
	}

	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.cfg.Subject, err)
	}

	w.log.Info("Listening for narration jobs on %s", w.cfg.Subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.JobTimeout)
	defer cancel()

	event, err := w.parseAndValidateEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse and validate event: %v", err)

		return
	}

	completed := w.processNarrationJob(ctx, event)

	err = w.publishCompletedEvent(msg, completed)
	if err != nil {
		w.log.Error("Failed to publish completion for workflow %s: %v", event.Header.WorkflowID, err)
	}
}

// processNarrationJob downloads the text, runs the cascade and uploads the audio.
// Failures are reported inside the returned event.
func (w *NatsWorker) processNarrationJob(ctx context.Context, event *NarrationRequestedEvent) *NarrationCompletedEvent {
	completed := &NarrationCompletedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now().UTC(),
			WorkflowID: event.Header.WorkflowID,
			EventID:    uuid.NewString(),
			UserID:     event.Header.UserID,
			TenantID:   event.Header.TenantID,
		},
		TextKey: event.TextKey,
	}

	result, audioKey, format, err := w.narrate(ctx, event)
	completed.Attempts = result.Attempts

	if err != nil {
		var exhausted *core.ExhaustedError
		if errors.As(err, &exhausted) {
			completed.Attempts = exhausted.Attempts
		}

		completed.Error = err.Error()
		w.log.Error("Narration job %s failed: %v", event.Header.WorkflowID, err)

		return completed
	}

	completed.AudioKey = audioKey
	completed.Format = string(format)
	completed.Backend = result.Backend
	completed.IsTrueClone = result.IsTrueClone
	completed.DurationSeconds = result.Duration.Seconds()
	completed.SizeBytes = result.FileSize

	w.log.Info("Narration job %s done by %s: %s (%d bytes)",
		event.Header.WorkflowID, result.Backend, audioKey, result.FileSize)

	return completed
}

func (w *NatsWorker) narrate(
	ctx context.Context,
	event *NarrationRequestedEvent,
) (core.SynthesisResult, string, audio.Format, error) {
	textData, err := w.textStore.Download(ctx, event.TextKey)
	if err != nil {
		return core.SynthesisResult{}, "", "", fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	sample, err := w.narrator.CurrentSample(ctx)
	if err != nil {
		return core.SynthesisResult{}, "", "", err
	}

	result, err := w.narrator.Narrate(ctx, string(textData), event.Language, sample)
	if err != nil {
		return result, "", "", fmt.Errorf("failed to narrate text: %w", err)
	}

	format := audio.Format(strings.ToLower(event.Format))
	if format == audio.FORMAT_UNKNOWN {
		format = result.Audio.Format
	}

	audioData, err := w.narrator.Render(ctx, result, format)
	if err != nil {
		return result, "", "", err
	}

	audioKey := uuid.NewString() + "." + string(format)

	err = w.audioStore.Upload(ctx, audioKey, audioData)
	if err != nil {
		return result, "", "", fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err)
	}

	result.OutputPath = audioKey
	result.FileSize = int64(len(audioData))

	return result, audioKey, format, nil
}

// publishCompletedEvent answers the request and announces the outcome on the
// completion subject.
func (w *NatsWorker) publishCompletedEvent(msg *nats.Msg, completed *NarrationCompletedEvent) error {
	data, err := json.Marshal(completed)
	if err != nil {
		return fmt.Errorf("failed to marshal completion event: %w", err)
	}

	var errs []error

	if msg.Reply != "" {
		respondErr := msg.Respond(data)
		if respondErr != nil {
			errs = append(errs, fmt.Errorf("failed to respond: %w", respondErr))
		}
	}

	if w.cfg.CompletedSubject != "" {
		publishErr := w.natsConnection.Publish(w.cfg.CompletedSubject, data)
		if publishErr != nil {
			errs = append(errs, fmt.Errorf("failed to publish to %s: %w", w.cfg.CompletedSubject, publishErr))
		}
	}

	return errors.Join(errs...)
}

func (w *NatsWorker) parseAndValidateEvent(msg *nats.Msg) (*NarrationRequestedEvent, error) {
	var event NarrationRequestedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal narration event: %w", err)
	}

	if event.Header.WorkflowID == "" {
		return nil, ErrWorkflowIDEmpty
	}

	if event.TextKey == "" {
		return nil, ErrTextKeyEmpty
	}

	if event.Format != "" && !supportedFormat(audio.Format(strings.ToLower(event.Format))) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, event.Format)
	}

	return &event, nil
}

func supportedFormat(format audio.Format) bool {
	switch format {
	case audio.FORMAT_WAV, audio.FORMAT_MP3, audio.FORMAT_FLAC, audio.FORMAT_OGG,
		audio.FORMAT_OPUS, audio.FORMAT_M4A, audio.FORMAT_AAC:
		return true
	default:
		return false
	}
}
