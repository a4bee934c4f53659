// Package telegram receives voice samples and commands from the bot's long-polling
// update stream and answers them through the ingestion service.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-narrator/internal/ingest"
	"github.com/book-expert/voice-narrator/internal/tts/ttsutils"
	"github.com/mymmrac/telego"
)

const (
	msgStart = "🎙️ Voice Cloning Bot\n\n" +
		"Send me a voice message (10-30 seconds) and I'll save it as your voice sample.\n\n" +
		"Tips for best results:\n" +
		"• Speak naturally\n" +
		"• Clear audio, no background noise\n" +
		"• 10-30 seconds of varied speech\n" +
		"• Read a paragraph or tell a short story"
	msgHelp = "🎤 How to use:\n\n" +
		"1. Record a voice message (10-30 seconds)\n" +
		"2. Send it to me\n" +
		"3. I'll save it as your voice sample\n" +
		"4. Narrate text with your voice\n\n" +
		"Commands:\n" +
		"/start - Start the bot\n" +
		"/help - Show this help\n" +
		"/status - Check if voice sample exists"
	msgUnknown      = "Send me a voice message, or /help for the commands."
	msgStatusFailed = "❌ Could not read the voice sample status."

	commandStart  = "/start"
	commandHelp   = "/help"
	commandStatus = "/status"

	formatVoice = "ogg"
	formatAudio = "mp3"

	maxDownloadBytes = 20 << 20
	downloadTimeout  = 2 * time.Minute
)

var (
	// ErrEmptyFilePath is returned when the bot API gives no download path.
	ErrEmptyFilePath = errors.New("telegram returned an empty file path")
	// ErrDownloadStatus is returned for a non-200 file download.
	ErrDownloadStatus = errors.New("unexpected file download status")
	// ErrDownloadTooLarge is returned when a file exceeds the download limit.
	ErrDownloadTooLarge = errors.New("file download too large")
)

// API is the part of the bot API the adapter uses. *telego.Bot satisfies it.
type API interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	GetFile(ctx context.Context, params *telego.GetFileParams) (*telego.File, error)
	FileDownloadURL(filepath string) string
}

// Ingester handles accepted voice events and status lookups.
type Ingester interface {
	Handle(ctx context.Context, event ingest.Event) ingest.Reply
	Status(ctx context.Context) (ingest.Status, error)
}

// Bot dispatches updates. Updates are handled sequentially, so samples are
// stored in arrival order.
type Bot struct {
	api        API
	ingester   Ingester
	httpClient *http.Client
	log        *logger.Logger
}

// New creates the bot adapter.
func New(api API, ingester Ingester, log *logger.Logger) *Bot {
	return &Bot{
		api:        api,
		ingester:   ingester,
		httpClient: &http.Client{Timeout: downloadTimeout},
		log:        log,
	}
}

// Run handles updates until ctx is done or the channel is closed.
func (b *Bot) Run(ctx context.Context, updates <-chan telego.Update) {
	b.log.Info("Telegram bot is listening for voice samples")

	for {
		select {
		case <-ctx.Done():
			b.log.Info("Telegram bot stopping")

			return
		case update, ok := <-updates:
			if !ok {
				b.log.Warn("Telegram update channel closed")

				return
			}

			b.HandleUpdate(ctx, update)
		}
	}
}

// HandleUpdate answers one update. Updates without a message are ignored.
func (b *Bot) HandleUpdate(ctx context.Context, update telego.Update) {
	message := update.Message
	if message == nil || message.From == nil {
		return
	}

	switch {
	case message.Voice != nil:
		b.handleVoice(ctx, message, message.Voice.FileID, float64(message.Voice.Duration), formatVoice)
	case message.Audio != nil:
		b.handleVoice(ctx, message, message.Audio.FileID, float64(message.Audio.Duration), audioFormat(message.Audio))
	case strings.HasPrefix(message.Text, "/"):
		b.handleCommand(ctx, message)
	case message.Text != "":
		b.reply(ctx, message, msgUnknown)
	}
}

func (b *Bot) handleCommand(ctx context.Context, message *telego.Message) {
	command, _, _ := strings.Cut(strings.TrimSpace(message.Text), " ")
	command, _, _ = strings.Cut(command, "@")

	switch command {
	case commandStart:
		b.reply(ctx, message, msgStart)
	case commandHelp:
		b.reply(ctx, message, msgHelp)
	case commandStatus:
		status, err := b.ingester.Status(ctx)
		if err != nil {
			b.log.Error("Failed to read voice sample status: %v", err)
			b.reply(ctx, message, msgStatusFailed)

			return
		}

		b.reply(ctx, message, ingest.StatusText(status))
	default:
		b.reply(ctx, message, msgUnknown)
	}
}

func (b *Bot) handleVoice(ctx context.Context, message *telego.Message, fileID string, seconds float64, format string) {
	sender := strconv.FormatInt(message.From.ID, 10)

	reply := b.ingester.Handle(ctx, ingest.Event{
		SenderID:        sender,
		DurationSeconds: seconds,
		SourceFormat:    format,
		Fetch: func(fetchCtx context.Context) ([]byte, error) {
			return b.download(fetchCtx, fileID)
		},
		Notify: func(text string) { b.reply(ctx, message, text) },
	})

	b.reply(ctx, message, reply.Text)
}

func (b *Bot) download(ctx context.Context, fileID string) ([]byte, error) {
	file, err := b.api.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("failed to get file %s: %w", fileID, err)
	}

	if file.FilePath == "" {
		return nil, ErrEmptyFilePath
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.api.FileDownloadURL(file.FilePath), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}

	defer func() {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			b.log.Warn("Failed to close download body: %v", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrDownloadStatus, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file download: %w", err)
	}

	if len(data) > maxDownloadBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrDownloadTooLarge, maxDownloadBytes)
	}

	return data, nil
}

func (b *Bot) reply(ctx context.Context, message *telego.Message, text string) {
	_, err := b.api.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: message.Chat.ID},
		Text:   text,
		ReplyParameters: &telego.ReplyParameters{
			MessageID: message.MessageID,
		},
	})
	if err != nil {
		b.log.Error("Failed to send reply to chat %d: %v", message.Chat.ID, err)
	}
}

// audioFormat picks the source format from the file name, then the MIME subtype.
// Values that are not plain alphanumeric fall back to mp3.
func audioFormat(audioFile *telego.Audio) string {
	ext := ttsutils.SafeExtension(filepath.Ext(audioFile.FileName))
	if ext != "" {
		return ext
	}

	_, subtype, _ := strings.Cut(audioFile.MimeType, "/")
	if subtype = ttsutils.SafeExtension(subtype); subtype != "" && subtype != "mpeg" {
		return subtype
	}

	return formatAudio
}
