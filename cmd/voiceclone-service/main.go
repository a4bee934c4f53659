// Command voiceclone-service runs the voice-sample bot, the narration worker and
// the status API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-narrator/internal/app"
	"github.com/book-expert/voice-narrator/internal/config"
	"github.com/book-expert/voice-narrator/internal/gatekeeper"
	"github.com/book-expert/voice-narrator/internal/httpapi"
	"github.com/book-expert/voice-narrator/internal/ingest"
	"github.com/book-expert/voice-narrator/internal/objectstore"
	"github.com/book-expert/voice-narrator/internal/telegram"
	"github.com/book-expert/voice-narrator/internal/worker"
	"github.com/mymmrac/telego"
	"github.com/nats-io/nats.go"
)

const (
	bootstrapLogFile = "voiceclone-service-bootstrap.log"
	serviceLogFile   = "voiceclone-service.log"
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run(ctx context.Context) error {
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create service logger: %v", err)

		return err
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing service logger: %v\n", closeErr)
		}
	}()

	application, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to assemble the narration pipeline: %v", err)

		return err
	}

	defer func() { _ = application.Close() }()

	ingester := ingest.New(
		gatekeeper.New(cfg.Telegram.AuthorizedUserID),
		application.Converter,
		application.Samples,
		ingest.Config{DownloadsPerMinute: cfg.Telegram.DownloadsPerMinute},
		log,
	)

	components := []component{
		{name: "status API", run: func(ctx context.Context) error {
			server := httpapi.New(ingester, application.Orchestrator, application.Ledger, application.Metrics, log)

			return server.ListenAndServe(ctx, cfg.Service.HTTPAddr)
		}},
	}

	if cfg.Telegram.Enabled {
		components = append(components, component{name: "telegram bot", run: func(ctx context.Context) error {
			return runBot(ctx, cfg, ingester, log)
		}})
	}

	if cfg.NATS.Enabled {
		components = append(components, component{name: "narration worker", run: func(ctx context.Context) error {
			return runWorker(ctx, cfg, application, log)
		}})
	}

	log.System("Voice narrator service started: telegram=%t nats=%t http=%s fallback=%s",
		cfg.Telegram.Enabled, cfg.NATS.Enabled, cfg.Service.HTTPAddr, application.Registry.FallbackEngine())

	return runAll(ctx, components, log)
}

type component struct {
	name string
	run  func(ctx context.Context) error
}

// runAll runs every component until ctx is done or one of them fails, which stops
// the others.
func runAll(ctx context.Context, components []component, log *logger.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for _, comp := range components {
		wg.Add(1)

		go func() {
			defer wg.Done()

			err := comp.run(ctx)
			if err != nil {
				log.Error("%s stopped: %v", comp.name, err)

				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", comp.name, err))
				mu.Unlock()
			}

			cancel()
		}()
	}

	wg.Wait()

	return errors.Join(errs...)
}

func runBot(ctx context.Context, cfg *config.Config, ingester *ingest.Service, log *logger.Logger) error {
	bot, err := telego.NewBot(cfg.Telegram.Token)
	if err != nil {
		return fmt.Errorf("failed to create telegram bot: %w", err)
	}

	updates, err := bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout: cfg.Telegram.PollTimeoutSeconds,
	})
	if err != nil {
		return fmt.Errorf("failed to start long polling: %w", err)
	}

	telegram.New(bot, ingester, log).Run(ctx, updates)

	return nil
}

func runWorker(ctx context.Context, cfg *config.Config, application *app.App, log *logger.Logger) error {
	conn, err := nats.Connect(cfg.NATS.URL, nats.Name("voice-narrator"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	defer conn.Close()

	jetstreamContext, err := conn.JetStream()
	if err != nil {
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}

	textStore, err := objectstore.New(jetstreamContext, cfg.NATS.TextObjectStoreBucket)
	if err != nil {
		return err
	}

	audioStore, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		return err
	}

	narrationWorker := worker.NewNatsWorker(conn, worker.Config{
		Subject:          cfg.NATS.NarrationRequestedSubject,
		QueueGroup:       cfg.NATS.QueueGroup,
		CompletedSubject: cfg.NATS.NarrationCompletedSubject,
		JobTimeout:       0,
	}, textStore, audioStore, application.Runner, log)

	return narrationWorker.Run(ctx)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)

	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
