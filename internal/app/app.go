// Package app assembles the narration pipeline shared by the command-line tool and
// the long-running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-narrator/internal/config"
	"github.com/book-expert/voice-narrator/internal/converter"
	"github.com/book-expert/voice-narrator/internal/core"
	"github.com/book-expert/voice-narrator/internal/ledger"
	"github.com/book-expert/voice-narrator/internal/narration"
	"github.com/book-expert/voice-narrator/internal/orchestrator"
	"github.com/book-expert/voice-narrator/internal/samplestore"
	"github.com/book-expert/voice-narrator/internal/tts"
	"github.com/book-expert/voice-narrator/internal/tts/ttsutils"
	"github.com/prometheus/client_golang/prometheus"
)

const samplesDirName = "samples"

// Ledger is a usage ledger that can also report rows and be closed.
type Ledger interface {
	core.Ledger
	Entry(ctx context.Context, backend core.BackendID, period string) (core.QuotaEntry, error)
	Close() error
}

// App holds the assembled components. Close releases them in reverse order.
type App struct {
	Config       *config.Config
	Registry     *tts.Registry
	Ledger       Ledger
	Orchestrator *orchestrator.Orchestrator
	Converter    *converter.FFmpeg
	Samples      *samplestore.Store
	Runner       *narration.Runner
	Metrics      *prometheus.Registry
	log          *logger.Logger
}

// Build wires the pipeline from configuration.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	period, err := ledger.ParsePolicy(cfg.Quota.Period)
	if err != nil {
		return nil, fmt.Errorf("failed to parse quota period: %w", err)
	}

	usage, err := OpenLedger(ctx, cfg)
	if err != nil {
		return nil, err
	}

	registry, err := tts.NewRegistry(cfg, log)
	if err != nil {
		return nil, errors.Join(err, usage.Close())
	}

	metricsRegistry := prometheus.NewRegistry()

	cascade, err := orchestrator.New(
		registry.Entries(),
		usage,
		orchestrator.Config{Offline: cfg.Backends.Offline, Period: period},
		log,
		orchestrator.NewMetrics(metricsRegistry),
	)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create orchestrator: %w", err), registry.Close(), usage.Close())
	}

	samples, err := samplestore.New(filepath.Join(cfg.Paths.DataDir, samplesDirName), log)
	if err != nil {
		return nil, errors.Join(err, registry.Close(), usage.Close())
	}

	err = ttsutils.EnsureDir(cfg.Paths.TempDir)
	if err != nil {
		return nil, errors.Join(err, registry.Close(), usage.Close())
	}

	sweepTempDir(cfg.Paths.TempDir, log)

	ffmpeg := converter.New(converter.Config{
		Binary:  cfg.Converter.FFmpegPath,
		TempDir: cfg.Paths.TempDir,
		Timeout: config.Seconds(cfg.Converter.TimeoutSeconds),
	}, log)

	return &App{
		Config:       cfg,
		Registry:     registry,
		Ledger:       usage,
		Orchestrator: cascade,
		Converter:    ffmpeg,
		Samples:      samples,
		Runner:       narration.New(cascade, ffmpeg, ffmpeg, samples, narration.Config{
			DefaultLanguage: cfg.Service.DefaultLanguage,
			TempDir:         cfg.Paths.TempDir,
		}, log),
		Metrics:      metricsRegistry,
		log:          log,
	}, nil
}

// OpenLedger opens the configured usage ledger.
func OpenLedger(ctx context.Context, cfg *config.Config) (Ledger, error) {
	if cfg.Quota.Store == config.LedgerMemory {
		return memoryLedger{Memory: ledger.NewMemory(cfg.QuotaLimits())}, nil
	}

	err := ttsutils.EnsureDir(filepath.Dir(cfg.Paths.LedgerPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	usage, err := ledger.OpenSQLite(ctx, cfg.Paths.LedgerPath, cfg.QuotaLimits())
	if err != nil {
		return nil, fmt.Errorf("failed to open usage ledger: %w", err)
	}

	return usage, nil
}

// Close releases backend resources and the ledger.
func (a *App) Close() error {
	err := errors.Join(a.Registry.Close(), a.Ledger.Close())
	if err != nil {
		a.log.Error("Failed to release resources: %v", err)
	}

	return err
}

// sweepTempDir removes temp files orphaned by an earlier run that crashed.
func sweepTempDir(dir string, log *logger.Logger) {
	prefixes := append(append([]string{}, tts.TempFilePrefixes...), converter.TempFilePrefixes...)
	prefixes = append(prefixes, narration.TempFilePrefix)

	report, err := tts.SweepTempFiles(dir, prefixes, tts.DefaultSweepAge, time.Now())
	if err != nil {
		log.Warn("Temp file sweep failed: %v", err)

		return
	}

	if len(report.Removed) > 0 || len(report.Errors) > 0 {
		log.Info("Temp file sweep of %s: %s", dir, report.Summary())
	}
}

type memoryLedger struct {
	*ledger.Memory
}

func (memoryLedger) Close() error { return nil }
