// Command voiceclone narrates a text file with a cloned voice.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-narrator/internal/app"
	"github.com/book-expert/voice-narrator/internal/config"
	"github.com/book-expert/voice-narrator/internal/core"
	"github.com/book-expert/voice-narrator/internal/ledger"
	"github.com/book-expert/voice-narrator/internal/narration"
	"github.com/book-expert/voice-narrator/internal/tts/ttsutils"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Exit codes.
const (
	exitOK        = 0
	exitFailure   = 1
	exitExhausted = 2
)

const (
	flagConfig      = "config"
	flagVerbose     = "verbose"
	flagConfigDesc  = "Path to a TOML configuration file"
	flagVerboseDesc = "Print every backend attempt"

	logFileNameDefault = "voiceclone.log"
	logFileNameVerbose = "voiceclone-verbose.log"

	minArgs = 3
	maxArgs = 5
)

// Report messages.
const (
	msgWritten      = "✅ Narration written to %s\n"
	msgBackend      = "   Backend:  %s (%s)\n"
	msgDuration     = "   Duration: %s, size %s\n"
	msgGenericVoice = "⚠️  No cloning backend succeeded; the narration uses a generic voice.\n"
	msgExhausted    = "❌ No backend could narrate the text.\n"
	msgAttempt      = "   - %s\n"
	msgError        = "❌ Error: %v\n"
	msgQuotaHeader  = "📊 Cloud clone quota for %s\n"
	msgQuotaLine    = "   Used %d of %d characters, %d remaining\n"

	labelTrueClone = "cloned voice"
	labelGeneric   = "generic voice"
)

var (
	colorSuccess = color.New(color.FgGreen, color.Bold)
	colorWarning = color.New(color.FgYellow)
	colorError   = color.New(color.FgRed, color.Bold)
	colorInfo    = color.New(color.FgCyan)
)

// errUsage marks an error in the command line itself.
var errUsage = errors.New("usage error")

// narrator runs one job.
type narrator interface {
	Run(ctx context.Context, job narration.Job) (core.SynthesisResult, error)
}

type session struct {
	narrator narrator
	close    func() error
}

type openFunc func(ctx context.Context, cfg *config.Config, log *logger.Logger) (*session, error)

type options struct {
	configPath string
	verbose    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr, openSession)

	stop()
	os.Exit(code)
}

func openSession(ctx context.Context, cfg *config.Config, log *logger.Logger) (*session, error) {
	application, err := app.Build(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	return &session{narrator: application.Runner, close: application.Close}, nil
}

// execute runs the command line and maps the outcome to an exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer, open openFunc) int {
	root := newRootCommand(stdout, open)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)

	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, core.ErrExhausted):
		reportExhausted(stderr, err)

		return exitExhausted
	default:
		colorError.Fprintf(stderr, msgError, err)

		return exitFailure
	}
}

func newRootCommand(stdout io.Writer, open openFunc) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "voiceclone <text> <sample> <output> [language] [credential]",
		Short: "🎙️ Narrate a text file with a cloned voice",
		Long: "Narrates the text file with the voice of the sample, trying the local clone\n" +
			"server, the lightweight clone, the cloud clone API and a generic voice in turn.\n" +
			"The sample is used for this run only. The credential overrides the\n" +
			"configured cloud clone API key.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) < minArgs || len(args) > maxArgs {
				return fmt.Errorf("%w: expected %d to %d arguments, got %d", errUsage, minArgs, maxArgs, len(args))
			}

			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNarrate(cmd.Context(), stdout, open, opts, args)
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, flagConfig, "", flagConfigDesc)
	root.PersistentFlags().BoolVarP(&opts.verbose, flagVerbose, "v", false, flagVerboseDesc)

	root.AddCommand(&cobra.Command{
		Use:           "quota",
		Short:         "📊 Show the cloud clone quota for the current period",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runQuota(cmd.Context(), stdout, opts)
		},
	})

	return root
}

func setup(opts *options) (*config.Config, *logger.Logger, error) {
	cfg, err := config.LoadFile(opts.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logFileName := logFileNameDefault
	if opts.verbose {
		logFileName = logFileNameVerbose
	}

	log, err := logger.New(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return cfg, log, nil
}

func runNarrate(ctx context.Context, stdout io.Writer, open openFunc, opts *options, args []string) error {
	job := narration.Job{TextPath: args[0], SamplePath: args[1], OutputPath: args[2], Language: ""}
	if len(args) > minArgs {
		job.Language = args[3]
	}

	cfg, log, err := setup(opts)
	if err != nil {
		return err
	}

	defer closeLogger(log)

	if len(args) == maxArgs && args[4] != "" {
		cfg.Backends.CloudClone.APIKey = args[4]
		cfg.Backends.CloudClone.Enabled = true
	}

	sess, err := open(ctx, cfg, log)
	if err != nil {
		return err
	}

	defer func() {
		closeErr := sess.close()
		if closeErr != nil {
			log.Warn("Failed to close pipeline: %v", closeErr)
		}
	}()

	log.Info("Narrating %s with sample %s into %s", job.TextPath, job.SamplePath, job.OutputPath)

	result, err := sess.narrator.Run(ctx, job)
	if err != nil {
		log.Error("Narration failed: %v", err)

		return err
	}

	reportResult(stdout, result, opts.verbose)

	return nil
}

func runQuota(ctx context.Context, stdout io.Writer, opts *options) error {
	cfg, log, err := setup(opts)
	if err != nil {
		return err
	}

	defer closeLogger(log)

	periodFunc, err := ledger.ParsePolicy(cfg.Quota.Period)
	if err != nil {
		return err
	}

	usage, err := app.OpenLedger(ctx, cfg)
	if err != nil {
		return err
	}

	defer func() {
		closeErr := usage.Close()
		if closeErr != nil {
			log.Warn("Failed to close usage ledger: %v", closeErr)
		}
	}()

	period := periodFunc(time.Now())

	entry, err := usage.Entry(ctx, core.BackendCloudCloneAPI, period)
	if err != nil {
		return fmt.Errorf("failed to read quota: %w", err)
	}

	colorInfo.Fprintf(stdout, msgQuotaHeader, period)
	fmt.Fprintf(stdout, msgQuotaLine, entry.Consumed, entry.Limit, entry.Remaining())

	return nil
}

func reportResult(w io.Writer, result core.SynthesisResult, verbose bool) {
	colorSuccess.Fprintf(w, msgWritten, result.OutputPath)

	label := labelTrueClone
	if !result.IsTrueClone {
		label = labelGeneric
	}

	fmt.Fprintf(w, msgBackend, result.Backend, label)
	fmt.Fprintf(w, msgDuration,
		ttsutils.FormatDuration(result.Duration.Seconds()), ttsutils.FormatFileSize(result.FileSize))

	if !result.IsTrueClone {
		colorWarning.Fprint(w, msgGenericVoice)
	}

	if verbose || len(result.Attempts) > 1 {
		for _, attempt := range result.Attempts {
			fmt.Fprintf(w, msgAttempt, attempt)
		}
	}
}

func reportExhausted(w io.Writer, err error) {
	colorError.Fprint(w, msgExhausted)

	var exhausted *core.ExhaustedError
	if !errors.As(err, &exhausted) {
		return
	}

	for _, attempt := range exhausted.Attempts {
		fmt.Fprintf(w, msgAttempt, attempt)
	}
}

func closeLogger(log *logger.Logger) {
	err := log.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error closing logger: %v\n", err)
	}
}
