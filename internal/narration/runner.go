// Package narration turns a narration job into an audio file: it prepares the voice
// sample, normalizes the text, runs the backend cascade and writes the output only
// after a backend has succeeded.
package narration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-narrator/internal/core"
	"github.com/book-expert/voice-narrator/internal/gatekeeper"
	"github.com/book-expert/voice-narrator/internal/tts/audio"
	"github.com/book-expert/voice-narrator/internal/tts/text"
	"github.com/book-expert/voice-narrator/internal/tts/ttsutils"
	"github.com/google/uuid"
)

const (
	dirPermissions  = 0o750
	filePermissions = 0o644

	// Samples given on the command line are attributed to their path.
	cliIdentityPrefix = "cli:"
)

// TempFilePrefix names the per-request canonical copies of command-line samples.
const TempFilePrefix = "cli-sample-"

const (
	logFmtNarrated      = "Narrated %d characters with %s into %s (%s, %s)"
	logFmtSamplePrepare = "Prepared request voice sample %s from %s (%.1fs)"
)

// Static errors.
var (
	ErrTextPathEmpty   = errors.New("narration text path cannot be empty")
	ErrOutputPathEmpty = errors.New("output path cannot be empty")
	ErrOutputFormat    = errors.New("unsupported output audio format")
	ErrSampleNotAudio  = errors.New("voice sample is not an audio file")
)

// Synthesizer runs the backend cascade.
type Synthesizer interface {
	Synthesize(ctx context.Context, req core.NarrationRequest, sample *core.VoiceSample) (core.SynthesisResult, error)
}

// Transcoder re-encodes backend output into the requested container.
type Transcoder interface {
	Transcode(ctx context.Context, data []byte, from, to audio.Format) ([]byte, error)
}

// Config holds the runner defaults.
type Config struct {
	// DefaultLanguage applies to jobs that name none.
	DefaultLanguage string
	// TempDir holds canonical copies of command-line samples while a job runs.
	TempDir string
}

// Job is one command-line narration. SamplePath may be empty to use the stored sample.
type Job struct {
	TextPath   string
	SamplePath string
	OutputPath string
	Language   string
}

// Runner executes narration jobs.
type Runner struct {
	synth      Synthesizer
	converter  core.Converter
	transcoder Transcoder
	samples    core.SampleStore
	normalizer *text.Normalizer
	language   string
	tempDir    string
	log        *logger.Logger
}

// New creates a runner.
func New(
	synth Synthesizer,
	converter core.Converter,
	transcoder Transcoder,
	samples core.SampleStore,
	cfg Config,
	log *logger.Logger,
) *Runner {
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = core.DefaultLanguage
	}

	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}

	return &Runner{
		synth:      synth,
		converter:  converter,
		transcoder: transcoder,
		samples:    samples,
		normalizer: text.NewNormalizer(),
		language:   cfg.DefaultLanguage,
		tempDir:    cfg.TempDir,
		log:        log,
	}
}

// Run narrates the text file of job into job.OutputPath. The output file is written
// only when a backend succeeded; on failure nothing is created. A sample given in
// the job is used for this job only and never replaces the stored sample.
func (r *Runner) Run(ctx context.Context, job Job) (core.SynthesisResult, error) {
	outputFormat, err := r.validateJob(job)
	if err != nil {
		return core.SynthesisResult{}, err
	}

	raw, err := os.ReadFile(job.TextPath)
	if err != nil {
		return core.SynthesisResult{}, fmt.Errorf("failed to read narration text: %w", err)
	}

	sample, release, err := r.prepareSample(ctx, job.SamplePath)
	if err != nil {
		return core.SynthesisResult{}, err
	}
	defer release()

	result, err := r.Narrate(ctx, string(raw), job.Language, sample)
	if err != nil {
		return core.SynthesisResult{}, err
	}

	data, err := r.Render(ctx, result, outputFormat)
	if err != nil {
		return core.SynthesisResult{}, err
	}

	err = writeAtomic(job.OutputPath, data)
	if err != nil {
		return core.SynthesisResult{}, err
	}

	result.OutputPath = job.OutputPath
	result.FileSize = int64(len(data))

	if result.Duration == 0 {
		info, probeErr := audio.Probe(data, outputFormat)
		if probeErr == nil {
			result.Duration = info.Duration
		}
	}

	r.log.Info(logFmtNarrated,
		len([]rune(string(raw))), result.Backend, job.OutputPath,
		ttsutils.FormatDuration(result.Duration.Seconds()), ttsutils.FormatFileSize(result.FileSize))

	return result, nil
}

// Narrate normalizes rawText and runs the cascade. A nil sample leaves only the
// backends that do not need one.
func (r *Runner) Narrate(
	ctx context.Context,
	rawText, language string,
	sample *core.VoiceSample,
) (core.SynthesisResult, error) {
	if language == "" {
		language = r.language
	}

	req, err := core.NewNarrationRequest(r.normalizer.Normalize(rawText, language), language)
	if err != nil {
		return core.SynthesisResult{}, err
	}

	return r.synth.Synthesize(ctx, req, sample)
}

// CurrentSample returns the stored sample, or nil when none has been accepted yet.
func (r *Runner) CurrentSample(ctx context.Context) (*core.VoiceSample, error) {
	sample, err := r.samples.Current(ctx)
	if errors.Is(err, core.ErrNoSample) {
		r.log.Warn("No voice sample stored; only the fallback voice can narrate")

		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load voice sample: %w", err)
	}

	return sample, nil
}

// Render returns the result audio encoded as format.
func (r *Runner) Render(ctx context.Context, result core.SynthesisResult, format audio.Format) ([]byte, error) {
	if format == result.Audio.Format {
		return result.Audio.Data, nil
	}

	data, err := r.transcoder.Transcode(ctx, result.Audio.Data, result.Audio.Format, format)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s output as %s: %w", result.Audio.Format, format, err)
	}

	return data, nil
}

func (r *Runner) validateJob(job Job) (audio.Format, error) {
	if job.TextPath == "" {
		return audio.FORMAT_UNKNOWN, fmt.Errorf("%w: %w", core.ErrValidation, ErrTextPathEmpty)
	}

	if job.OutputPath == "" {
		return audio.FORMAT_UNKNOWN, fmt.Errorf("%w: %w", core.ErrValidation, ErrOutputPathEmpty)
	}

	format := audio.FormatFromPath(job.OutputPath)
	if format == audio.FORMAT_UNKNOWN {
		return format, fmt.Errorf("%w: %w: %s", core.ErrValidation, ErrOutputFormat, job.OutputPath)
	}

	err := requireFile(job.TextPath)
	if err != nil {
		return format, err
	}

	if !ttsutils.IsValidTextFile(job.TextPath) {
		r.log.Warn("Narration text %s has no .txt or .md extension, reading it as plain text", job.TextPath)
	}

	if job.SamplePath == "" {
		return format, nil
	}

	err = requireFile(job.SamplePath)
	if err != nil {
		return format, err
	}

	if !ttsutils.IsValidAudioFile(job.SamplePath) {
		return format, fmt.Errorf("%w: %w: %s", core.ErrValidation, ErrSampleNotAudio, job.SamplePath)
	}

	return format, nil
}

// prepareSample converts a sample given on the command line into a canonical temp
// file that lives until release is called. Without a path the stored sample is used.
func (r *Runner) prepareSample(ctx context.Context, path string) (*core.VoiceSample, func(), error) {
	noop := func() {}

	if path == "" {
		sample, err := r.CurrentSample(ctx)

		return sample, noop, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, noop, fmt.Errorf("failed to read voice sample: %w", err)
	}

	canonical, err := r.converter.Convert(ctx, raw, ttsutils.GetFileExtension(path))
	if err != nil {
		return nil, noop, err
	}

	decision := gatekeeper.CheckDuration(canonical.Info.Seconds())
	if !decision.Accepted {
		return nil, noop, decision.Err
	}

	audioPath, err := r.writeTempSample(canonical.Data)
	if err != nil {
		return nil, noop, err
	}

	sample := &core.VoiceSample{
		ID:              uuid.NewString(),
		AudioPath:       audioPath,
		DurationSeconds: canonical.Info.Seconds(),
		SampleRate:      canonical.Info.SampleRate,
		Channels:        canonical.Info.Channels,
		SourceIdentity:  cliIdentityPrefix + path,
		CreatedAt:       time.Now().UTC(),
	}

	r.log.Info(logFmtSamplePrepare, sample.ID, path, sample.DurationSeconds)

	release := func() {
		removeErr := os.Remove(audioPath)
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			r.log.Warn("Failed to remove request voice sample '%s': %v", audioPath, removeErr)
		}
	}

	return sample, release, nil
}

func (r *Runner) writeTempSample(data []byte) (string, error) {
	tempFile, err := os.CreateTemp(r.tempDir, TempFilePrefix+"*.wav")
	if err != nil {
		return "", fmt.Errorf("failed to create request voice sample: %w", err)
	}

	tempPath := tempFile.Name()

	_, writeErr := tempFile.Write(data)
	closeErr := tempFile.Close()

	err = errors.Join(writeErr, closeErr)
	if err != nil {
		_ = os.Remove(tempPath)

		return "", fmt.Errorf("failed to write request voice sample: %w", err)
	}

	return tempPath, nil
}

func requireFile(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", core.ErrNotFound, path)
	}

	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", core.ErrValidation, path)
	}

	return nil
}

// writeAtomic writes data next to path and renames it into place.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	err := os.MkdirAll(dir, dirPermissions)
	if err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, ".narration-*"+filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("failed to create temp output file: %w", err)
	}

	tempPath := tempFile.Name()

	_, writeErr := tempFile.Write(data)
	syncErr := tempFile.Sync()
	closeErr := tempFile.Close()

	err = errors.Join(writeErr, syncErr, closeErr)
	if err == nil {
		err = os.Chmod(tempPath, filePermissions)
	}

	if err == nil {
		err = os.Rename(tempPath, path)
	}

	if err != nil {
		_ = os.Remove(tempPath)

		return fmt.Errorf("failed to write audio file %s: %w", path, err)
	}

	return nil
}
