// Package converter normalizes arbitrary input audio into the canonical voice-sample
// format and re-encodes synthesized audio into other containers using ffmpeg.
package converter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-narrator/internal/core"
	"github.com/book-expert/voice-narrator/internal/tts/audio"
	"github.com/book-expert/voice-narrator/internal/tts/ttsutils"
	"github.com/google/uuid"
)

const (
	toolName       = "ffmpeg"
	inputPrefix    = "voice-in-"
	outputPrefix   = "voice-out-"
	tempFileMode   = 0o600
	defaultTimeout = time.Minute
)

// TempFilePrefixes names the temp files a conversion leaves while ffmpeg runs.
var TempFilePrefixes = []string{inputPrefix, outputPrefix}

var (
	// ErrEmptyInput is returned when there is no audio to convert.
	ErrEmptyInput = errors.New("empty audio payload")
	// ErrUnsupportedFormat is returned when a target container has no ffmpeg muxer.
	ErrUnsupportedFormat = errors.New("unsupported target format")
)

// ffmpeg muxer names per container.
var muxers = map[audio.Format]string{
	audio.FORMAT_WAV:  "wav",
	audio.FORMAT_MP3:  "mp3",
	audio.FORMAT_FLAC: "flac",
	audio.FORMAT_OGG:  "ogg",
	audio.FORMAT_OPUS: "opus",
	audio.FORMAT_M4A:  "ipod",
	audio.FORMAT_AAC:  "adts",
}

// Config holds the converter settings.
type Config struct {
	Binary  string
	TempDir string
	Timeout time.Duration
}

// FFmpeg converts audio by running the ffmpeg binary on uuid-named temp files.
type FFmpeg struct {
	cfg Config
	log *logger.Logger
}

// New creates a converter. Empty settings fall back to "ffmpeg", the system temp
// dir and a one minute timeout.
func New(cfg Config, log *logger.Logger) *FFmpeg {
	if cfg.Binary == "" {
		cfg.Binary = toolName
	}

	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &FFmpeg{cfg: cfg, log: log}
}

// Convert normalizes raw audio to mono 22050 Hz PCM16 WAV. Temp files are removed on
// every path and a failure never yields partial output.
func (c *FFmpeg) Convert(ctx context.Context, raw []byte, sourceFormat string) (core.CanonicalAudio, error) {
	if len(raw) == 0 {
		return core.CanonicalAudio{}, &core.ConversionError{Tool: toolName, Diagnostic: "", Err: ErrEmptyInput}
	}

	args := []string{
		"-ar", strconv.Itoa(audio.CANONICAL_SAMPLE_RATE),
		"-ac", strconv.Itoa(audio.CANONICAL_CHANNELS),
		"-c:a", "pcm_s16le",
		"-f", "wav",
	}

	data, err := c.run(ctx, raw, sourceFormat, string(audio.FORMAT_WAV), args)
	if err != nil {
		return core.CanonicalAudio{}, err
	}

	info, err := audio.Probe(data, audio.FORMAT_WAV)
	if err != nil {
		return core.CanonicalAudio{}, &core.ConversionError{Tool: toolName, Diagnostic: "", Err: err}
	}

	err = audio.ValidateCanonical(info)
	if err != nil {
		return core.CanonicalAudio{}, &core.ConversionError{Tool: toolName, Diagnostic: "", Err: err}
	}

	return core.CanonicalAudio{Data: data, Info: info}, nil
}

// Transcode re-encodes data from one container to another. Identical formats are
// returned unchanged.
func (c *FFmpeg) Transcode(ctx context.Context, data []byte, from, to audio.Format) ([]byte, error) {
	if from == to {
		return data, nil
	}

	muxer, ok := muxers[to]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, to)
	}

	if len(data) == 0 {
		return nil, &core.ConversionError{Tool: toolName, Diagnostic: "", Err: ErrEmptyInput}
	}

	return c.run(ctx, data, string(from), string(to), []string{"-vn", "-f", muxer})
}

func (c *FFmpeg) run(ctx context.Context, input []byte, inExt, outExt string, outputArgs []string) ([]byte, error) {
	inputPath := c.tempPath(inputPrefix, inExt)
	outputPath := c.tempPath(outputPrefix, outExt)

	defer c.remove(inputPath)
	defer c.remove(outputPath)

	writeErr := os.WriteFile(inputPath, input, tempFileMode)
	if writeErr != nil {
		return nil, fmt.Errorf("failed to write conversion input: %w", writeErr)
	}

	runCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	args := append([]string{"-y", "-hide_banner", "-loglevel", "error", "-i", inputPath}, outputArgs...)
	args = append(args, outputPath)

	// #nosec G204 -- binary comes from configuration, paths are generated
	cmd := exec.CommandContext(runCtx, c.cfg.Binary, args...)

	output, runErr := cmd.CombinedOutput()
	if runErr != nil {
		return nil, &core.ConversionError{Tool: toolName, Diagnostic: string(output), Err: runErr}
	}

	data, readErr := os.ReadFile(outputPath)
	if readErr != nil {
		return nil, &core.ConversionError{Tool: toolName, Diagnostic: string(output), Err: readErr}
	}

	if len(data) == 0 {
		return nil, &core.ConversionError{Tool: toolName, Diagnostic: string(output), Err: ErrEmptyInput}
	}

	return data, nil
}

// tempPath names a temp file in the temp dir. An extension that is not plain
// alphanumeric is dropped and ffmpeg probes the content instead.
func (c *FFmpeg) tempPath(prefix, ext string) string {
	name := prefix + uuid.NewString()
	if ext = ttsutils.SafeExtension(ext); ext != "" {
		name += "." + ext
	}

	return filepath.Join(c.cfg.TempDir, name)
}

func (c *FFmpeg) remove(path string) {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		c.log.Warn("Failed to remove temp file '%s': %v", path, err)
	}
}
