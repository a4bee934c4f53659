// Package audio provides audio format descriptions, canonical-format validation and
// duration probing for narration and voice-sample audio.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"
)

// Canonical voice-sample settings. Every stored sample is mono PCM WAV at this rate.
const (
	CANONICAL_SAMPLE_RATE = 22050
	CANONICAL_CHANNELS    = 1
	CANONICAL_BIT_DEPTH   = 16
)

// Constants for validation limits.
const (
	MAX_SAMPLE_RATE = 192000
	MAX_CHANNELS    = 8
)

// Constants for error messages and formats.
const (
	ERR_FMT_SAMPLE_RATE_RANGE  = "%w: sample rate must be between 1 and %d Hz"
	ERR_FMT_CHANNELS_RANGE     = "%w: channels must be between 1 and %d"
	ERR_FMT_NOT_CANONICAL_RATE = "%w: sample rate is %d Hz, expected %d Hz"
	ERR_FMT_NOT_CANONICAL_CHAN = "%w: %d channels, expected %d"
	ERR_FMT_NOT_CANONICAL_FMT  = "%w: format is %q, expected %q"
	ERR_FMT_DECODE             = "%w: decode %s: %w"
	ERR_FMT_UNSUPPORTED_PROBE  = "%w: cannot probe %q audio"
)

// Common errors for the audio package.
var (
	ErrInvalidAudio     = errors.New("invalid audio")
	ErrNotCanonical     = errors.New("audio is not in canonical format")
	ErrUnsupportedProbe = errors.New("unsupported probe format")
)

// Format represents supported audio formats.
type Format string

const (
	FORMAT_WAV     Format = "wav"
	FORMAT_MP3     Format = "mp3"
	FORMAT_FLAC    Format = "flac"
	FORMAT_OGG     Format = "ogg"
	FORMAT_OPUS    Format = "opus"
	FORMAT_M4A     Format = "m4a"
	FORMAT_AAC     Format = "aac"
	FORMAT_UNKNOWN Format = ""
)

// Info describes an encoded audio artifact.
type Info struct {
	Format     Format        `json:"format"`
	Duration   time.Duration `json:"duration"`
	FileSize   int64         `json:"fileSize"`
	SampleRate int           `json:"sampleRate"`
	Channels   int           `json:"channels"`
}

// Seconds returns the duration in fractional seconds.
func (i Info) Seconds() float64 {
	return i.Duration.Seconds()
}

// FormatFromPath derives the audio format from a file extension.
func FormatFromPath(path string) Format {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))

	switch Format(ext) {
	case FORMAT_WAV, FORMAT_MP3, FORMAT_FLAC, FORMAT_OGG, FORMAT_OPUS, FORMAT_M4A, FORMAT_AAC:
		return Format(ext)
	case "oga":
		return FORMAT_OGG
	default:
		return FORMAT_UNKNOWN
	}
}

// FormatFromMIME derives the audio format from a MIME type such as "audio/ogg".
func FormatFromMIME(mimeType string) Format {
	switch strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])) {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return FORMAT_WAV
	case "audio/mpeg", "audio/mp3":
		return FORMAT_MP3
	case "audio/ogg", "audio/opus":
		return FORMAT_OGG
	case "audio/flac":
		return FORMAT_FLAC
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return FORMAT_M4A
	case "audio/aac":
		return FORMAT_AAC
	default:
		return FORMAT_UNKNOWN
	}
}

// Probe decodes the container header of WAV or MP3 data and reports its
// duration, sample rate and channel count.
func Probe(data []byte, format Format) (Info, error) {
	var (
		streamer beep.StreamSeekCloser
		decoded  beep.Format
		err      error
	)

	switch format {
	case FORMAT_WAV:
		streamer, decoded, err = wav.Decode(bytes.NewReader(data))
	case FORMAT_MP3:
		streamer, decoded, err = mp3.Decode(readSeekNopCloser{bytes.NewReader(data)})
	default:
		return Info{}, fmt.Errorf(ERR_FMT_UNSUPPORTED_PROBE, ErrUnsupportedProbe, format)
	}

	if err != nil {
		return Info{}, fmt.Errorf(ERR_FMT_DECODE, ErrInvalidAudio, format, err)
	}

	frames := streamer.Len()
	closeErr := streamer.Close()

	if closeErr != nil {
		return Info{}, fmt.Errorf("failed to close %s decoder: %w", format, closeErr)
	}

	info := Info{
		Format:     format,
		Duration:   decoded.SampleRate.D(frames),
		FileSize:   int64(len(data)),
		SampleRate: int(decoded.SampleRate),
		Channels:   decoded.NumChannels,
	}

	validateErr := validateSampleRate(info.SampleRate)
	if validateErr != nil {
		return Info{}, validateErr
	}

	validateErr = validateChannels(info.Channels)
	if validateErr != nil {
		return Info{}, validateErr
	}

	return info, nil
}

// ProbeFile reads a file and probes it using the format implied by its extension.
func ProbeFile(path string) (Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, fmt.Errorf("failed to read audio file %s: %w", path, err)
	}

	return Probe(data, FormatFromPath(path))
}

// ValidateCanonical checks that info describes a canonical voice sample.
func ValidateCanonical(info Info) error {
	if info.Format != FORMAT_WAV {
		return fmt.Errorf(ERR_FMT_NOT_CANONICAL_FMT, ErrNotCanonical, info.Format, FORMAT_WAV)
	}

	if info.SampleRate != CANONICAL_SAMPLE_RATE {
		return fmt.Errorf(ERR_FMT_NOT_CANONICAL_RATE, ErrNotCanonical, info.SampleRate, CANONICAL_SAMPLE_RATE)
	}

	if info.Channels != CANONICAL_CHANNELS {
		return fmt.Errorf(ERR_FMT_NOT_CANONICAL_CHAN, ErrNotCanonical, info.Channels, CANONICAL_CHANNELS)
	}

	return nil
}

// Silence encodes a silent PCM16 WAV of the given length. Used for fixtures and
// smoke checks of the audio toolchain.
func Silence(duration time.Duration, sampleRate, channels int) ([]byte, error) {
	rateErr := validateSampleRate(sampleRate)
	if rateErr != nil {
		return nil, rateErr
	}

	channelsErr := validateChannels(channels)
	if channelsErr != nil {
		return nil, channelsErr
	}

	tempFile, err := os.CreateTemp("", "silence-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for silence: %w", err)
	}

	defer func() {
		_ = os.Remove(tempFile.Name())
	}()

	format := beep.Format{
		SampleRate:  beep.SampleRate(sampleRate),
		NumChannels: channels,
		Precision:   CANONICAL_BIT_DEPTH / 8,
	}

	encodeErr := wav.Encode(tempFile, beep.Silence(format.SampleRate.N(duration)), format)
	closeErr := tempFile.Close()

	if encodeErr != nil {
		return nil, fmt.Errorf("failed to encode silence: %w", encodeErr)
	}

	if closeErr != nil {
		return nil, fmt.Errorf("failed to close silence file: %w", closeErr)
	}

	data, err := os.ReadFile(tempFile.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to read silence file: %w", err)
	}

	return data, nil
}

type readSeekNopCloser struct {
	*bytes.Reader
}

func (readSeekNopCloser) Close() error { return nil }

var _ io.ReadSeekCloser = readSeekNopCloser{}

//
// Validation Helpers
//

func validateSampleRate(sampleRate int) error {
	if sampleRate <= 0 || sampleRate > MAX_SAMPLE_RATE {
		return fmt.Errorf(
			ERR_FMT_SAMPLE_RATE_RANGE,
			ErrInvalidAudio,
			MAX_SAMPLE_RATE,
		)
	}

	return nil
}

func validateChannels(channels int) error {
	if channels <= 0 || channels > MAX_CHANNELS {
		return fmt.Errorf(ERR_FMT_CHANNELS_RANGE, ErrInvalidAudio, MAX_CHANNELS)
	}

	return nil
}
