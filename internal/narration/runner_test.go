package narration_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-narrator/internal/core"
	"github.com/book-expert/voice-narrator/internal/narration"
	"github.com/book-expert/voice-narrator/internal/samplestore"
	"github.com/book-expert/voice-narrator/internal/tts/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSynthesizer struct {
	result     core.SynthesisResult
	shouldFail error
	requests   []core.NarrationRequest
	samples    []*core.VoiceSample
}

func (m *mockSynthesizer) Synthesize(
	_ context.Context,
	req core.NarrationRequest,
	sample *core.VoiceSample,
) (core.SynthesisResult, error) {
	m.requests = append(m.requests, req)
	m.samples = append(m.samples, sample)

	if m.shouldFail != nil {
		return core.SynthesisResult{}, m.shouldFail
	}

	return m.result, nil
}

type mockConverter struct {
	seconds    time.Duration
	shouldFail bool
	formats    []string
}

func (m *mockConverter) Convert(_ context.Context, _ []byte, sourceFormat string) (core.CanonicalAudio, error) {
	m.formats = append(m.formats, sourceFormat)

	if m.shouldFail {
		return core.CanonicalAudio{}, &core.ConversionError{Tool: "ffmpeg", Diagnostic: "Invalid data found", Err: errors.New("exit status 1")}
	}

	data, err := audio.Silence(m.seconds, audio.CANONICAL_SAMPLE_RATE, audio.CANONICAL_CHANNELS)
	if err != nil {
		return core.CanonicalAudio{}, err
	}

	info, err := audio.Probe(data, audio.FORMAT_WAV)
	if err != nil {
		return core.CanonicalAudio{}, err
	}

	return core.CanonicalAudio{Data: data, Info: info}, nil
}

type mockTranscoder struct {
	calls int
}

func (m *mockTranscoder) Transcode(_ context.Context, data []byte, from, to audio.Format) ([]byte, error) {
	m.calls++

	return append([]byte(string(from)+"->"+string(to)+":"), data...), nil
}

type fixture struct {
	runner     *narration.Runner
	synth      *mockSynthesizer
	converter  *mockConverter
	transcoder *mockTranscoder
	store      *samplestore.Store
	dir        string
	tempDir    string
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "narration-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = testLogger.Close() })

	wavData, err := audio.Silence(2*time.Second, audio.CANONICAL_SAMPLE_RATE, audio.CANONICAL_CHANNELS)
	require.NoError(t, err)

	store, err := samplestore.New(filepath.Join(t.TempDir(), "data"), testLogger)
	require.NoError(t, err)

	synth := &mockSynthesizer{result: core.SynthesisResult{
		Audio:       core.Audio{Data: wavData, Format: audio.FORMAT_WAV},
		Duration:    2 * time.Second,
		Backend:     core.BackendLocalNeuralClone,
		IsTrueClone: true,
		Attempts: []core.SynthesisAttempt{
			{Backend: core.BackendLocalNeuralClone, Outcome: core.OutcomeSuccess},
		},
	}}
	converter := &mockConverter{seconds: 15 * time.Second}
	transcoder := &mockTranscoder{}
	tempDir := t.TempDir()

	return fixture{
		runner: narration.New(synth, converter, transcoder, store, narration.Config{
			DefaultLanguage: "",
			TempDir:         tempDir,
		}, testLogger),
		synth:      synth,
		converter:  converter,
		transcoder: transcoder,
		store:      store,
		dir:        t.TempDir(),
		tempDir:    tempDir,
	}
}

func (f fixture) write(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestRun_WritesOutput(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	textPath := f.write(t, "chapter.txt", "  “Hello,” she said.\n\nIt was  Mr. Smith. ")
	samplePath := f.write(t, "voice.ogg", "OggS voice note")
	outputPath := filepath.Join(f.dir, "out", "chapter.wav")

	result, err := f.runner.Run(context.Background(), narration.Job{
		TextPath:   textPath,
		SamplePath: samplePath,
		OutputPath: outputPath,
		Language:   "",
	})
	require.NoError(t, err)

	assert.Equal(t, outputPath, result.OutputPath)
	assert.Equal(t, core.BackendLocalNeuralClone, result.Backend)
	assert.Equal(t, 2*time.Second, result.Duration)

	written, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, f.synth.result.Audio.Data, written)
	assert.Equal(t, int64(len(written)), result.FileSize)
	assert.Zero(t, f.transcoder.calls)

	require.Len(t, f.synth.requests, 1)
	req := f.synth.requests[0]
	assert.Equal(t, "\"Hello,\" she said.\n\nIt was Mister Smith.", req.Text)
	assert.Equal(t, core.DefaultLanguage, req.Language)
	assert.Equal(t, len([]rune(req.Text)), req.CharacterCount)

	assert.Equal(t, []string{"ogg"}, f.converter.formats)
	require.NotNil(t, f.synth.samples[0])
	assert.Equal(t, "cli:"+samplePath, f.synth.samples[0].SourceIdentity)
	assert.Equal(t, f.tempDir, filepath.Dir(f.synth.samples[0].AudioPath))
	assert.False(t, f.store.Exists(context.Background()))
	assert.NoFileExists(t, f.synth.samples[0].AudioPath)

	entries, err := os.ReadDir(filepath.Dir(outputPath))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary output left behind")
}

func TestRun_CommandLineSampleLeavesStoredSampleAlone(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	stored, err := f.converter.Convert(ctx, nil, "ogg")
	require.NoError(t, err)

	owner, err := f.store.Save(ctx, stored, core.SampleMetadata{SourceIdentity: "12345", DurationSeconds: 15})
	require.NoError(t, err)

	_, err = f.runner.Run(ctx, narration.Job{
		TextPath:   f.write(t, "chapter.txt", "Hello."),
		SamplePath: f.write(t, "voice.wav", "RIFF"),
		OutputPath: filepath.Join(f.dir, "chapter.wav"),
	})
	require.NoError(t, err)

	require.Len(t, f.synth.samples, 1)
	assert.NotEqual(t, owner.ID, f.synth.samples[0].ID)

	current, err := f.store.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, owner.ID, current.ID)
	assert.Equal(t, "12345", current.SourceIdentity)

	leftovers, err := os.ReadDir(f.tempDir)
	require.NoError(t, err)
	assert.Empty(t, leftovers)

	// A later job without a sample path narrates with the stored sample.
	_, err = f.runner.Run(ctx, narration.Job{
		TextPath:   f.write(t, "next.txt", "Again."),
		OutputPath: filepath.Join(f.dir, "next.wav"),
	})
	require.NoError(t, err)

	require.Len(t, f.synth.samples, 2)
	require.NotNil(t, f.synth.samples[1])
	assert.Equal(t, owner.ID, f.synth.samples[1].ID)
}

func TestRun_TranscodesToOutputExtension(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	textPath := f.write(t, "chapter.txt", "Hello.")
	outputPath := filepath.Join(f.dir, "chapter.mp3")

	result, err := f.runner.Run(context.Background(), narration.Job{TextPath: textPath, OutputPath: outputPath})
	require.NoError(t, err)

	written, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, "wav->mp3:", string(written[:9]))
	assert.Equal(t, 1, f.transcoder.calls)
	assert.Equal(t, int64(len(written)), result.FileSize)

	// No sample stored yet: the cascade runs with none.
	require.Len(t, f.synth.samples, 1)
	assert.Nil(t, f.synth.samples[0])
}

func TestRun_Validation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	textPath := f.write(t, "chapter.txt", "Hello.")
	outputPath := filepath.Join(f.dir, "chapter.wav")

	cases := map[string]struct {
		job    narration.Job
		target error
	}{
		"missing text file": {
			job:    narration.Job{TextPath: filepath.Join(f.dir, "nope.txt"), OutputPath: outputPath},
			target: core.ErrNotFound,
		},
		"missing sample file": {
			job:    narration.Job{TextPath: textPath, SamplePath: filepath.Join(f.dir, "nope.wav"), OutputPath: outputPath},
			target: core.ErrNotFound,
		},
		"empty text path": {
			job:    narration.Job{OutputPath: outputPath},
			target: narration.ErrTextPathEmpty,
		},
		"empty output path": {
			job:    narration.Job{TextPath: textPath},
			target: narration.ErrOutputPathEmpty,
		},
		"unknown output extension": {
			job:    narration.Job{TextPath: textPath, OutputPath: filepath.Join(f.dir, "chapter.xyz")},
			target: narration.ErrOutputFormat,
		},
		"sample not audio": {
			job:    narration.Job{TextPath: textPath, SamplePath: textPath, OutputPath: outputPath},
			target: narration.ErrSampleNotAudio,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.runner.Run(context.Background(), tc.job)
			require.ErrorIs(t, err, tc.target)
		})
	}

	assert.Empty(t, f.synth.requests)

	_, err := os.Stat(outputPath)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRun_EmptyTextIsValidationError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	textPath := f.write(t, "blank.txt", " \n\t\n ")

	_, err := f.runner.Run(context.Background(), narration.Job{
		TextPath:   textPath,
		OutputPath: filepath.Join(f.dir, "blank.wav"),
	})
	require.ErrorIs(t, err, core.ErrValidation)
	assert.Empty(t, f.synth.requests)
}

func TestRun_SampleTooShort(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.converter.seconds = 3 * time.Second

	_, err := f.runner.Run(context.Background(), narration.Job{
		TextPath:   f.write(t, "chapter.txt", "Hello."),
		SamplePath: f.write(t, "voice.wav", "RIFF"),
		OutputPath: filepath.Join(f.dir, "chapter.wav"),
	})
	require.ErrorIs(t, err, core.ErrTooShort)
	assert.False(t, f.store.Exists(context.Background()))
	assert.Empty(t, f.synth.requests)
}

func TestRun_ConversionFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.converter.shouldFail = true

	_, err := f.runner.Run(context.Background(), narration.Job{
		TextPath:   f.write(t, "chapter.txt", "Hello."),
		SamplePath: f.write(t, "voice.m4a", "not audio"),
		OutputPath: filepath.Join(f.dir, "chapter.wav"),
	})
	require.ErrorIs(t, err, core.ErrConversion)
	assert.Contains(t, err.Error(), "Invalid data found")
}

func TestRun_ExhaustedWritesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.synth.shouldFail = &core.ExhaustedError{Attempts: []core.SynthesisAttempt{
		{Backend: core.BackendNonCloningFallback, Outcome: core.OutcomeSkipped, Reason: core.ReasonDisabled},
	}}
	outputPath := filepath.Join(f.dir, "chapter.wav")

	_, err := f.runner.Run(context.Background(), narration.Job{
		TextPath:   f.write(t, "chapter.txt", "Hello."),
		SamplePath: f.write(t, "voice.ogg", "OggS voice note"),
		OutputPath: outputPath,
	})
	require.ErrorIs(t, err, core.ErrExhausted)

	leftovers, readErr := os.ReadDir(f.tempDir)
	require.NoError(t, readErr)
	assert.Empty(t, leftovers)

	_, statErr := os.Stat(outputPath)
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}
