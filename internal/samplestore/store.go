// Package samplestore persists the single canonical voice sample of a deployment.
package samplestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-narrator/internal/core"
	"github.com/google/uuid"
)

// File names inside the data directory. Each sample's audio is named after its ID;
// the metadata file names the current one.
const (
	AudioFilePrefix  = "voice-sample-"
	AudioFileExt     = ".wav"
	MetadataFileName = "voice-sample.json"

	dirMode  = 0o750
	fileMode = 0o600

	// Unreferenced audio younger than this may belong to a save still in flight in
	// another process.
	orphanAge = time.Hour
)

// ErrInvalidSample is returned when Save is given audio that cannot be stored.
var ErrInvalidSample = errors.New("invalid voice sample")

// Store keeps one sample on disk. The metadata rename is the only commit point, so
// a reader sees either the previous sample or the new one, never a mix.
type Store struct {
	dir    string
	mu     sync.RWMutex
	log    *logger.Logger
	now    func() time.Time
	rename func(oldPath, newPath string) error
}

// New creates a store rooted at dir, creating the directory when needed. Audio
// files left behind by interrupted saves are removed.
func New(dir string, log *logger.Logger) (*Store, error) {
	err := os.MkdirAll(dir, dirMode)
	if err != nil {
		return nil, fmt.Errorf("failed to create sample directory %s: %w", dir, err)
	}

	store := &Store{dir: dir, mu: sync.RWMutex{}, log: log, now: time.Now, rename: os.Rename}
	store.removeOrphans()

	return store, nil
}

// AudioPath returns where the audio of the sample with id lives.
func (s *Store) AudioPath(id string) string {
	return filepath.Join(s.dir, AudioFilePrefix+id+AudioFileExt)
}

// Save replaces the current sample. The audio is written under its own name first
// and the metadata rename commits it; the superseded audio is removed afterwards.
func (s *Store) Save(_ context.Context, canonical core.CanonicalAudio, meta core.SampleMetadata) (*core.VoiceSample, error) {
	if len(canonical.Data) == 0 {
		return nil, fmt.Errorf("%w: no audio data", ErrInvalidSample)
	}

	id := uuid.NewString()
	sample := &core.VoiceSample{
		ID:              id,
		AudioPath:       s.AudioPath(id),
		DurationSeconds: meta.DurationSeconds,
		SampleRate:      canonical.Info.SampleRate,
		Channels:        canonical.Info.Channels,
		SourceIdentity:  meta.SourceIdentity,
		CreatedAt:       s.now().UTC(),
	}

	if sample.DurationSeconds == 0 {
		sample.DurationSeconds = canonical.Info.Seconds()
	}

	metadata, err := json.MarshalIndent(sample, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode sample metadata: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, _ := s.readMetadata()

	err = s.replace(filepath.Base(sample.AudioPath), canonical.Data)
	if err != nil {
		return nil, err
	}

	err = s.replace(MetadataFileName, metadata)
	if err != nil {
		s.remove(sample.AudioPath)

		return nil, err
	}

	if previous != nil && previous.AudioPath != sample.AudioPath {
		s.remove(previous.AudioPath)
	}

	s.log.Info("Stored voice sample %s (%.1fs from %s)", sample.ID, sample.DurationSeconds, sample.SourceIdentity)

	return sample, nil
}

// Current returns the stored sample or core.ErrNoSample.
func (s *Store) Current(_ context.Context) (*core.VoiceSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sample, err := s.readMetadata()
	if err != nil {
		return nil, err
	}

	_, statErr := os.Stat(sample.AudioPath)
	if errors.Is(statErr, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: audio file %s is missing", core.ErrNoSample, sample.AudioPath)
	}

	if statErr != nil {
		return nil, fmt.Errorf("failed to stat sample audio: %w", statErr)
	}

	return sample, nil
}

func (s *Store) readMetadata() (*core.VoiceSample, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, MetadataFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, core.ErrNoSample
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read sample metadata: %w", err)
	}

	var sample core.VoiceSample

	err = json.Unmarshal(data, &sample)
	if err != nil {
		return nil, fmt.Errorf("failed to decode sample metadata: %w", err)
	}

	return &sample, nil
}

// Exists reports whether a complete sample is stored.
func (s *Store) Exists(ctx context.Context) bool {
	_, err := s.Current(ctx)

	return err == nil
}

func (s *Store) replace(name string, data []byte) error {
	tempFile, err := os.CreateTemp(s.dir, "."+name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}

	tempName := tempFile.Name()
	committed := false

	defer func() {
		if committed {
			return
		}

		removeErr := os.Remove(tempName)
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			s.log.Warn("Failed to remove temp file '%s': %v", tempName, removeErr)
		}
	}()

	_, writeErr := tempFile.Write(data)
	syncErr := tempFile.Sync()
	closeErr := tempFile.Close()

	err = errors.Join(writeErr, syncErr, closeErr)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}

	err = os.Chmod(tempName, fileMode)
	if err != nil {
		return fmt.Errorf("failed to set mode on %s: %w", name, err)
	}

	err = s.rename(tempName, filepath.Join(s.dir, name))
	if err != nil {
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}

	committed = true

	return nil
}

func (s *Store) remove(path string) {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("Failed to remove voice sample audio '%s': %v", path, err)
	}
}

// removeOrphans deletes old audio files the metadata does not reference.
func (s *Store) removeOrphans() {
	current, _ := s.readMetadata()

	matches, err := filepath.Glob(filepath.Join(s.dir, AudioFilePrefix+"*"+AudioFileExt))
	if err != nil {
		return
	}

	cutoff := s.now().Add(-orphanAge)

	for _, path := range matches {
		if current != nil && path == current.AudioPath {
			continue
		}

		info, statErr := os.Stat(path)
		if statErr != nil || info.ModTime().After(cutoff) {
			continue
		}

		s.log.Warn("Removing orphaned voice sample audio '%s'", path)
		s.remove(path)
	}
}
