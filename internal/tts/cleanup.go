package tts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TempFilePrefixes names the temp files the backends leave in their temp dir while
// a synthesis runs.
var TempFilePrefixes = []string{
	"narration-",
	"bark-output-",
	"edge-output-",
	"espeak-output-",
}

// DefaultSweepAge is how old a temp file must be before a sweep treats it as
// orphaned by a crashed run.
const DefaultSweepAge = time.Hour

const summaryFormat = "removed %d orphaned temp files, kept %d recent, %d errors"

// CleanupReport lists what a sweep did.
type CleanupReport struct {
	Removed []string
	Kept    []string
	Errors  []string
}

// Summary is a one-line description for the log.
func (r *CleanupReport) Summary() string {
	return fmt.Sprintf(summaryFormat, len(r.Removed), len(r.Kept), len(r.Errors))
}

// SweepTempFiles removes regular files in dir whose name starts with one of
// prefixes and whose modification time is older than olderThan. Files of runs still
// in progress are younger and are kept.
func SweepTempFiles(dir string, prefixes []string, olderThan time.Duration, now time.Time) (*CleanupReport, error) {
	report := &CleanupReport{}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return report, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read temp dir %s: %w", dir, err)
	}

	cutoff := now.Add(-olderThan)

	for _, entry := range entries {
		if !entry.Type().IsRegular() || !hasAnyPrefix(entry.Name(), prefixes) {
			continue
		}

		info, infoErr := entry.Info()
		if infoErr != nil {
			report.Errors = append(report.Errors, infoErr.Error())

			continue
		}

		if info.ModTime().After(cutoff) {
			report.Kept = append(report.Kept, entry.Name())

			continue
		}

		removeErr := os.Remove(filepath.Join(dir, entry.Name()))
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			report.Errors = append(report.Errors, removeErr.Error())

			continue
		}

		report.Removed = append(report.Removed, entry.Name())
	}

	return report, nil
}

func hasAnyPrefix(name string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}

	return false
}
