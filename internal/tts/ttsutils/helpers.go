// Package ttsutils provides file, path and display helpers shared by the narration
// CLI, the bot and the backend adapters.
package ttsutils

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Environment variable names used for path resolution.
const (
	envCacheDir = "VOICE_NARRATOR_CACHE_DIR"
)

// Common application directory and path constants.
const (
	appName               = "voice-narrator"
	dotCache              = ".cache"
	defaultDirPermissions = 0o750
	dot                   = "."
)

// Data size constants.
const (
	byteUnit = 1
	kilobyte = byteUnit * 1024
	megabyte = kilobyte * 1024
	gigabyte = megabyte * 1024
)

// Time and size formatting constants.
const (
	secondsInMinute = 60
	secondsInHour   = 3600
	formatSeconds   = "%.1fs"
	formatMinutes   = "%dm %.1fs"
	formatHours     = "%dh %dm"
	formatGB        = "%.1f GB"
	formatMB        = "%.1f MB"
	formatKB        = "%.1f KB"
	formatBytes     = "%d B"
)

// File extension constants.
const (
	extAAC  = ".aac"
	extFLAC = ".flac"
	extM4A  = ".m4a"
	extMD   = ".md"
	extMP3  = ".mp3"
	extOGA  = ".oga"
	extOGG  = ".ogg"
	extOPUS = ".opus"
	extTXT  = ".txt"
	extWAV  = ".wav"
)

// Error message and format string constants.
const (
	errFmtFailedToCreateDir = "failed to create directory %s: %w"
	errFmtNotADirectory     = "%s exists and is not a directory"
	errFmtNoExecutable      = "%w: tried %s"
)

// ErrExecutableNotFound is returned when none of the candidate executables is on PATH.
var ErrExecutableNotFound = errors.New("executable not found")

// GetCacheDir returns the application's cache directory, respecting an environment
// variable override and falling back to a user-based cache directory.
func GetCacheDir() string {
	if cacheDir := os.Getenv(envCacheDir); cacheDir != "" {
		return cacheDir
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), appName)
	}

	return filepath.Join(homeDir, dotCache, appName)
}

// EnsureDir ensures a directory exists at the given path, creating it if it doesn't.
func EnsureDir(path string) error {
	info, statErr := os.Stat(path)
	if statErr == nil {
		if !info.IsDir() {
			return fmt.Errorf(errFmtNotADirectory, path)
		}

		return nil
	}

	mkdirErr := os.MkdirAll(path, defaultDirPermissions)
	if mkdirErr != nil {
		return fmt.Errorf(errFmtFailedToCreateDir, path, mkdirErr)
	}

	return nil
}

// FindExecutable returns the absolute path of the first candidate found on PATH.
// Candidates containing a path separator are checked as given.
func FindExecutable(candidates ...string) (string, error) {
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}

		path, err := exec.LookPath(candidate)
		if err != nil {
			continue
		}

		absPath, absErr := filepath.Abs(path)
		if absErr != nil {
			return path, nil
		}

		return absPath, nil
	}

	return "", fmt.Errorf(errFmtNoExecutable, ErrExecutableNotFound, strings.Join(candidates, ", "))
}

// FormatDuration formats a duration in a human-readable string (e.g., "1h 15m", "5m
// 30.5s", "45.2s").
func FormatDuration(seconds float64) string {
	if seconds < secondsInMinute {
		return fmt.Sprintf(formatSeconds, seconds)
	}

	if seconds < secondsInHour {
		minutes := int(seconds / secondsInMinute)
		remainingSeconds := seconds - float64(minutes*secondsInMinute)

		return fmt.Sprintf(formatMinutes, minutes, remainingSeconds)
	}

	hours := int(seconds / secondsInHour)
	remainingSeconds := seconds - float64(hours*secondsInHour)
	remainingMinutes := int(remainingSeconds / secondsInMinute)

	return fmt.Sprintf(formatHours, hours, remainingMinutes)
}

// FormatFileSize formats a file size in a human-readable string (e.g., "1.2 GB", "500.5
// MB").
func FormatFileSize(bytes int64) string {
	switch {
	case bytes >= gigabyte:
		return fmt.Sprintf(formatGB, float64(bytes)/gigabyte)
	case bytes >= megabyte:
		return fmt.Sprintf(formatMB, float64(bytes)/megabyte)
	case bytes >= kilobyte:
		return fmt.Sprintf(formatKB, float64(bytes)/kilobyte)
	default:
		return fmt.Sprintf(formatBytes, bytes)
	}
}

// FormatKilobytes always reports kilobytes, as the bot status reply does.
func FormatKilobytes(bytes int64) string {
	return fmt.Sprintf(formatKB, float64(bytes)/kilobyte)
}

// IsValidAudioFile checks if a filename has a common audio file extension.
func IsValidAudioFile(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case extWAV, extMP3, extFLAC, extOGG, extOGA, extOPUS, extM4A, extAAC:
		return true
	default:
		return false
	}
}

// IsValidTextFile checks if a filename has a plain text extension.
func IsValidTextFile(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case extTXT, extMD:
		return true
	default:
		return false
	}
}

// GetFileExtension returns the file extension without the leading dot.
func GetFileExtension(filename string) string {
	return strings.TrimPrefix(filepath.Ext(filename), dot)
}

// SafeExtension lowercases ext and returns it when it is a short run of ASCII
// letters and digits, otherwise "". The result is safe to use in a file name.
func SafeExtension(ext string) string {
	const maxExtensionLength = 8

	ext = strings.ToLower(strings.TrimPrefix(ext, dot))
	if ext == "" || len(ext) > maxExtensionLength {
		return ""
	}

	for _, char := range ext {
		if (char < 'a' || char > 'z') && (char < '0' || char > '9') {
			return ""
		}
	}

	return ext
}
