package core

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy. Validation and not-found errors end a request immediately;
// prerequisite, quota and synthesis errors are absorbed by the cascade.
var (
	ErrValidation          = errors.New("validation error")
	ErrUnauthorized        = errors.New("sender is not authorized")
	ErrTooShort            = errors.New("voice sample too short")
	ErrTooLong             = errors.New("voice sample too long")
	ErrConversion          = errors.New("audio conversion failed")
	ErrMissingPrerequisite = errors.New("missing prerequisite")
	ErrQuotaInsufficient   = errors.New("quota insufficient")
	ErrQuotaExceeded       = errors.New("quota exceeded")
	ErrSynthesis           = errors.New("synthesis failed")
	ErrNotFound            = errors.New("not found")
	ErrNoSample            = errors.New("no voice sample stored")
	ErrExhausted           = errors.New("all synthesis backends exhausted")
)

// ConversionError carries the diagnostic output of the conversion tool.
type ConversionError struct {
	Tool       string
	Diagnostic string
	Err        error
}

func (e *ConversionError) Error() string {
	diagnostic := strings.TrimSpace(e.Diagnostic)
	if diagnostic == "" {
		return fmt.Sprintf("%s: %s: %v", ErrConversion, e.Tool, e.Err)
	}

	return fmt.Sprintf("%s: %s: %v: %s", ErrConversion, e.Tool, e.Err, diagnostic)
}

// Is matches ErrConversion so callers can test with errors.Is.
func (e *ConversionError) Is(target error) bool {
	return target == ErrConversion
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// ExhaustedError is returned when no backend produced audio. Attempts holds the
// complete ordered trail for diagnosis.
type ExhaustedError struct {
	Attempts []SynthesisAttempt
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, attempt := range e.Attempts {
		parts = append(parts, attempt.String())
	}

	return fmt.Sprintf("%s after %d attempts: [%s]", ErrExhausted, len(e.Attempts), strings.Join(parts, "; "))
}

func (e *ExhaustedError) Unwrap() error {
	return ErrExhausted
}
