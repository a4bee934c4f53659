// Package gatekeeper decides whether an inbound voice-sample event may become the
// deployment's canonical sample.
package gatekeeper

import (
	"fmt"
	"math"

	"github.com/book-expert/voice-narrator/internal/core"
)

// Accepted sample duration bounds in seconds, inclusive.
const (
	MinDurationSeconds = 5
	MaxDurationSeconds = 60
)

// Reason explains a rejection.
type Reason string

// Rejection reasons.
const (
	ReasonNone         Reason = ""
	ReasonUnauthorized Reason = "Unauthorized"
	ReasonTooShort     Reason = "TooShort"
	ReasonTooLong      Reason = "TooLong"
)

// Decision is the outcome of Evaluate. Err is nil when Accepted.
type Decision struct {
	Accepted bool
	Reason   Reason
	Err      error
}

// Gatekeeper holds the single authorized sender identity. It has no mutable state
// and is safe for concurrent use.
type Gatekeeper struct {
	authorizedIdentity string
}

// New creates a Gatekeeper for the given authorized identity.
func New(authorizedIdentity string) *Gatekeeper {
	return &Gatekeeper{authorizedIdentity: authorizedIdentity}
}

// Evaluate accepts or rejects a voice sample. An unauthorized sender is rejected
// regardless of duration.
func (g *Gatekeeper) Evaluate(senderIdentity string, durationSeconds float64) Decision {
	if g.authorizedIdentity == "" || senderIdentity != g.authorizedIdentity {
		return reject(ReasonUnauthorized, core.ErrUnauthorized, "sender %q", senderIdentity)
	}

	return CheckDuration(durationSeconds)
}

// CheckDuration applies only the duration bounds. Samples supplied directly on the
// command line have no sender to authorize. A NaN duration is rejected as too short.
func CheckDuration(durationSeconds float64) Decision {
	if math.IsNaN(durationSeconds) || durationSeconds < MinDurationSeconds {
		return reject(ReasonTooShort, core.ErrTooShort, "%.1fs is below %ds", durationSeconds, MinDurationSeconds)
	}

	if durationSeconds > MaxDurationSeconds {
		return reject(ReasonTooLong, core.ErrTooLong, "%.1fs is above %ds", durationSeconds, MaxDurationSeconds)
	}

	return Decision{Accepted: true, Reason: ReasonNone, Err: nil}
}

func reject(reason Reason, cause error, format string, args ...any) Decision {
	detail := fmt.Sprintf(format, args...)

	return Decision{
		Accepted: false,
		Reason:   reason,
		Err:      fmt.Errorf("%w: %w: %s", core.ErrValidation, cause, detail),
	}
}
