package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Period policy names accepted in configuration.
const (
	PolicyMonthly = "monthly"
	PolicyDaily   = "daily"
	PolicyTotal   = "total"
)

// totalPeriodKey is the single period used when quota never rolls over.
const totalPeriodKey = "all-time"

// ErrUnknownPolicy is returned for an unrecognized period policy name.
var ErrUnknownPolicy = errors.New("unknown quota period policy")

// PeriodFunc maps an instant to a billing period key. A new key starts a new period
// with zero consumption.
type PeriodFunc func(time.Time) string

// Monthly keys periods by UTC calendar month, e.g. "2026-10".
func Monthly(instant time.Time) string {
	return instant.UTC().Format("2006-01")
}

// Daily keys periods by UTC calendar day, e.g. "2026-10-19".
func Daily(instant time.Time) string {
	return instant.UTC().Format("2006-01-02")
}

// Total never rolls over.
func Total(time.Time) string {
	return totalPeriodKey
}

// ParsePolicy returns the PeriodFunc for a configured policy name. An empty name
// selects the monthly policy.
func ParsePolicy(name string) (PeriodFunc, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyMonthly:
		return Monthly, nil
	case PolicyDaily:
		return Daily, nil
	case PolicyTotal:
		return Total, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
}
