package orchestrator

import (
	"fmt"

	"github.com/book-expert/voice-narrator/internal/core"
)

// BackendState is everything the cascade knows about one backend before deciding
// whether to call it. Fields after the first failing check may be left zero.
type BackendState struct {
	Enabled         bool
	Capabilities    core.Capabilities
	SampleAvailable bool
	Offline         bool
	// Unavailable is the error reported by the backend's own prerequisite check.
	Unavailable error
	// QuotaErr is set when the ledger could not be read.
	QuotaErr       error
	QuotaRemaining int
	Characters     int
}

// Verdict is the result of Decide.
type Verdict struct {
	Attempt bool
	Reason  core.Reason
	Detail  string
}

// Decide is the pure per-backend cascade policy. Checks run in a fixed order:
// disabled, missing prerequisite, then quota.
func Decide(state BackendState) Verdict {
	switch {
	case !state.Enabled:
		return skip(core.ReasonDisabled, "disabled by configuration")
	case state.Capabilities.RequiresSample && !state.SampleAvailable:
		return skip(core.ReasonMissingPrerequisite, "no voice sample available")
	case state.Capabilities.RequiresNetwork && state.Offline:
		return skip(core.ReasonMissingPrerequisite, "network required but deployment is offline")
	case state.Unavailable != nil:
		return skip(core.ReasonMissingPrerequisite, state.Unavailable.Error())
	case state.Capabilities.QuotaBound && state.QuotaErr != nil:
		return skip(core.ReasonQuotaInsufficient, "ledger unavailable: "+state.QuotaErr.Error())
	case state.Capabilities.QuotaBound && state.QuotaRemaining < state.Characters:
		return skip(core.ReasonQuotaInsufficient, fmt.Sprintf(
			"%d characters requested, %d remaining", state.Characters, state.QuotaRemaining))
	default:
		return Verdict{Attempt: true, Reason: core.ReasonNone, Detail: ""}
	}
}

// worthProbing reports whether the checks that need no I/O already rule the
// backend out. Quota is treated as sufficient because it has not been read yet.
func worthProbing(state BackendState) bool {
	state.Unavailable = nil
	state.QuotaErr = nil
	state.QuotaRemaining = state.Characters

	return Decide(state).Attempt
}

func skip(reason core.Reason, detail string) Verdict {
	return Verdict{Attempt: false, Reason: reason, Detail: detail}
}
