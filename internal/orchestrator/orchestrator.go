// Package orchestrator drives the ranked cascade of synthesis backends for one
// narration request and produces either a single result or an exhausted trail.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-narrator/internal/core"
	"github.com/book-expert/voice-narrator/internal/ledger"
	"github.com/book-expert/voice-narrator/internal/tts/audio"
)

const defaultAttemptTimeout = 2 * time.Minute

// Static errors.
var (
	ErrNoBackends       = errors.New("no synthesis backends configured")
	ErrDuplicateBackend = errors.New("backend listed more than once")
	ErrNoLedger         = errors.New("quota-bound backend configured without a usage ledger")
	ErrTimeout          = errors.New("backend attempt timed out")
	ErrNoAudio          = errors.New("backend returned no audio")
	ErrBackendPanic     = errors.New("backend panicked")
)

// Entry is one slot of the static priority list.
type Entry struct {
	Backend core.Backend
	Enabled bool
	Timeout time.Duration
}

// Config holds the deployment-wide cascade settings.
type Config struct {
	Offline bool
	// Period maps the request time to the ledger period key.
	Period func(time.Time) string
}

// BackendInfo describes a configured backend for status reporting.
type BackendInfo struct {
	ID           core.BackendID    `json:"id"`
	Enabled      bool              `json:"enabled"`
	Capabilities core.Capabilities `json:"capabilities"`
	TrueClone    bool              `json:"true_clone"`
}

// Orchestrator runs the cascade. Requests are independent; each runs its backends
// strictly one after another.
type Orchestrator struct {
	entries []Entry
	ledger  core.Ledger
	cfg     Config
	log     *logger.Logger
	metrics *Metrics
	now     func() time.Time
}

// New validates the priority list and creates an orchestrator. metrics may be nil.
func New(entries []Entry, usage core.Ledger, cfg Config, log *logger.Logger, metrics *Metrics) (*Orchestrator, error) {
	if len(entries) == 0 {
		return nil, ErrNoBackends
	}

	seen := make(map[core.BackendID]bool, len(entries))
	normalized := make([]Entry, 0, len(entries))

	for _, entry := range entries {
		id := entry.Backend.ID()
		if seen[id] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateBackend, id)
		}

		seen[id] = true

		if entry.Backend.Capabilities().QuotaBound && usage == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoLedger, id)
		}

		if entry.Timeout <= 0 {
			entry.Timeout = defaultAttemptTimeout
		}

		normalized = append(normalized, entry)
	}

	if cfg.Period == nil {
		cfg.Period = ledger.Monthly
	}

	return &Orchestrator{
		entries: normalized,
		ledger:  usage,
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		now:     time.Now,
	}, nil
}

// Backends lists the configured backends in priority order.
func (o *Orchestrator) Backends() []BackendInfo {
	infos := make([]BackendInfo, 0, len(o.entries))

	for _, entry := range o.entries {
		capabilities := entry.Backend.Capabilities()
		infos = append(infos, BackendInfo{
			ID:           entry.Backend.ID(),
			Enabled:      entry.Enabled,
			Capabilities: capabilities,
			TrueClone:    capabilities.RequiresSample,
		})
	}

	return infos
}

// Period returns the ledger period key for the current time.
func (o *Orchestrator) Period() string {
	return o.cfg.Period(o.now())
}

// Synthesize tries each backend in priority order until one produces audio. When
// none does, the error is a *core.ExhaustedError carrying one attempt per backend.
// A request whose context is already done is not started; once started, attempts
// run to completion or their own timeout.
func (o *Orchestrator) Synthesize(
	ctx context.Context,
	req core.NarrationRequest,
	sample *core.VoiceSample,
) (core.SynthesisResult, error) {
	err := ctx.Err()
	if err != nil {
		return core.SynthesisResult{}, fmt.Errorf("narration request not started: %w", err)
	}

	if req.CharacterCount <= 0 || req.Text == "" {
		return core.SynthesisResult{}, fmt.Errorf("%w: narration request is empty", core.ErrValidation)
	}

	ctx = context.WithoutCancel(ctx)
	period := o.cfg.Period(o.now())
	attempts := make([]core.SynthesisAttempt, 0, len(o.entries))

	for _, entry := range o.entries {
		id := entry.Backend.ID()
		state := o.observe(ctx, entry, req, sample, period)

		verdict := Decide(state)
		if !verdict.Attempt {
			attempts = o.record(attempts, id, o.now(), core.OutcomeSkipped, verdict.Reason, verdict.Detail)
			o.log.Info("Skipped %s: %s (%s)", id, verdict.Reason, verdict.Detail)

			continue
		}

		started := o.now()
		o.log.Info("Attempting %s for %d characters", id, req.CharacterCount)

		produced, synthErr := bounded(ctx, entry.Timeout, func(attemptCtx context.Context) (core.Audio, error) {
			return entry.Backend.Synthesize(attemptCtx, req, sample)
		})

		o.metrics.observe(id, o.now().Sub(started).Seconds())

		if synthErr == nil && len(produced.Data) == 0 {
			synthErr = ErrNoAudio
		}

		if synthErr != nil {
			reason := failureReason(synthErr)
			attempts = o.record(attempts, id, started, core.OutcomeFailure, reason, synthErr.Error())
			o.log.Warn("Backend %s failed (%s): %v", id, reason, synthErr)

			continue
		}

		attempts = o.record(attempts, id, started, core.OutcomeSuccess, core.ReasonNone, "")

		if state.Capabilities.QuotaBound {
			o.commit(ctx, id, period, req.CharacterCount)
		}

		return o.result(produced, id, state.Capabilities, attempts), nil
	}

	o.metrics.exhausted()
	o.log.Error("All %d synthesis backends exhausted", len(attempts))

	return core.SynthesisResult{}, &core.ExhaustedError{Attempts: attempts}
}

// observe gathers the state Decide needs, stopping at the first check that fails
// so disabled or unusable backends are never probed.
func (o *Orchestrator) observe(
	ctx context.Context,
	entry Entry,
	req core.NarrationRequest,
	sample *core.VoiceSample,
	period string,
) BackendState {
	state := BackendState{
		Enabled:         entry.Enabled,
		Capabilities:    entry.Backend.Capabilities(),
		SampleAvailable: sample != nil,
		Offline:         o.cfg.Offline,
		Characters:      req.CharacterCount,
	}

	if !worthProbing(state) {
		return state
	}

	_, state.Unavailable = bounded(ctx, entry.Timeout, func(probeCtx context.Context) (struct{}, error) {
		return struct{}{}, entry.Backend.Available(probeCtx)
	})

	if state.Unavailable != nil || !state.Capabilities.QuotaBound {
		return state
	}

	state.QuotaRemaining, state.QuotaErr = o.ledger.Remaining(ctx, entry.Backend.ID(), period)

	return state
}

// commit records consumption after a success. A rejection is logged and the audio
// is still delivered; the ledger itself never lets consumed exceed the limit.
func (o *Orchestrator) commit(ctx context.Context, id core.BackendID, period string, characters int) {
	entry, err := o.ledger.Commit(ctx, id, period, characters)
	if err != nil {
		o.metrics.commitFailed(id)
		o.log.Error("Quota commit of %d characters for %s in %s rejected: %v", characters, id, period, err)

		return
	}

	o.metrics.committed(id, characters)
	o.log.Info("Committed %d characters for %s in %s (%d of %d used)",
		characters, id, period, entry.Consumed, entry.Limit)
}

func (o *Orchestrator) record(
	attempts []core.SynthesisAttempt,
	id core.BackendID,
	at time.Time,
	outcome core.Outcome,
	reason core.Reason,
	detail string,
) []core.SynthesisAttempt {
	attempt := core.SynthesisAttempt{Backend: id, At: at, Outcome: outcome, Reason: reason, Detail: detail}
	o.metrics.attempt(attempt)

	return append(attempts, attempt)
}

func (o *Orchestrator) result(
	produced core.Audio,
	id core.BackendID,
	capabilities core.Capabilities,
	attempts []core.SynthesisAttempt,
) core.SynthesisResult {
	result := core.SynthesisResult{
		Audio:       produced,
		Backend:     id,
		IsTrueClone: capabilities.RequiresSample,
		Attempts:    attempts,
	}

	info, err := audio.Probe(produced.Data, produced.Format)
	if err != nil {
		o.log.Warn("Could not determine duration of %s output: %v", id, err)

		return result
	}

	result.Duration = info.Duration

	return result
}

func failureReason(err error) core.Reason {
	switch {
	case errors.Is(err, ErrTimeout):
		return core.ReasonTimeout
	case errors.Is(err, core.ErrMissingPrerequisite):
		return core.ReasonMissingPrerequisite
	default:
		return core.ReasonSynthesisError
	}
}

// bounded runs call in its own goroutine and stops waiting after timeout, so a
// call that ignores its context cannot hold up the cascade.
func bounded[T any](parent context.Context, timeout time.Duration, call func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}

	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				var zero T

				done <- outcome{value: zero, err: fmt.Errorf("%w: %v", ErrBackendPanic, recovered)}
			}
		}()

		value, err := call(ctx)
		done <- outcome{value: value, err: err}
	}()

	select {
	case result := <-done:
		return result.value, result.err
	case <-ctx.Done():
		select {
		case result := <-done:
			return result.value, result.err
		default:
		}

		var zero T

		return zero, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
}
