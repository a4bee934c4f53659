// Package ledger tracks character consumption of quota-bound synthesis backends per
// billing period. Commit is the single serialization point: it never lets consumed
// exceed the configured limit.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/book-expert/voice-narrator/internal/core"
)

// ErrNegativeCharacters is returned when a commit would decrease consumption.
var ErrNegativeCharacters = errors.New("characters consumed must be non-negative")

type usageKey struct {
	backend core.BackendID
	period  string
}

// Memory is an in-process ledger. It is safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	limits   map[core.BackendID]int
	consumed map[usageKey]int
}

// NewMemory creates an in-process ledger with per-backend limits. A backend without
// a limit has no quota.
func NewMemory(limits map[core.BackendID]int) *Memory {
	return &Memory{
		mu:       sync.Mutex{},
		limits:   copyLimits(limits),
		consumed: make(map[usageKey]int),
	}
}

// Remaining returns the characters still available to backend in period.
func (m *Memory) Remaining(ctx context.Context, backend core.BackendID, period string) (int, error) {
	entry, err := m.Entry(ctx, backend, period)
	if err != nil {
		return 0, err
	}

	return entry.Remaining(), nil
}

// Entry returns a snapshot of the ledger row for backend and period.
func (m *Memory) Entry(_ context.Context, backend core.BackendID, period string) (core.QuotaEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.entryLocked(backend, period), nil
}

// Commit records consumption, rejecting it with core.ErrQuotaExceeded when it would
// push consumed above the limit.
func (m *Memory) Commit(
	_ context.Context,
	backend core.BackendID,
	period string,
	characters int,
) (core.QuotaEntry, error) {
	if characters < 0 {
		return core.QuotaEntry{}, fmt.Errorf("%w: got %d", ErrNegativeCharacters, characters)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.entryLocked(backend, period)
	if entry.Consumed+characters > entry.Limit {
		return entry, exceeded(entry, characters)
	}

	entry.Consumed += characters
	m.consumed[usageKey{backend: backend, period: period}] = entry.Consumed

	return entry, nil
}

func (m *Memory) entryLocked(backend core.BackendID, period string) core.QuotaEntry {
	return core.QuotaEntry{
		Backend:  backend,
		Period:   period,
		Consumed: m.consumed[usageKey{backend: backend, period: period}],
		Limit:    m.limits[backend],
	}
}

func exceeded(entry core.QuotaEntry, characters int) error {
	return fmt.Errorf(
		"%w: %s in %s has %d of %d characters left, commit of %d rejected",
		core.ErrQuotaExceeded,
		entry.Backend,
		entry.Period,
		entry.Remaining(),
		entry.Limit,
		characters,
	)
}

func copyLimits(limits map[core.BackendID]int) map[core.BackendID]int {
	out := make(map[core.BackendID]int, len(limits))
	for backend, limit := range limits {
		out[backend] = limit
	}

	return out
}
