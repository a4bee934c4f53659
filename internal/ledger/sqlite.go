package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/book-expert/voice-narrator/internal/core"

	_ "modernc.org/sqlite"
)

const (
	sqliteDriver     = "sqlite"
	sqliteDSNPattern = "file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	createUsageTable = `CREATE TABLE IF NOT EXISTS quota_usage (
	backend  TEXT    NOT NULL,
	period   TEXT    NOT NULL,
	consumed INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (backend, period)
)`
	selectConsumed = `SELECT consumed FROM quota_usage WHERE backend = ? AND period = ?`
	ensureRow      = `INSERT INTO quota_usage (backend, period, consumed) VALUES (?, ?, 0)
ON CONFLICT (backend, period) DO NOTHING`
	// The limit check and the increment are one statement, so concurrent writers
	// from other processes cannot both pass the check.
	incrementConsumed = `UPDATE quota_usage SET consumed = consumed + ?
WHERE backend = ? AND period = ? AND consumed + ? <= ?`
)

// SQLite is a ledger persisted in a SQLite database so quota survives process
// restarts and is shared by the CLI and the service.
type SQLite struct {
	db     *sql.DB
	limits map[core.BackendID]int
}

// OpenSQLite opens (creating if needed) the ledger database at path.
func OpenSQLite(ctx context.Context, path string, limits map[core.BackendID]int) (*SQLite, error) {
	db, err := sql.Open(sqliteDriver, fmt.Sprintf(sqliteDSNPattern, path))
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	_, execErr := db.ExecContext(ctx, createUsageTable)
	if execErr != nil {
		closeErr := db.Close()

		return nil, errors.Join(fmt.Errorf("failed to create ledger schema: %w", execErr), closeErr)
	}

	return &SQLite{db: db, limits: copyLimits(limits)}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("failed to close ledger database: %w", err)
	}

	return nil
}

// Remaining returns the characters still available to backend in period.
func (s *SQLite) Remaining(ctx context.Context, backend core.BackendID, period string) (int, error) {
	entry, err := s.Entry(ctx, backend, period)
	if err != nil {
		return 0, err
	}

	return entry.Remaining(), nil
}

// Entry returns a snapshot of the ledger row for backend and period.
func (s *SQLite) Entry(ctx context.Context, backend core.BackendID, period string) (core.QuotaEntry, error) {
	consumed, err := s.consumed(ctx, s.db, backend, period)
	if err != nil {
		return core.QuotaEntry{}, err
	}

	return core.QuotaEntry{
		Backend:  backend,
		Period:   period,
		Consumed: consumed,
		Limit:    s.limits[backend],
	}, nil
}

// Commit records consumption, rejecting it with core.ErrQuotaExceeded when it would
// push consumed above the limit.
func (s *SQLite) Commit(
	ctx context.Context,
	backend core.BackendID,
	period string,
	characters int,
) (core.QuotaEntry, error) {
	if characters < 0 {
		return core.QuotaEntry{}, fmt.Errorf("%w: got %d", ErrNegativeCharacters, characters)
	}

	limit := s.limits[backend]

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.QuotaEntry{}, fmt.Errorf("failed to begin ledger transaction: %w", err)
	}

	entry, commitErr := s.commitTx(ctx, tx, backend, period, characters, limit)
	if commitErr != nil {
		rollbackErr := tx.Rollback()
		if rollbackErr != nil {
			return entry, errors.Join(commitErr, fmt.Errorf("failed to roll back ledger: %w", rollbackErr))
		}

		return entry, commitErr
	}

	err = tx.Commit()
	if err != nil {
		return core.QuotaEntry{}, fmt.Errorf("failed to commit ledger transaction: %w", err)
	}

	return entry, nil
}

func (s *SQLite) commitTx(
	ctx context.Context,
	tx *sql.Tx,
	backend core.BackendID,
	period string,
	characters, limit int,
) (core.QuotaEntry, error) {
	_, err := tx.ExecContext(ctx, ensureRow, string(backend), period)
	if err != nil {
		return core.QuotaEntry{}, fmt.Errorf("failed to initialize ledger row: %w", err)
	}

	result, err := tx.ExecContext(ctx, incrementConsumed, characters, string(backend), period, characters, limit)
	if err != nil {
		return core.QuotaEntry{}, fmt.Errorf("failed to update ledger row: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return core.QuotaEntry{}, fmt.Errorf("failed to read ledger update result: %w", err)
	}

	consumed, err := s.consumed(ctx, tx, backend, period)
	if err != nil {
		return core.QuotaEntry{}, err
	}

	entry := core.QuotaEntry{Backend: backend, Period: period, Consumed: consumed, Limit: limit}

	if affected == 0 {
		return entry, exceeded(entry, characters)
	}

	return entry, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLite) consumed(ctx context.Context, querier queryRower, backend core.BackendID, period string) (int, error) {
	var consumed int

	err := querier.QueryRowContext(ctx, selectConsumed, string(backend), period).Scan(&consumed)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("failed to read ledger row for %s/%s: %w", backend, period, err)
	}

	return consumed, nil
}
