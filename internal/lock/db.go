package lock

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/openmrs/openmrs-core-sub027/internal/errors"
	"github.com/openmrs/openmrs-core-sub027/internal/repository"
)

// LockTable is the single-row lock record shared by every run.
const LockTable = "upgrade_changelog_lock"

// DBLocker keeps the lock in a row of the upgraded database itself.
type DBLocker struct {
	db      *sql.DB
	dialect repository.Dialect
}

func NewDBLocker(db *sql.DB, d repository.Dialect) *DBLocker {
	return &DBLocker{db: db, dialect: d}
}

var _ Locker = (*DBLocker)(nil)

// EnsureTable creates the lock table and its row when missing.
func (l *DBLocker) EnsureTable(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+LockTable+` (
			id INTEGER NOT NULL PRIMARY KEY,
			locked BOOLEAN NOT NULL,
			lock_granted TIMESTAMP NULL,
			locked_by VARCHAR(255) NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create lock table: %w", err)
	}
	if _, err := l.db.ExecContext(ctx, `
		INSERT INTO `+LockTable+` (id, locked) VALUES (1, FALSE)
		ON CONFLICT (id) DO NOTHING
	`); err != nil {
		return fmt.Errorf("failed to seed lock row: %w", err)
	}
	return nil
}

// Acquire takes the lock row with a conditional update.
func (l *DBLocker) Acquire(ctx context.Context, owner string) error {
	res, err := l.db.ExecContext(ctx, l.dialect.Rebind(`
		UPDATE `+LockTable+`
		SET locked = TRUE, lock_granted = CURRENT_TIMESTAMP, locked_by = ?
		WHERE id = 1 AND locked = FALSE
	`), owner)
	if err != nil {
		return fmt.Errorf("failed to acquire upgrade lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to acquire upgrade lock: %w", err)
	}
	if n == 1 {
		return nil
	}

	var holder sql.NullString
	err = l.db.QueryRowContext(ctx, `SELECT locked_by FROM `+LockTable+` WHERE id = 1`).Scan(&holder)
	if err != nil {
		return fmt.Errorf("failed to read upgrade lock: %w", err)
	}
	return errors.Wrapf(ErrLocked, "upgrade lock held by %q", holder.String)
}

func (l *DBLocker) Release(ctx context.Context, owner string) error {
	_, err := l.db.ExecContext(ctx, l.dialect.Rebind(`
		UPDATE `+LockTable+`
		SET locked = FALSE, lock_granted = NULL, locked_by = NULL
		WHERE id = 1 AND locked_by = ?
	`), owner)
	if err != nil {
		return fmt.Errorf("failed to release upgrade lock: %w", err)
	}
	return nil
}

// ForceRelease clears the lock whoever holds it and returns the previous
// holder, empty when the lock was free. Only for runs that died holding it.
func (l *DBLocker) ForceRelease(ctx context.Context) (string, error) {
	var (
		locked bool
		holder sql.NullString
	)
	err := l.db.QueryRowContext(ctx, `SELECT locked, locked_by FROM `+LockTable+` WHERE id = 1`).Scan(&locked, &holder)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read upgrade lock: %w", err)
	}
	if !locked {
		return "", nil
	}
	if _, err := l.db.ExecContext(ctx, `
		UPDATE `+LockTable+`
		SET locked = FALSE, lock_granted = NULL, locked_by = NULL
		WHERE id = 1
	`); err != nil {
		return "", fmt.Errorf("failed to force release upgrade lock: %w", err)
	}
	return holder.String, nil
}
