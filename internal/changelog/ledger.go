package changelog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/openmrs/openmrs-core-sub027/internal/repository"
)

// LedgerTable records every executed changeset.
const LedgerTable = "upgrade_changelog"

// Exec types stored in the ledger.
const (
	ExecTypeExecuted = "EXECUTED"
	ExecTypeMarkRan  = "MARK_RAN"
)

// Entry is a ledger row.
type Entry struct {
	ID            string
	Author        string
	Filename      string
	DateExecuted  string
	OrderExecuted int
	MD5Sum        string
	ExecType      string
	Description   string
}

// Ledger reads and writes the executed-changeset table.
type Ledger struct {
	dialect repository.Dialect
}

func NewLedger(d repository.Dialect) *Ledger {
	return &Ledger{dialect: d}
}

// EnsureTable 创建执行记录表
func (l *Ledger) EnsureTable(ctx context.Context, q repository.Querier) error {
	_, err := q.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+LedgerTable+` (
			id VARCHAR(255) NOT NULL PRIMARY KEY,
			author VARCHAR(255) NOT NULL,
			filename VARCHAR(255) NOT NULL,
			date_executed TIMESTAMP NOT NULL,
			order_executed INTEGER NOT NULL,
			md5sum VARCHAR(35) NOT NULL,
			exec_type VARCHAR(10) NOT NULL,
			description VARCHAR(255) NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", LedgerTable, err)
	}
	return nil
}

// Executed returns the ledger in execution order.
func (l *Ledger) Executed(ctx context.Context, q repository.Querier) ([]Entry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, author, filename, date_executed, order_executed, md5sum, exec_type, description
		FROM `+LedgerTable+`
		ORDER BY order_executed
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", LedgerTable, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e    Entry
			desc sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Author, &e.Filename, &e.DateExecuted, &e.OrderExecuted, &e.MD5Sum, &e.ExecType, &desc); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", LedgerTable, err)
		}
		e.Description = desc.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", LedgerTable, err)
	}
	return out, nil
}

// Record appends a ledger row, numbering it after the last one.
func (l *Ledger) Record(ctx context.Context, q repository.Querier, cs Changeset, filename, md5sum, execType string) error {
	_, err := q.ExecContext(ctx, l.dialect.Rebind(`
		INSERT INTO `+LedgerTable+` (id, author, filename, date_executed, order_executed, md5sum, exec_type, description)
		SELECT ?, ?, ?, CURRENT_TIMESTAMP, COALESCE(MAX(order_executed), 0) + 1, ?, ?, ?
		FROM `+LedgerTable+`
	`), cs.ID, cs.Author, filename, md5sum, execType, truncate(cs.Comment, 255))
	if err != nil {
		return fmt.Errorf("failed to record changeset %s: %w", cs.ID, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
