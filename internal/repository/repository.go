package repository

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Querier is satisfied by *sql.DB and *sql.Tx. Every repository in this
// package works against one, so the changeset runner can hand in the step
// transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)
)

// Dialect captures the few places where Postgres and SQLite differ.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

// DialectForDriver maps a database/sql driver name to its dialect.
func DialectForDriver(driver string) (Dialect, error) {
	switch driver {
	case "postgres", "pgx":
		return Postgres, nil
	case "sqlite":
		return SQLite, nil
	}
	return 0, fmt.Errorf("unsupported driver %q", driver)
}

func (d Dialect) String() string {
	if d == SQLite {
		return "sqlite"
	}
	return "postgres"
}

// Rebind rewrites ? placeholders to $n for Postgres. Quoted literals are left
// untouched.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	var quote rune
	for _, r := range query {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '?':
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidIdentifier reports whether s is safe to splice into SQL as a table or
// column name.
func ValidIdentifier(s string) bool {
	return identRe.MatchString(s)
}

func checkIdentifiers(names ...string) error {
	for _, n := range names {
		if !ValidIdentifier(n) {
			return fmt.Errorf("invalid identifier %q", n)
		}
	}
	return nil
}

// base is embedded by every repository.
type base struct {
	q Querier
	d Dialect
}

func (b base) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := b.q.ExecContext(ctx, b.d.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (b base) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return b.q.QueryRowContext(ctx, b.d.Rebind(query), args...)
}

func (b base) queryInt64s(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := b.q.QueryContext(ctx, b.d.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (b base) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := b.q.QueryContext(ctx, b.d.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func nullInt64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullStringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
