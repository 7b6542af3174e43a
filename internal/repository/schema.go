package repository

import (
	"context"
	"fmt"
)

// SchemaRepository answers structural questions about the live schema.
type SchemaRepository interface {
	HasColumn(ctx context.Context, table, column string) (bool, error)
	HasTable(ctx context.Context, table string) (bool, error)
	PrimaryKey(ctx context.Context, table string) ([]string, error)
}

// SQLSchemaRepository reads information_schema on Postgres and the table_info
// pragmas on SQLite.
type SQLSchemaRepository struct {
	base
}

func NewSchemaRepository(q Querier, d Dialect) *SQLSchemaRepository {
	return &SQLSchemaRepository{base{q: q, d: d}}
}

var _ SchemaRepository = (*SQLSchemaRepository)(nil)

// HasColumn 检查列是否存在
func (r *SQLSchemaRepository) HasColumn(ctx context.Context, table, column string) (bool, error) {
	if err := checkIdentifiers(table, column); err != nil {
		return false, err
	}
	var query string
	if r.d == SQLite {
		query = `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`
	} else {
		query = `
			SELECT COUNT(*)
			FROM information_schema.columns
			WHERE table_schema = current_schema()
			  AND table_name = ?
			  AND column_name = ?
		`
	}
	var n int
	if err := r.queryRow(ctx, query, table, column).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check column %s.%s: %w", table, column, err)
	}
	return n > 0, nil
}

// HasTable 检查表是否存在
func (r *SQLSchemaRepository) HasTable(ctx context.Context, table string) (bool, error) {
	if err := checkIdentifiers(table); err != nil {
		return false, err
	}
	var query string
	if r.d == SQLite {
		query = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
	} else {
		query = `
			SELECT COUNT(*)
			FROM information_schema.tables
			WHERE table_schema = current_schema()
			  AND table_name = ?
		`
	}
	var n int
	if err := r.queryRow(ctx, query, table).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	return n > 0, nil
}

// PrimaryKey returns the primary key columns of the table in key order.
func (r *SQLSchemaRepository) PrimaryKey(ctx context.Context, table string) ([]string, error) {
	if err := checkIdentifiers(table); err != nil {
		return nil, err
	}
	var query string
	if r.d == SQLite {
		query = `SELECT name FROM pragma_table_info(?) WHERE pk > 0 ORDER BY pk`
	} else {
		query = `
			SELECT kcu.column_name
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
			  ON kcu.constraint_name = tc.constraint_name
			 AND kcu.table_schema = tc.table_schema
			WHERE tc.table_schema = current_schema()
			  AND tc.table_name = ?
			  AND tc.constraint_type = 'PRIMARY KEY'
			ORDER BY kcu.ordinal_position
		`
	}
	cols, err := r.queryStrings(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read primary key of %s: %w", table, err)
	}
	return cols, nil
}
