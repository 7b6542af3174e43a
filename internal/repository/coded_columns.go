package repository

import (
	"context"
	"fmt"
)

// CodedColumnsRepository reads legacy free-text columns and writes their coded
// replacements. Table and column names are validated identifiers, never user
// input.
type CodedColumnsRepository interface {
	DistinctLabels(ctx context.Context, table, column string) ([]string, error)
	RewriteLabel(ctx context.Context, table, legacyColumn, codedColumn, label string, codedID int64) (int64, error)
}

type SQLCodedColumnsRepository struct {
	base
}

func NewCodedColumnsRepository(q Querier, d Dialect) *SQLCodedColumnsRepository {
	return &SQLCodedColumnsRepository{base{q: q, d: d}}
}

var _ CodedColumnsRepository = (*SQLCodedColumnsRepository)(nil)

// DistinctLabels returns the distinct non-null, non-blank values of the
// column in ascending order.
func (r *SQLCodedColumnsRepository) DistinctLabels(ctx context.Context, table, column string) ([]string, error) {
	if err := checkIdentifiers(table, column); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT DISTINCT %[2]s FROM %[1]s
		WHERE %[2]s IS NOT NULL AND TRIM(%[2]s) <> ''
		ORDER BY %[2]s
	`, table, column)
	labels, err := r.queryStrings(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list labels of %s.%s: %w", table, column, err)
	}
	return labels, nil
}

// RewriteLabel sets the coded column on rows holding the label whose coded
// column is still empty.
func (r *SQLCodedColumnsRepository) RewriteLabel(ctx context.Context, table, legacyColumn, codedColumn, label string, codedID int64) (int64, error) {
	if err := checkIdentifiers(table, legacyColumn, codedColumn); err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`UPDATE %s SET %s = ? WHERE %s = ? AND %s IS NULL`, table, codedColumn, legacyColumn, codedColumn)
	n, err := r.exec(ctx, query, codedID, label)
	if err != nil {
		return 0, fmt.Errorf("failed to rewrite %s.%s label %q: %w", table, legacyColumn, label, err)
	}
	return n, nil
}
