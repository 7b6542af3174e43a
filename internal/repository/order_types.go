package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/openmrs/openmrs-core-sub027/internal/domain"
)

// OrderTypesRepository order_type 表访问
type OrderTypesRepository interface {
	List(ctx context.Context) ([]domain.OrderType, error)
}

type SQLOrderTypesRepository struct {
	base
}

func NewOrderTypesRepository(q Querier, d Dialect) *SQLOrderTypesRepository {
	return &SQLOrderTypesRepository{base{q: q, d: d}}
}

var _ OrderTypesRepository = (*SQLOrderTypesRepository)(nil)

func (r *SQLOrderTypesRepository) List(ctx context.Context) ([]domain.OrderType, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT order_type_id, name, uuid FROM order_type ORDER BY order_type_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list order types: %w", err)
	}
	defer rows.Close()

	var out []domain.OrderType
	for rows.Next() {
		var (
			t    domain.OrderType
			name sql.NullString
		)
		if err := rows.Scan(&t.ID, &name, &t.UUID); err != nil {
			return nil, fmt.Errorf("failed to scan order type: %w", err)
		}
		t.Name = name.String
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate order types: %w", err)
	}
	return out, nil
}
