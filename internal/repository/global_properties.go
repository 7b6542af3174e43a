package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GlobalPropertiesRepository reads and writes global_property rows.
type GlobalPropertiesRepository interface {
	Get(ctx context.Context, property string) (*string, error)
	Set(ctx context.Context, property, value, uuid string) error
}

type SQLGlobalPropertiesRepository struct {
	base
}

func NewGlobalPropertiesRepository(q Querier, d Dialect) *SQLGlobalPropertiesRepository {
	return &SQLGlobalPropertiesRepository{base{q: q, d: d}}
}

var _ GlobalPropertiesRepository = (*SQLGlobalPropertiesRepository)(nil)

// Get returns nil when the property is absent or its value is NULL.
func (r *SQLGlobalPropertiesRepository) Get(ctx context.Context, property string) (*string, error) {
	var v sql.NullString
	err := r.queryRow(ctx, `SELECT property_value FROM global_property WHERE property = ?`, property).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get global property %s: %w", property, err)
	}
	return nullStringPtr(v), nil
}

// Set upserts the property. uuid is only used when the row is created.
func (r *SQLGlobalPropertiesRepository) Set(ctx context.Context, property, value, uuid string) error {
	_, err := r.exec(ctx, `
		INSERT INTO global_property (property, property_value, uuid)
		VALUES (?, ?, ?)
		ON CONFLICT (property) DO UPDATE SET property_value = excluded.property_value
	`, property, value, uuid)
	if err != nil {
		return fmt.Errorf("failed to set global property %s: %w", property, err)
	}
	return nil
}
