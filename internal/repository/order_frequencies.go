package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openmrs/openmrs-core-sub027/internal/domain"
)

// OrderFrequenciesRepository order_frequency 表访问
type OrderFrequenciesRepository interface {
	GetByConcept(ctx context.Context, conceptID int) (*domain.CodedFrequency, error)
	Create(ctx context.Context, conceptID int, uuid string) (int64, error)
	Count(ctx context.Context) (int, error)
}

type SQLOrderFrequenciesRepository struct {
	base
}

func NewOrderFrequenciesRepository(q Querier, d Dialect) *SQLOrderFrequenciesRepository {
	return &SQLOrderFrequenciesRepository{base{q: q, d: d}}
}

var _ OrderFrequenciesRepository = (*SQLOrderFrequenciesRepository)(nil)

// GetByConcept returns nil, nil when no frequency references the concept. The
// name is taken from the concept.
func (r *SQLOrderFrequenciesRepository) GetByConcept(ctx context.Context, conceptID int) (*domain.CodedFrequency, error) {
	var (
		f    domain.CodedFrequency
		name sql.NullString
	)
	err := r.queryRow(ctx, `
		SELECT f.order_frequency_id, f.concept_id, c.name, f.uuid
		FROM order_frequency f
		LEFT JOIN concept c ON c.concept_id = f.concept_id
		WHERE f.concept_id = ?
	`, conceptID).Scan(&f.ID, &f.ConceptID, &name, &f.UUID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order frequency concept_id=%d: %w", conceptID, err)
	}
	f.Name = name.String
	return &f, nil
}

func (r *SQLOrderFrequenciesRepository) Create(ctx context.Context, conceptID int, uuid string) (int64, error) {
	var id int64
	err := r.queryRow(ctx, `
		INSERT INTO order_frequency (concept_id, date_created, uuid)
		VALUES (?, CURRENT_TIMESTAMP, ?)
		RETURNING order_frequency_id
	`, conceptID, uuid).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create order frequency concept_id=%d: %w", conceptID, err)
	}
	return id, nil
}

func (r *SQLOrderFrequenciesRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.queryRow(ctx, `SELECT COUNT(*) FROM order_frequency`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count order frequencies: %w", err)
	}
	return n, nil
}
