package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/openmrs/openmrs-core-sub027/internal/domain"
)

// DrugsRepository drug 表访问（剂量强度）
type DrugsRepository interface {
	ListStrengthWithNullUnits(ctx context.Context) ([]int64, error)
	ListStrengthWithBlankUnits(ctx context.Context) ([]int64, error)
	ListWithStrength(ctx context.Context) ([]domain.Drug, error)
	SetStrength(ctx context.Context, drugID int64, strength string) error
	ClearStrengthWithoutDose(ctx context.Context) (int64, error)
}

type SQLDrugsRepository struct {
	base
}

func NewDrugsRepository(q Querier, d Dialect) *SQLDrugsRepository {
	return &SQLDrugsRepository{base{q: q, d: d}}
}

var _ DrugsRepository = (*SQLDrugsRepository)(nil)

func (r *SQLDrugsRepository) ListStrengthWithNullUnits(ctx context.Context) ([]int64, error) {
	ids, err := r.queryInt64s(ctx, `
		SELECT drug_id FROM drug
		WHERE dose_strength IS NOT NULL AND units IS NULL
		ORDER BY drug_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list drugs with null units: %w", err)
	}
	return ids, nil
}

func (r *SQLDrugsRepository) ListStrengthWithBlankUnits(ctx context.Context) ([]int64, error) {
	ids, err := r.queryInt64s(ctx, `
		SELECT drug_id FROM drug
		WHERE dose_strength IS NOT NULL AND units IS NOT NULL AND TRIM(units) = ''
		ORDER BY drug_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list drugs with blank units: %w", err)
	}
	return ids, nil
}

// ListWithStrength returns every drug carrying a numeric dose strength.
func (r *SQLDrugsRepository) ListWithStrength(ctx context.Context) ([]domain.Drug, error) {
	rows, err := r.q.QueryContext(ctx, r.d.Rebind(`
		SELECT drug_id, dose_strength, units
		FROM drug
		WHERE dose_strength IS NOT NULL
		ORDER BY drug_id
	`))
	if err != nil {
		return nil, fmt.Errorf("failed to list drugs: %w", err)
	}
	defer rows.Close()

	var out []domain.Drug
	for rows.Next() {
		var (
			d        domain.Drug
			strength sql.NullFloat64
			units    sql.NullString
		)
		if err := rows.Scan(&d.DrugID, &strength, &units); err != nil {
			return nil, fmt.Errorf("failed to scan drug: %w", err)
		}
		if strength.Valid {
			v := strength.Float64
			d.DoseStrength = &v
		}
		d.Units = nullStringPtr(units)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate drugs: %w", err)
	}
	return out, nil
}

func (r *SQLDrugsRepository) SetStrength(ctx context.Context, drugID int64, strength string) error {
	if _, err := r.exec(ctx, `UPDATE drug SET strength = ? WHERE drug_id = ?`, strength, drugID); err != nil {
		return fmt.Errorf("failed to set strength for drug_id=%d: %w", drugID, err)
	}
	return nil
}

// ClearStrengthWithoutDose nulls strength wherever dose_strength is NULL.
func (r *SQLDrugsRepository) ClearStrengthWithoutDose(ctx context.Context) (int64, error) {
	n, err := r.exec(ctx, `UPDATE drug SET strength = NULL WHERE dose_strength IS NULL AND strength IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear strength: %w", err)
	}
	return n, nil
}
