package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openmrs/openmrs-core-sub027/internal/domain"
)

// ProvidersRepository provider 表访问
type ProvidersRepository interface {
	GetByUUID(ctx context.Context, uuid string) (*domain.ProviderAccount, error)
	// FindForUser resolves the provider whose person is the user's person.
	FindForUser(ctx context.Context, userID int64) (*domain.ProviderAccount, error)
	Create(ctx context.Context, p *domain.ProviderAccount) (int64, error)
}

type SQLProvidersRepository struct {
	base
}

func NewProvidersRepository(q Querier, d Dialect) *SQLProvidersRepository {
	return &SQLProvidersRepository{base{q: q, d: d}}
}

var _ ProvidersRepository = (*SQLProvidersRepository)(nil)

// GetByUUID returns nil, nil when no provider carries the uuid.
func (r *SQLProvidersRepository) GetByUUID(ctx context.Context, uuid string) (*domain.ProviderAccount, error) {
	p, err := r.scanOne(ctx, `
		SELECT provider_id, person_id, name, uuid, retired
		FROM provider
		WHERE uuid = ?
	`, uuid)
	if err != nil {
		return nil, fmt.Errorf("failed to get provider uuid=%s: %w", uuid, err)
	}
	return p, nil
}

// FindForUser prefers non-retired providers, then the lowest id. Returns nil,
// nil when the user does not exist or its person has no provider account.
func (r *SQLProvidersRepository) FindForUser(ctx context.Context, userID int64) (*domain.ProviderAccount, error) {
	p, err := r.scanOne(ctx, `
		SELECT p.provider_id, p.person_id, p.name, p.uuid, p.retired
		FROM provider p
		JOIN users u ON u.person_id = p.person_id
		WHERE u.user_id = ?
		ORDER BY p.retired, p.provider_id
		LIMIT 1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find provider for user_id=%d: %w", userID, err)
	}
	return p, nil
}

// Create 创建provider，返回provider_id
func (r *SQLProvidersRepository) Create(ctx context.Context, p *domain.ProviderAccount) (int64, error) {
	if p == nil || p.UUID == "" {
		return 0, fmt.Errorf("provider uuid is required")
	}
	var id int64
	err := r.queryRow(ctx, `
		INSERT INTO provider (person_id, name, retired, uuid)
		VALUES (?, ?, ?, ?)
		RETURNING provider_id
	`, p.PersonID, p.Name, p.Retired, p.UUID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create provider: %w", err)
	}
	p.ID = id
	return id, nil
}

func (r *SQLProvidersRepository) scanOne(ctx context.Context, query string, args ...any) (*domain.ProviderAccount, error) {
	var (
		p        domain.ProviderAccount
		personID sql.NullInt64
		name     sql.NullString
	)
	err := r.queryRow(ctx, query, args...).Scan(&p.ID, &personID, &name, &p.UUID, &p.Retired)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.PersonID = nullInt64Ptr(personID)
	p.Name = name.String
	return &p, nil
}
