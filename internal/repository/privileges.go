package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/openmrs/openmrs-core-sub027/internal/domain"
)

// PrivilegesRepository privilege / role_privilege 表访问
type PrivilegesRepository interface {
	Exists(ctx context.Context, privilege string) (bool, error)
	Create(ctx context.Context, p domain.Privilege) error
	RolesHoldingAny(ctx context.Context, privileges []string) ([]string, error)
	HasGrant(ctx context.Context, role, privilege string) (bool, error)
	Grant(ctx context.Context, g domain.RolePrivilege) error
}

type SQLPrivilegesRepository struct {
	base
}

func NewPrivilegesRepository(q Querier, d Dialect) *SQLPrivilegesRepository {
	return &SQLPrivilegesRepository{base{q: q, d: d}}
}

var _ PrivilegesRepository = (*SQLPrivilegesRepository)(nil)

func (r *SQLPrivilegesRepository) Exists(ctx context.Context, privilege string) (bool, error) {
	var n int
	if err := r.queryRow(ctx, `SELECT COUNT(*) FROM privilege WHERE privilege = ?`, privilege).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check privilege %s: %w", privilege, err)
	}
	return n > 0, nil
}

func (r *SQLPrivilegesRepository) Create(ctx context.Context, p domain.Privilege) error {
	_, err := r.exec(ctx, `
		INSERT INTO privilege (privilege, description, uuid)
		VALUES (?, ?, ?)
	`, p.Name, p.Description, p.UUID)
	if err != nil {
		return fmt.Errorf("failed to create privilege %s: %w", p.Name, err)
	}
	return nil
}

// RolesHoldingAny lists roles granted at least one of the privileges.
func (r *SQLPrivilegesRepository) RolesHoldingAny(ctx context.Context, privileges []string) ([]string, error) {
	if len(privileges) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(privileges)), ",")
	args := make([]any, len(privileges))
	for i, p := range privileges {
		args[i] = p
	}
	roles, err := r.queryStrings(ctx, `
		SELECT DISTINCT role FROM role_privilege
		WHERE privilege IN (`+placeholders+`)
		ORDER BY role
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles holding %v: %w", privileges, err)
	}
	return roles, nil
}

func (r *SQLPrivilegesRepository) HasGrant(ctx context.Context, role, privilege string) (bool, error) {
	var n int
	err := r.queryRow(ctx, `
		SELECT COUNT(*) FROM role_privilege WHERE role = ? AND privilege = ?
	`, role, privilege).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check grant %s/%s: %w", role, privilege, err)
	}
	return n > 0, nil
}

func (r *SQLPrivilegesRepository) Grant(ctx context.Context, g domain.RolePrivilege) error {
	if _, err := r.exec(ctx, `INSERT INTO role_privilege (role, privilege) VALUES (?, ?)`, g.Role, g.Privilege); err != nil {
		return fmt.Errorf("failed to grant %s to %s: %w", g.Privilege, g.Role, err)
	}
	return nil
}
