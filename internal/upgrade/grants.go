package upgrade

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openmrs/openmrs-core-sub027/internal/domain"
	"github.com/openmrs/openmrs-core-sub027/internal/repository"
)

// Implication grants Privilege to every role already holding one of
// ImpliedBy.
type Implication struct {
	Privilege domain.Privilege
	ImpliedBy []string
}

// DefaultImplications is the privilege inference table of the order entry
// upgrade.
var DefaultImplications = []Implication{
	{
		Privilege: domain.Privilege{Name: "Get Visits", Description: "Able to get visits"},
		ImpliedBy: []string{"Edit Encounters"},
	},
	{
		Privilege: domain.Privilege{Name: "Get Providers", Description: "Able to get Provider"},
		ImpliedBy: []string{"Edit Encounters"},
	},
	{
		Privilege: domain.Privilege{Name: "Add Visits", Description: "Able to add visits"},
		ImpliedBy: []string{"Edit Encounters", "Add Encounters"},
	},
}

// AccessGrantBackfiller introduces new privileges and grants them to roles
// holding a related one. It only ever inserts.
type AccessGrantBackfiller struct {
	implications []Implication
	logger       *zap.Logger
}

func NewAccessGrantBackfiller(implications []Implication, logger *zap.Logger) *AccessGrantBackfiller {
	return &AccessGrantBackfiller{implications: implications, logger: logger}
}

// Backfill returns the number of grants inserted.
func (b *AccessGrantBackfiller) Backfill(ctx context.Context, q repository.Querier, d repository.Dialect) (int64, error) {
	privs := repository.NewPrivilegesRepository(q, d)

	// 1. 新权限
	for _, imp := range b.implications {
		exists, err := privs.Exists(ctx, imp.Privilege.Name)
		if err != nil {
			return 0, err
		}
		if exists {
			continue
		}
		p := imp.Privilege
		p.UUID = uuid.NewString()
		if err := privs.Create(ctx, p); err != nil {
			return 0, err
		}
		b.logger.Debug("Created privilege", zap.String("privilege", p.Name))
	}

	// 2. 按推断表授权
	var granted int64
	for _, imp := range b.implications {
		roles, err := privs.RolesHoldingAny(ctx, imp.ImpliedBy)
		if err != nil {
			return granted, err
		}
		for _, role := range roles {
			has, err := privs.HasGrant(ctx, role, imp.Privilege.Name)
			if err != nil {
				return granted, err
			}
			if has {
				continue
			}
			if err := privs.Grant(ctx, domain.RolePrivilege{Role: role, Privilege: imp.Privilege.Name}); err != nil {
				return granted, err
			}
			granted++
		}
	}

	b.logger.Info("Backfilled role privileges", zap.Int64("grants", granted))
	return granted, nil
}
