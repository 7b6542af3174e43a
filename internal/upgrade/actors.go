package upgrade

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openmrs/openmrs-core-sub027/internal/domain"
	"github.com/openmrs/openmrs-core-sub027/internal/errors"
	"github.com/openmrs/openmrs-core-sub027/internal/repository"
)

const legacyOrdererColumn = "legacy_orderer"

// ActorStats reports what an actor migration wrote.
type ActorStats struct {
	OrdersRewritten  int64
	FallbackAssigned int64
	FallbackCreated  bool
}

// ActorMigrator rewrites orders.orderer from user ids to provider ids. The
// legacy user id lives in orders.legacy_orderer until a later changeset
// drops it.
type ActorMigrator struct {
	settings Settings
	logger   *zap.Logger
}

func NewActorMigrator(settings Settings, logger *zap.Logger) *ActorMigrator {
	return &ActorMigrator{settings: settings, logger: logger}
}

// Migrate fails with ErrDataInconsistency before any write when a legacy
// orderer has no provider account. Orders that never had an orderer get
// the fallback provider.
func (m *ActorMigrator) Migrate(ctx context.Context, q repository.Querier, d repository.Dialect) (ActorStats, error) {
	var stats ActorStats

	present, err := repository.NewSchemaRepository(q, d).HasColumn(ctx, "orders", legacyOrdererColumn)
	if err != nil {
		return stats, err
	}
	if !present {
		m.logger.Info("Legacy orderer column already removed, skipping actor migration")
		return stats, nil
	}

	orders := repository.NewOrdersRepository(q, d)
	providers := repository.NewProvidersRepository(q, d)

	// 1. user -> person -> provider
	users, err := orders.ListUncodedOrdererUsers(ctx)
	if err != nil {
		return stats, err
	}
	resolved := make(map[int64]int64, len(users))
	var unresolved []int64
	for _, userID := range users {
		p, err := providers.FindForUser(ctx, userID)
		if err != nil {
			return stats, err
		}
		if p == nil {
			unresolved = append(unresolved, userID)
			continue
		}
		resolved[userID] = p.ID
	}
	if len(unresolved) > 0 {
		return stats, errors.Wrapf(errors.ErrDataInconsistency,
			"no provider account for orderer user_id(s) %s", joinIDs(unresolved))
	}

	// 2. 改写 orderer
	for _, userID := range users {
		n, err := orders.AssignOrderer(ctx, userID, resolved[userID])
		if err != nil {
			return stats, err
		}
		stats.OrdersRewritten += n
	}

	// 3. 没有 orderer 的订单使用后备 provider
	missing, err := orders.CountWithoutOrderer(ctx)
	if err != nil {
		return stats, err
	}
	if missing > 0 {
		fallback, created, err := m.fallbackProvider(ctx, q, d)
		if err != nil {
			return stats, err
		}
		stats.FallbackCreated = created
		n, err := orders.AssignFallbackOrderer(ctx, fallback)
		if err != nil {
			return stats, err
		}
		stats.FallbackAssigned = n
	}

	m.logger.Info("Migrated orderers to providers",
		zap.Int("users", len(users)),
		zap.Int64("orders_rewritten", stats.OrdersRewritten),
		zap.Int64("fallback_assigned", stats.FallbackAssigned),
		zap.Bool("fallback_created", stats.FallbackCreated),
	)
	return stats, nil
}

// fallbackProvider returns the provider named by the UnknownProviderKey
// global property, creating it and recording its uuid when the property is
// unset or points nowhere. Providers are never matched by name.
func (m *ActorMigrator) fallbackProvider(ctx context.Context, q repository.Querier, d repository.Dialect) (int64, bool, error) {
	props := repository.NewGlobalPropertiesRepository(q, d)
	providers := repository.NewProvidersRepository(q, d)

	value, err := props.Get(ctx, m.settings.UnknownProviderKey)
	if err != nil {
		return 0, false, err
	}
	if value != nil && strings.TrimSpace(*value) != "" {
		p, err := providers.GetByUUID(ctx, strings.TrimSpace(*value))
		if err != nil {
			return 0, false, err
		}
		if p != nil {
			return p.ID, false, nil
		}
		m.logger.Warn("Unknown provider property points to a missing provider, creating a new one",
			zap.String("property", m.settings.UnknownProviderKey),
			zap.String("uuid", *value),
		)
	}

	p := &domain.ProviderAccount{Name: domain.UnknownProviderName, UUID: uuid.NewString()}
	id, err := providers.Create(ctx, p)
	if err != nil {
		return 0, false, err
	}
	if err := props.Set(ctx, m.settings.UnknownProviderKey, p.UUID, uuid.NewString()); err != nil {
		return 0, false, err
	}
	return id, true, nil
}
