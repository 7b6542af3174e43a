package upgrade

import (
	"context"

	"go.uber.org/zap"

	"github.com/openmrs/openmrs-core-sub027/internal/changelog"
)

// Rule names referenced by changesets in the changelog.
const (
	RuleOrderTypeCompatibility     = "order-type-compatibility"
	RuleStrengthUnitsNotNull       = "strength-units-not-null"
	RuleStrengthUnitsNotBlank      = "strength-units-not-blank"
	RuleSynthesizeStrength         = "synthesize-strength"
	RuleMigrateCodedValues         = "migrate-coded-values"
	RuleMigrateOrderers            = "migrate-orderers"
	RuleBackfillOrderActions       = "backfill-order-actions"
	RuleSynthesizeDiscontinuations = "synthesize-discontinuations"
	RuleBackfillAccessGrants       = "backfill-access-grants"
)

// Rules builds the rule registry handed to the changelog runner.
func Rules(settings Settings, logger *zap.Logger) changelog.Rules {
	gatekeeper := NewGatekeeper(logger.Named("gatekeeper"))
	derived := NewDerivedFieldSynthesizer(settings, logger.Named("derived"))
	coded := NewCodedValueMigrator(NewMappingResolver(settings, logger.Named("mapping")), logger.Named("coded"))
	actors := NewActorMigrator(settings, logger.Named("actors"))
	grants := NewAccessGrantBackfiller(DefaultImplications, logger.Named("grants"))

	return changelog.Rules{
		RuleOrderTypeCompatibility: func(ctx context.Context, s *changelog.Step) error {
			return gatekeeper.CheckOrderTypeCompatibility(ctx, s.Tx, s.Dialect)
		},
		RuleStrengthUnitsNotNull: func(ctx context.Context, s *changelog.Step) error {
			return derived.CheckStrengthUnitsNotNull(ctx, s.Tx, s.Dialect)
		},
		RuleStrengthUnitsNotBlank: func(ctx context.Context, s *changelog.Step) error {
			return derived.CheckStrengthUnitsNotBlank(ctx, s.Tx, s.Dialect)
		},
		RuleSynthesizeStrength: func(ctx context.Context, s *changelog.Step) error {
			n, err := derived.SynthesizeStrength(ctx, s.Tx, s.Dialect)
			s.Add("drug.strength_written", n)
			return err
		},
		RuleMigrateCodedValues: func(ctx context.Context, s *changelog.Step) error {
			stats, err := coded.Migrate(ctx, s.Tx, s.Dialect)
			s.Add("order_frequency.created", stats.FrequenciesCreated)
			s.Add("drug_order.frequency_coded", stats.FrequencyRows)
			s.Add("drug_order.dose_units_coded", stats.DoseUnitRows)
			return err
		},
		RuleMigrateOrderers: func(ctx context.Context, s *changelog.Step) error {
			stats, err := actors.Migrate(ctx, s.Tx, s.Dialect)
			s.Add("orders.orderer_rewritten", stats.OrdersRewritten)
			s.Add("orders.fallback_orderer", stats.FallbackAssigned)
			return err
		},
		RuleBackfillOrderActions: func(ctx context.Context, s *changelog.Step) error {
			n, err := derived.BackfillOrderActions(ctx, s.Tx, s.Dialect)
			s.Add("orders.action_backfilled", n)
			return err
		},
		RuleSynthesizeDiscontinuations: func(ctx context.Context, s *changelog.Step) error {
			n, err := derived.SynthesizeDiscontinuations(ctx, s.Tx, s.Dialect)
			s.Add("orders.discontinue_created", n)
			return err
		},
		RuleBackfillAccessGrants: func(ctx context.Context, s *changelog.Step) error {
			n, err := grants.Backfill(ctx, s.Tx, s.Dialect)
			s.Add("role_privilege.granted", n)
			return err
		},
	}
}
