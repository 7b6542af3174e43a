package upgrade

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openmrs/openmrs-core-sub027/internal/domain"
	"github.com/openmrs/openmrs-core-sub027/internal/errors"
	"github.com/openmrs/openmrs-core-sub027/internal/repository"
)

// FormatStrength renders v in its shortest decimal form with at least one
// fractional digit: 1 -> "1.0", 325 -> "325.0", 0.25 -> "0.25".
func FormatStrength(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// DerivedFieldSynthesizer computes drug strength text and materialises the
// implicit order state transitions of the legacy schema.
type DerivedFieldSynthesizer struct {
	settings Settings
	logger   *zap.Logger
}

func NewDerivedFieldSynthesizer(settings Settings, logger *zap.Logger) *DerivedFieldSynthesizer {
	return &DerivedFieldSynthesizer{settings: settings, logger: logger}
}

// CheckStrengthUnitsNotNull rejects drugs with a strength but no units.
func (s *DerivedFieldSynthesizer) CheckStrengthUnitsNotNull(ctx context.Context, q repository.Querier, d repository.Dialect) error {
	ids, err := repository.NewDrugsRepository(q, d).ListStrengthWithNullUnits(ctx)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		return errors.Wrapf(errors.ErrDataInconsistency,
			"drug(s) %s have a dose strength but null units", joinIDs(ids))
	}
	return nil
}

// CheckStrengthUnitsNotBlank rejects drugs with a strength and blank units.
func (s *DerivedFieldSynthesizer) CheckStrengthUnitsNotBlank(ctx context.Context, q repository.Querier, d repository.Dialect) error {
	ids, err := repository.NewDrugsRepository(q, d).ListStrengthWithBlankUnits(ctx)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		return errors.Wrapf(errors.ErrDataInconsistency,
			"drug(s) %s have a dose strength but blank units", joinIDs(ids))
	}
	return nil
}

// SynthesizeStrength writes drug.strength = FormatStrength(dose_strength) +
// units, and NULL where dose_strength is NULL. Both unit checks run first.
func (s *DerivedFieldSynthesizer) SynthesizeStrength(ctx context.Context, q repository.Querier, d repository.Dialect) (int64, error) {
	if err := s.CheckStrengthUnitsNotNull(ctx, q, d); err != nil {
		return 0, err
	}
	if err := s.CheckStrengthUnitsNotBlank(ctx, q, d); err != nil {
		return 0, err
	}

	drugs := repository.NewDrugsRepository(q, d)
	list, err := drugs.ListWithStrength(ctx)
	if err != nil {
		return 0, err
	}
	for _, drug := range list {
		if err := drugs.SetStrength(ctx, drug.DrugID, FormatStrength(*drug.DoseStrength)+*drug.Units); err != nil {
			return 0, err
		}
	}
	cleared, err := drugs.ClearStrengthWithoutDose(ctx)
	if err != nil {
		return 0, err
	}

	s.logger.Info("Synthesized drug strength",
		zap.Int("drugs", len(list)),
		zap.Int64("cleared", cleared),
	)
	return int64(len(list)), nil
}

// BackfillOrderActions marks every pre-existing order as NEW and activated at
// its start date.
func (s *DerivedFieldSynthesizer) BackfillOrderActions(ctx context.Context, q repository.Querier, d repository.Dialect) (int64, error) {
	orders := repository.NewOrdersRepository(q, d)
	n, err := orders.BackfillOrderActions(ctx)
	if err != nil {
		return 0, err
	}
	if _, err := orders.BackfillDateActivated(ctx); err != nil {
		return 0, err
	}
	s.logger.Info("Backfilled order actions", zap.Int64("orders", n))
	return n, nil
}

// SynthesizeDiscontinuations creates one DISCONTINUE order per discontinued
// order lacking one, then checks that the DISCONTINUE orders match the
// discontinued orders one to one and are complete.
func (s *DerivedFieldSynthesizer) SynthesizeDiscontinuations(ctx context.Context, q repository.Querier, d repository.Dialect) (int64, error) {
	orders := repository.NewOrdersRepository(q, d)
	providers := repository.NewProvidersRepository(q, d)

	// 1. 迁移前计数
	expected, err := orders.CountDiscontinued(ctx)
	if err != nil {
		return 0, err
	}

	noCause, err := s.noCauseConcept(ctx, q, d)
	if err != nil {
		return 0, err
	}

	pending, err := orders.ListDiscontinuedWithoutStop(ctx)
	if err != nil {
		return 0, err
	}

	// 2. 生成 DISCONTINUE 订单
	var created int64
	for _, o := range pending {
		orderer := o.Orderer
		if o.DiscontinuedBy != nil {
			p, err := providers.FindForUser(ctx, *o.DiscontinuedBy)
			if err != nil {
				return created, err
			}
			if p != nil {
				orderer = &p.ID
			}
		}
		if orderer == nil {
			return created, errors.Wrapf(errors.ErrDataInconsistency,
				"discontinued order_id=%d has no orderer and no provider for discontinued_by", o.OrderID)
		}
		stop := domain.DiscontinuationOrder{
			PreviousOrderID: o.OrderID,
			Orderer:         *orderer,
			NoCauseReason:   noCause,
			UUID:            uuid.NewString(),
		}
		if _, err := orders.InsertDiscontinuation(ctx, stop); err != nil {
			return created, err
		}
		created++
	}

	if _, err := orders.MarkStopped(ctx); err != nil {
		return created, err
	}

	// 3. 后置条件校验
	stats, err := orders.DiscontinuationStats(ctx)
	if err != nil {
		return created, err
	}
	if stats.Total != expected {
		return created, errors.Wrapf(errors.ErrDataInconsistency,
			"expected %d discontinue orders, found %d", expected, stats.Total)
	}
	if stats.Incomplete > 0 {
		return created, errors.Wrapf(errors.ErrDataInconsistency,
			"%d discontinue order(s) lack auto_expire_date, date_activated, orderer, encounter_id or previous_order_id",
			stats.Incomplete)
	}

	s.logger.Info("Synthesized discontinue orders",
		zap.Int("discontinued", expected),
		zap.Int64("created", created),
	)
	return created, nil
}

// noCauseConcept returns the concept id stored under NoCauseKey, or nil when
// the property is unset.
func (s *DerivedFieldSynthesizer) noCauseConcept(ctx context.Context, q repository.Querier, d repository.Dialect) (*int64, error) {
	value, err := repository.NewGlobalPropertiesRepository(q, d).Get(ctx, s.settings.NoCauseKey)
	if err != nil {
		return nil, err
	}
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(strings.TrimSpace(*value), 10, 64)
	if err != nil {
		return nil, errors.WithKind(errors.ErrDataInconsistency,
			errors.Wrapf(err, "global property %s", s.settings.NoCauseKey))
	}
	return &id, nil
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ", ")
}
