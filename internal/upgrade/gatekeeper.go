package upgrade

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/openmrs/openmrs-core-sub027/internal/domain"
	"github.com/openmrs/openmrs-core-sub027/internal/errors"
	"github.com/openmrs/openmrs-core-sub027/internal/repository"
)

// Columns a later schema needs before order types other than drug orders
// can be carried forward.
var orderTypeCompatColumns = []string{"java_class_name", "parent"}

// Gatekeeper validates structural preconditions. It never writes.
type Gatekeeper struct {
	logger *zap.Logger
}

func NewGatekeeper(logger *zap.Logger) *Gatekeeper {
	return &Gatekeeper{logger: logger}
}

// CheckOrderTypeCompatibility fails with ErrDataInconsistency when an order
// type is not a drug order type and order_type lacks the class-name or
// parent column. With both columns present it passes.
func (g *Gatekeeper) CheckOrderTypeCompatibility(ctx context.Context, q repository.Querier, d repository.Dialect) error {
	types, err := repository.NewOrderTypesRepository(q, d).List(ctx)
	if err != nil {
		return err
	}

	var unknown []string
	for _, t := range types {
		if t.Kind() != domain.OrderKindDrug {
			unknown = append(unknown, fmt.Sprintf("%s (id=%d)", t.Name, t.ID))
		}
	}
	if len(unknown) == 0 {
		return nil
	}

	schema := repository.NewSchemaRepository(q, d)
	var absent []string
	for _, col := range orderTypeCompatColumns {
		ok, err := schema.HasColumn(ctx, "order_type", col)
		if err != nil {
			return err
		}
		if !ok {
			absent = append(absent, "order_type."+col)
		}
	}
	if len(absent) > 0 {
		return errors.Wrapf(errors.ErrDataInconsistency,
			"order types %s cannot be migrated without %s",
			strings.Join(unknown, ", "), strings.Join(absent, " and "))
	}

	g.logger.Info("Non drug order types accepted, compatibility columns present",
		zap.Strings("order_types", unknown),
	)
	return nil
}
