package upgrade

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openmrs/openmrs-core-sub027/internal/domain"
	"github.com/openmrs/openmrs-core-sub027/internal/repository"
)

// Coded replacements of the legacy drug_order text columns.
const (
	codedFrequencyColumn = "frequency_id"
	codedDoseUnitsColumn = "dose_units"
)

// CodedValueStats reports what a coded-value migration wrote.
type CodedValueStats struct {
	FrequenciesCreated int64
	FrequencyRows      int64
	DoseUnitRows       int64
}

// CodedValueMigrator rewrites drug_order.frequency and drug_order.units to
// coded references.
type CodedValueMigrator struct {
	resolver *MappingResolver
	logger   *zap.Logger
}

func NewCodedValueMigrator(resolver *MappingResolver, logger *zap.Logger) *CodedValueMigrator {
	return &CodedValueMigrator{resolver: resolver, logger: logger}
}

// Migrate resolves both mappings before the first write so a missing label
// leaves every row untouched. Rows already carrying a coded value are kept;
// blank labels stay NULL.
func (m *CodedValueMigrator) Migrate(ctx context.Context, q repository.Querier, d repository.Dialect) (CodedValueStats, error) {
	var stats CodedValueStats

	// 1. 旧列已删除则跳过
	present, err := repository.NewSchemaRepository(q, d).HasColumn(ctx, DoseUnitsColumn.Table, DoseUnitsColumn.Column)
	if err != nil {
		return stats, err
	}
	if !present {
		m.logger.Info("Legacy dose units column already removed, skipping coded value migration")
		return stats, nil
	}

	// 2. 映射校验（任何写入之前）
	units, err := m.resolver.Resolve(ctx, q, d, DoseUnitsColumn)
	if err != nil {
		return stats, err
	}
	frequencies, err := m.resolver.Resolve(ctx, q, d, FrequencyColumn)
	if err != nil {
		return stats, err
	}

	// 3. 每个概念一条 order_frequency
	freqRepo := repository.NewOrderFrequenciesRepository(q, d)
	conceptIDs := make([]int, 0, len(frequencies))
	seen := make(map[int]bool)
	for _, id := range frequencies {
		if !seen[id] {
			seen[id] = true
			conceptIDs = append(conceptIDs, id)
		}
	}
	sort.Ints(conceptIDs)

	frequencyIDs := make(map[int]int64, len(conceptIDs))
	for _, conceptID := range conceptIDs {
		existing, err := freqRepo.GetByConcept(ctx, conceptID)
		if err != nil {
			return stats, err
		}
		if existing != nil {
			frequencyIDs[conceptID] = existing.ID
			continue
		}
		id, err := freqRepo.Create(ctx, conceptID, uuid.NewString())
		if err != nil {
			return stats, err
		}
		frequencyIDs[conceptID] = id
		stats.FrequenciesCreated++
	}

	// 4. 改写编码列
	coded := repository.NewCodedColumnsRepository(q, d)
	for _, e := range sortedEntries(frequencies) {
		n, err := coded.RewriteLabel(ctx, FrequencyColumn.Table, FrequencyColumn.Column, codedFrequencyColumn,
			e.LegacyLabel, frequencyIDs[e.CodedID])
		if err != nil {
			return stats, err
		}
		stats.FrequencyRows += n
	}
	for _, e := range sortedEntries(units) {
		n, err := coded.RewriteLabel(ctx, DoseUnitsColumn.Table, DoseUnitsColumn.Column, codedDoseUnitsColumn,
			e.LegacyLabel, int64(e.CodedID))
		if err != nil {
			return stats, err
		}
		stats.DoseUnitRows += n
	}

	m.logger.Info("Migrated coded drug order values",
		zap.Int64("frequencies_created", stats.FrequenciesCreated),
		zap.Int64("frequency_rows", stats.FrequencyRows),
		zap.Int64("dose_unit_rows", stats.DoseUnitRows),
	)
	return stats, nil
}

func sortedEntries(m domain.Mapping) []domain.MappingEntry {
	out := m.Entries()
	sort.Slice(out, func(i, j int) bool { return out[i].LegacyLabel < out[j].LegacyLabel })
	return out
}
