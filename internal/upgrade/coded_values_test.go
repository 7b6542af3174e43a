package upgrade_test

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openmrs/openmrs-core-sub027/internal/changelog"
	"github.com/openmrs/openmrs-core-sub027/internal/domain"
	"github.com/openmrs/openmrs-core-sub027/internal/errors"
	"github.com/openmrs/openmrs-core-sub027/internal/upgrade"
)

const codedValuesChangeset = "order-entry-upgrade-11-migrate-coded-values"

func TestResolve_UsedLabelsOnly(t *testing.T) {
	h := newHarness(t, validSettings, standardDataset)
	resolver := upgrade.NewMappingResolver(h.Settings(), zap.NewNop())

	freq, err := resolver.Resolve(context.Background(), h.DB(), h.Dialect(), upgrade.FrequencyColumn)
	require.NoError(t, err)
	assert.Equal(t, domain.Mapping{
		"1/day x 7 days/week": 1,
		"2/day x 7 days/week": 2,
		"qd":                  1,
	}, freq)

	units, err := resolver.Resolve(context.Background(), h.DB(), h.Dialect(), upgrade.DoseUnitsColumn)
	require.NoError(t, err)
	assert.Equal(t, domain.Mapping{"mg": 4, "tab(s)": 3}, units)
}

func TestCodedValues_SharedLabelsShareOneFrequency(t *testing.T) {
	h := newHarness(t, validSettings, standardDataset)
	require.NoError(t, h.RunMigration("order-entry-schema", "order-entry-coded-values"))

	rows, err := h.Query("drug_order", "", "order_id", "frequency_id", "dose_units")
	require.NoError(t, err)
	require.Len(t, rows, 5)
	byOrder := map[string]int{}
	for i, r := range rows {
		byOrder[r.String("order_id")] = i
	}

	once := rows[byOrder["1"]].String("frequency_id")
	require.NotEmpty(t, once)
	assert.Equal(t, once, rows[byOrder["2"]].String("frequency_id"))
	assert.Equal(t, once, rows[byOrder["6"]].String("frequency_id"), "labels mapped to the same concept share a frequency")
	assert.NotEqual(t, once, rows[byOrder["4"]].String("frequency_id"))
	assert.True(t, rows[byOrder["5"]].IsNull("frequency_id"), "blank label stays NULL")

	assert.Equal(t, "3", rows[byOrder["1"]].String("dose_units"))
	assert.Equal(t, "4", rows[byOrder["2"]].String("dose_units"))
	assert.Equal(t, "4", rows[byOrder["4"]].String("dose_units"))
	assert.True(t, rows[byOrder["5"]].IsNull("dose_units"))
	assert.Equal(t, "3", rows[byOrder["6"]].String("dose_units"))

	assert.Equal(t, 2, count(t, h, "order_frequency", ""))
	for _, concept := range []int{1, 2} {
		assert.Equal(t, 1, count(t, h, "order_frequency", "concept_id = ?", concept),
			"concept %d must have exactly one frequency", concept)
	}
	_, err = h.Query("drug_order", "", "units")
	assert.Error(t, err, "legacy units column is dropped")

	res := h.LastResult()
	assert.Equal(t, int64(2), res.Counters["order_frequency.created"])
	assert.Equal(t, int64(4), res.Counters["drug_order.frequency_coded"])
	assert.Equal(t, int64(4), res.Counters["drug_order.dose_units_coded"])
}

func TestCodedValues_MissingLabelChangesNothing(t *testing.T) {
	h := newHarness(t, "settings_missing_label.txt", standardDataset)

	err := h.RunMigration()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMappingMissing))
	assert.Contains(t, err.Error(), "'2/day x 7 days/week'")
	assert.Contains(t, err.Error(), "migration run failed: changeset "+codedValuesChangeset+" failed: ")

	var stepErr *changelog.StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, codedValuesChangeset, stepErr.ChangesetID)

	assert.Zero(t, count(t, h, "drug_order", "frequency_id IS NOT NULL OR dose_units IS NOT NULL"))
	assert.Zero(t, count(t, h, "order_frequency", ""))
	units := queryColumn(t, h, "drug_order", "order_id = 1", "units")
	require.Len(t, units, 1)
	assert.Equal(t, "tab(s)", *units[0], "legacy values are kept")

	// steps before the failure stay committed
	strength := queryColumn(t, h, "drug", "drug_id = 1", "strength")
	require.Len(t, strength, 1)
	require.NotNil(t, strength[0])
	assert.Equal(t, "1.0tab(s)", *strength[0])
	assert.Zero(t, count(t, h, "upgrade_changelog", "id = ?", codedValuesChangeset))
}

func TestCodedValues_MalformedValue(t *testing.T) {
	h := newHarness(t, "settings_malformed_value.txt", standardDataset)

	err := h.RunMigration("order-entry-schema", "order-entry-coded-values")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMappingMalformed))
	assert.Contains(t, err.Error(), `strconv.Atoi: parsing "four": invalid syntax`)

	var numErr *strconv.NumError
	require.True(t, errors.As(err, &numErr))
	assert.Equal(t, "four", numErr.Num)

	assert.Zero(t, count(t, h, "drug_order", "frequency_id IS NOT NULL OR dose_units IS NOT NULL"))
}

func TestCodedValues_MissingSettingsFile(t *testing.T) {
	h := newHarness(t, "", standardDataset)

	err := h.RunMigration("order-entry-schema", "order-entry-coded-values")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMappingMissing))
	assert.Contains(t, err.Error(), "does not exist")
}

func TestCodedValues_NoLabelsNeedNoSettings(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.RunMigration("order-entry-schema", "order-entry-coded-values"))
	assert.Zero(t, count(t, h, "order_frequency", ""))
}

func TestCodedValues_IntegrityViolationRollsBackStep(t *testing.T) {
	h := newHarness(t, "settings_unknown_concept.txt", standardDataset)

	err := h.RunMigration("order-entry-schema", "order-entry-coded-values")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrIntegrityViolation))
	assert.Contains(t, err.Error(), codedValuesChangeset)

	assert.Zero(t, count(t, h, "order_frequency", ""), "frequency created before the failure is rolled back")
	assert.Zero(t, count(t, h, "drug_order", "frequency_id IS NOT NULL OR dose_units IS NOT NULL"))
}
