package upgrade

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/openmrs/openmrs-core-sub027/internal/domain"
	"github.com/openmrs/openmrs-core-sub027/internal/errors"
	"github.com/openmrs/openmrs-core-sub027/internal/repository"
)

// GovernedColumn is a legacy free-text column whose values must be mapped to
// concept ids before it can be rewritten.
type GovernedColumn struct {
	Table  string
	Column string
}

func (c GovernedColumn) String() string { return c.Table + "." + c.Column }

var (
	DoseUnitsColumn = GovernedColumn{Table: "drug_order", Column: "units"}
	FrequencyColumn = GovernedColumn{Table: "drug_order", Column: "frequency"}
)

// MappingResolver builds the label -> concept id table of a governed column
// from the settings resource. It never writes.
type MappingResolver struct {
	settings Settings
	logger   *zap.Logger
}

func NewMappingResolver(settings Settings, logger *zap.Logger) *MappingResolver {
	return &MappingResolver{settings: settings, logger: logger}
}

// Resolve reads the labels in use and requires an integer entry for each of
// them. Every missing label is reported in a single ErrMappingMissing.
func (m *MappingResolver) Resolve(ctx context.Context, q repository.Querier, d repository.Dialect, col GovernedColumn) (domain.Mapping, error) {
	labels, err := repository.NewCodedColumnsRepository(q, d).DistinctLabels(ctx, col.Table, col.Column)
	if err != nil {
		return nil, err
	}
	mapping := domain.Mapping{}
	if len(labels) == 0 {
		return mapping, nil
	}

	entries, err := m.load()
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, label := range labels {
		id, ok := entries[label]
		if !ok {
			missing = append(missing, label)
			continue
		}
		mapping[label] = id
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, errors.Wrapf(errors.ErrMappingMissing,
			"no mapping for %s label(s) %s in %s", col, quoteAll(missing), m.settings.SettingsPath)
	}

	m.logger.Debug("Resolved legacy labels",
		zap.String("column", col.String()),
		zap.Int("labels", len(labels)),
	)
	return mapping, nil
}

// load parses the settings resource and converts every value. A single bad
// value fails the whole resource.
func (m *MappingResolver) load() (map[string]int, error) {
	f, err := os.Open(m.settings.SettingsPath)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(errors.ErrMappingMissing, "settings file %s does not exist", m.settings.SettingsPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open settings file: %w", err)
	}
	defer f.Close()

	raw, err := ParseSettings(f)
	if err != nil {
		return nil, errors.WithKind(errors.ErrMappingMalformed, errors.Wrap(err, m.settings.SettingsPath))
	}

	return mappingValues(raw, m.settings.SettingsPath)
}

// mappingValues converts every settings value to a concept id. The first
// non-integer value in key order fails the whole set with ErrMappingMalformed.
func mappingValues(raw map[string]string, source string) (map[string]int, error) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]int, len(raw))
	for _, k := range keys {
		id, err := strconv.Atoi(raw[k])
		if err != nil {
			return nil, errors.WithKind(errors.ErrMappingMalformed,
				errors.Wrapf(err, "value of '%s' in %s", k, source))
		}
		out[k] = id
	}
	return out, nil
}

func quoteAll(labels []string) string {
	quoted := make([]string, len(labels))
	for i, l := range labels {
		quoted[i] = "'" + l + "'"
	}
	return strings.Join(quoted, ", ")
}
