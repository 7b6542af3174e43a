package upgrade_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openmrs/openmrs-core-sub027/internal/harness"
)

const (
	snapshot = "../harness/testdata/legacy_snapshot.sql"
	testdata = "../harness/testdata"

	standardDataset = "standard_dataset.yaml"
	validSettings   = "order_entry_upgrade_settings.txt"
)

func fixture(name string) string {
	return filepath.Join(testdata, name)
}

// newHarness builds a snapshot copy with the settings resource installed
// (when named) and the fixtures loaded in order.
func newHarness(t *testing.T, settingsFile string, fixtures ...string) *harness.Harness {
	t.Helper()
	var opts []harness.Option
	if settingsFile != "" {
		opts = append(opts, harness.WithSettingsFile(fixture(settingsFile)))
	}
	h := harness.New(t, snapshot, opts...)
	for _, f := range fixtures {
		require.NoError(t, h.LoadFixture(fixture(f)))
	}
	return h
}

// inlineFixture writes body to a temporary fixture file.
func inlineFixture(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func queryColumn(t *testing.T, h *harness.Harness, table, filter, column string) []*string {
	t.Helper()
	rows, err := h.Query(table, filter, column)
	require.NoError(t, err)
	out := make([]*string, len(rows))
	for i, r := range rows {
		out[i], _ = r.Get(column)
	}
	return out
}

func count(t *testing.T, h *harness.Harness, table, filter string, args ...any) int {
	t.Helper()
	n, err := h.Count(table, filter, args...)
	require.NoError(t, err)
	return n
}
