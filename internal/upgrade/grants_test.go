package upgrade_test

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openmrs/openmrs-core-sub027/internal/harness"
	"github.com/openmrs/openmrs-core-sub027/internal/upgrade"
)

func grantsOf(t *testing.T, h *harness.Harness, role string) []string {
	t.Helper()
	rows, err := h.QueryArgs("role_privilege", "role = ?", []any{role}, "privilege")
	require.NoError(t, err)
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.String("privilege"))
	}
	sort.Strings(out)
	return out
}

func TestAccessGrants_Implied(t *testing.T) {
	h := newHarness(t, "", "role_privileges.yaml")
	require.NoError(t, h.RunMigration("order-entry-privileges"))

	assert.Equal(t, []string{"Add Visits", "Edit Encounters", "Get Encounters", "Get Providers", "Get Visits"},
		grantsOf(t, h, "Provider"))
	assert.Equal(t, []string{"Add Encounters", "Add Visits"}, grantsOf(t, h, "Clerk"))
	assert.Equal(t, []string{"View Patients"}, grantsOf(t, h, "Nurse"))
	assert.Empty(t, grantsOf(t, h, "Anonymous"))

	for _, imp := range upgrade.DefaultImplications {
		assert.Equal(t, 1, count(t, h, "privilege", "privilege = ? AND uuid IS NOT NULL", imp.Privilege.Name),
			"privilege %s", imp.Privilege.Name)
	}
	assert.Equal(t, int64(4), h.LastResult().Counters["role_privilege.granted"])
}

func TestAccessGrants_ExistingGrantsKept(t *testing.T) {
	h := newHarness(t, "", "role_privileges.yaml")
	require.NoError(t, h.LoadFixture(inlineFixture(t, `
privilege:
  - {privilege: "Get Visits", description: "Able to get visits", uuid: "p0000010-0000-0000-0000-000000000000"}
role_privilege:
  - {role: "Provider", privilege: "Get Visits"}
`)))

	b := upgrade.NewAccessGrantBackfiller(upgrade.DefaultImplications, zap.NewNop())
	n, err := b.Backfill(context.Background(), h.DB(), h.Dialect())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	uuid := queryColumn(t, h, "privilege", "privilege = 'Get Visits'", "uuid")
	require.Len(t, uuid, 1)
	assert.Equal(t, "p0000010-0000-0000-0000-000000000000", *uuid[0], "existing privilege untouched")

	n, err = b.Backfill(context.Background(), h.DB(), h.Dialect())
	require.NoError(t, err)
	assert.Zero(t, n)
}
