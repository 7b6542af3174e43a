package changelog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmrs/openmrs-core-sub027/internal/errors"
	"github.com/openmrs/openmrs-core-sub027/internal/repository"
)

const sampleChangelog = `
changelogs:
  - name: first
    changesets:
      - id: a-01
        author: tester
        sql:
          - CREATE TABLE a (id INTEGER PRIMARY KEY)
      - id: a-02
        author: tester
        rule: fill-a
  - name: second
    changesets:
      - id: b-01
        author: tester
        preconditions:
          - tableMissing: b
        onFail: mark-ran
        sqlite:
          - CREATE TABLE b (id INTEGER PRIMARY KEY)
        postgres:
          - CREATE TABLE b (id SERIAL PRIMARY KEY)
`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(sampleChangelog), "sample.yaml")
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "second"}, f.Names())
	assert.Equal(t, "sample.yaml", f.Changelogs[1].Filename)
	assert.Equal(t, OnFailHalt, f.Changelogs[0].Changesets[0].OnFail, "onFail defaults to halt")
	assert.Equal(t, OnFailMarkRan, f.Changelogs[1].Changesets[0].OnFail)
	assert.Equal(t, "tableMissing b", f.Changelogs[1].Changesets[0].Preconditions[0].String())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "not yaml",
			yaml: "changelogs: [",
			want: "failed to parse bad.yaml",
		},
		{
			name: "unnamed changelog",
			yaml: "changelogs:\n  - changesets: []\n",
			want: "changelog without name",
		},
		{
			name: "duplicate changelog",
			yaml: "changelogs:\n  - name: x\n  - name: x\n",
			want: "duplicate changelog x",
		},
		{
			name: "duplicate id",
			yaml: "changelogs:\n  - name: x\n    changesets:\n      - {id: c, rule: r}\n  - name: y\n    changesets:\n      - {id: c, rule: r}\n",
			want: "duplicate changeset id c",
		},
		{
			name: "sql and rule",
			yaml: "changelogs:\n  - name: x\n    changesets:\n      - {id: c, rule: r, sql: [SELECT 1]}\n",
			want: "needs exactly one of sql or rule",
		},
		{
			name: "neither sql nor rule",
			yaml: "changelogs:\n  - name: x\n    changesets:\n      - {id: c}\n",
			want: "needs exactly one of sql or rule",
		},
		{
			name: "mixed sql",
			yaml: "changelogs:\n  - name: x\n    changesets:\n      - {id: c, sql: [SELECT 1], sqlite: [SELECT 1], postgres: [SELECT 1]}\n",
			want: "mixes sql with dialect specific sql",
		},
		{
			name: "one dialect only",
			yaml: "changelogs:\n  - name: x\n    changesets:\n      - {id: c, sqlite: [SELECT 1]}\n",
			want: "needs both sqlite and postgres sql",
		},
		{
			name: "unknown onFail",
			yaml: "changelogs:\n  - name: x\n    changesets:\n      - {id: c, rule: r, onFail: ignore}\n",
			want: `unknown onFail "ignore"`,
		},
		{
			name: "bad precondition",
			yaml: "changelogs:\n  - name: x\n    changesets:\n      - {id: c, rule: r, preconditions: [{columnExists: orders}]}\n",
			want: "want table.column",
		},
		{
			name: "two checks in one precondition",
			yaml: "changelogs:\n  - name: x\n    changesets:\n      - {id: c, rule: r, preconditions: [{tableExists: a, tableMissing: b}]}\n",
			want: "exactly one check",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), "bad.yaml")
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidChangelog))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upgrade.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleChangelog), 0o600))

	f, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "upgrade.yaml", f.Filename)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSelect(t *testing.T) {
	f, err := Parse([]byte(sampleChangelog), "sample.yaml")
	require.NoError(t, err)

	all, err := f.Select()
	require.NoError(t, err)
	assert.Equal(t, "sample", all.Name)
	assert.Len(t, all.Changesets, 3)

	// file order wins over argument order
	both, err := f.Select("second", "first")
	require.NoError(t, err)
	require.Len(t, both.Changesets, 3)
	assert.Equal(t, "a-01", both.Changesets[0].ID)
	assert.Equal(t, "b-01", both.Changesets[2].ID)

	second, err := f.Select("second")
	require.NoError(t, err)
	require.Len(t, second.Changesets, 1)
	assert.Equal(t, "sample.yaml", second.Filename)

	_, err = f.Select("first", "third")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.Contains(t, err.Error(), "changelog third in sample.yaml")
}

func TestStatementsAndChecksum(t *testing.T) {
	f, err := Parse([]byte(sampleChangelog), "sample.yaml")
	require.NoError(t, err)
	portable := f.Changelogs[0].Changesets[0]
	rule := f.Changelogs[0].Changesets[1]
	dialectSpecific := f.Changelogs[1].Changesets[0]

	assert.Equal(t, portable.SQL, portable.Statements(repository.SQLite))
	assert.Equal(t, portable.SQL, portable.Statements(repository.Postgres))
	assert.Equal(t, []string{"CREATE TABLE b (id SERIAL PRIMARY KEY)"}, dialectSpecific.Statements(repository.Postgres))
	assert.Empty(t, rule.Statements(repository.SQLite))

	assert.Len(t, portable.Checksum(repository.SQLite), 32)
	assert.Equal(t, portable.Checksum(repository.SQLite), portable.Checksum(repository.Postgres))
	assert.NotEqual(t, dialectSpecific.Checksum(repository.SQLite), dialectSpecific.Checksum(repository.Postgres))

	reformatted := portable
	reformatted.SQL = []string{"CREATE TABLE a (\n  id INTEGER PRIMARY KEY\n)"}
	assert.NotEqual(t, portable.Checksum(repository.SQLite), reformatted.Checksum(repository.SQLite),
		"the tokens differ around the parentheses")
	reformatted.SQL = []string{"  CREATE  TABLE a\n(id   INTEGER PRIMARY KEY) "}
	assert.Equal(t, portable.Checksum(repository.SQLite), reformatted.Checksum(repository.SQLite),
		"whitespace does not change the checksum")

	renamed := rule
	renamed.Rule = "fill-b"
	assert.NotEqual(t, rule.Checksum(repository.SQLite), renamed.Checksum(repository.SQLite))
}
