package changelog

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openmrs/openmrs-core-sub027/common/database"
	"github.com/openmrs/openmrs-core-sub027/internal/errors"
	"github.com/openmrs/openmrs-core-sub027/internal/lock"
	"github.com/openmrs/openmrs-core-sub027/internal/repository"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "runner.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func mustParse(t *testing.T, data string) *Changelog {
	t.Helper()
	f, err := Parse([]byte(data), "test.yaml")
	require.NoError(t, err)
	cl, err := f.Select()
	require.NoError(t, err)
	return cl
}

func countRows(t *testing.T, db *sql.DB, query string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(query).Scan(&n))
	return n
}

var fillA = Rules{
	"fill-a": func(ctx context.Context, s *Step) error {
		res, err := s.Tx.ExecContext(ctx, `INSERT INTO a (id) VALUES (1), (2)`)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		s.Add("a.rows", n)
		return nil
	},
}

func TestRunner_ApplyAndSkip(t *testing.T) {
	db := newTestDB(t)
	cl := mustParse(t, sampleChangelog)
	r := NewRunner(db, repository.SQLite, fillA, zap.NewNop())
	ctx := context.Background()

	res, err := r.Apply(ctx, cl)
	require.NoError(t, err)
	assert.Equal(t, []string{"a-01", "a-02", "b-01"}, res.Executed)
	assert.Empty(t, res.Skipped)
	assert.Equal(t, map[string]int64{"a.rows": 2}, res.Counters)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 2, countRows(t, db, `SELECT COUNT(*) FROM a`))

	entries, err := r.Executed(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, i+1, e.OrderExecuted)
		assert.Equal(t, "test.yaml", e.Filename)
		assert.Equal(t, "tester", e.Author)
		assert.Equal(t, ExecTypeExecuted, e.ExecType)
		assert.NotEmpty(t, e.DateExecuted)
	}
	assert.Equal(t, cl.Changesets[0].Checksum(repository.SQLite), entries[0].MD5Sum)

	res, err = r.Apply(ctx, cl)
	require.NoError(t, err)
	assert.Empty(t, res.Executed)
	assert.Equal(t, []string{"a-01", "a-02", "b-01"}, res.Skipped)
	assert.Equal(t, 2, countRows(t, db, `SELECT COUNT(*) FROM a`), "rule not applied twice")

	pending, err := r.Pending(ctx, cl)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRunner_Pending(t *testing.T) {
	db := newTestDB(t)
	f, err := Parse([]byte(sampleChangelog), "test.yaml")
	require.NoError(t, err)
	first, err := f.Select("first")
	require.NoError(t, err)
	all, err := f.Select()
	require.NoError(t, err)

	r := NewRunner(db, repository.SQLite, fillA, zap.NewNop())
	_, err = r.Apply(context.Background(), first)
	require.NoError(t, err)

	pending, err := r.Pending(context.Background(), all)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b-01", pending[0].ID)
}

func TestRunner_PreconditionMarkRan(t *testing.T) {
	db := newTestDB(t)
	_, err := db.Exec(`CREATE TABLE b (id INTEGER PRIMARY KEY, note TEXT)`)
	require.NoError(t, err)

	r := NewRunner(db, repository.SQLite, fillA, zap.NewNop())
	res, err := r.Apply(context.Background(), mustParse(t, sampleChangelog))
	require.NoError(t, err)
	assert.Equal(t, []string{"a-01", "a-02"}, res.Executed)
	assert.Equal(t, []string{"b-01"}, res.MarkedRan)

	var execType string
	require.NoError(t, db.QueryRow(`SELECT exec_type FROM `+LedgerTable+` WHERE id = 'b-01'`).Scan(&execType))
	assert.Equal(t, ExecTypeMarkRan, execType)
	assert.Equal(t, 1, countRows(t, db, `SELECT COUNT(*) FROM pragma_table_info('b') WHERE name = 'note'`),
		"existing table left alone")
}

func TestRunner_PreconditionHalt(t *testing.T) {
	db := newTestDB(t)
	cl := mustParse(t, `
changelogs:
  - name: halt
    changesets:
      - id: h-01
        author: tester
        preconditions:
          - columnExists: a.id
        sql:
          - CREATE TABLE c (id INTEGER PRIMARY KEY)
`)
	r := NewRunner(db, repository.SQLite, nil, zap.NewNop())
	_, err := r.Apply(context.Background(), cl)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDataInconsistency))
	assert.EqualError(t, err, "changeset h-01 failed: precondition columnExists a.id does not hold: data inconsistency")
	assert.Zero(t, countRows(t, db, `SELECT COUNT(*) FROM `+LedgerTable))
}

func TestRunner_FailureRollsBackOnlyTheFailingStep(t *testing.T) {
	db := newTestDB(t)
	cl := mustParse(t, `
changelogs:
  - name: partial
    changesets:
      - id: p-01
        author: tester
        sql:
          - CREATE TABLE a (id INTEGER PRIMARY KEY)
      - id: p-02
        author: tester
        sql:
          - CREATE TABLE c (id INTEGER PRIMARY KEY)
          - INSERT INTO missing_table (id) VALUES (1)
      - id: p-03
        author: tester
        sql:
          - CREATE TABLE d (id INTEGER PRIMARY KEY)
`)
	r := NewRunner(db, repository.SQLite, nil, zap.NewNop())
	res, err := r.Apply(context.Background(), cl)
	require.Error(t, err)

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, "p-02", stepErr.ChangesetID)
	assert.Contains(t, err.Error(), "changeset p-02 failed: statement 2: ")
	assert.Nil(t, errors.Kind(err), "plain SQL errors carry no kind")
	assert.Equal(t, []string{"p-01"}, res.Executed)

	schema := repository.NewSchemaRepository(db, repository.SQLite)
	for table, want := range map[string]bool{"a": true, "c": false, "d": false} {
		ok, err := schema.HasTable(context.Background(), table)
		require.NoError(t, err)
		assert.Equal(t, want, ok, "table %s", table)
	}
	assert.Equal(t, 1, countRows(t, db, `SELECT COUNT(*) FROM `+LedgerTable))

	// the lock is released after a failure
	assert.NoError(t, lock.NewDBLocker(db, repository.SQLite).Acquire(context.Background(), "probe"))
}

func TestRunner_ConstraintViolationIsClassified(t *testing.T) {
	db := newTestDB(t)
	cl := mustParse(t, sampleChangelog)
	rules := Rules{
		"fill-a": func(ctx context.Context, s *Step) error {
			_, err := s.Tx.ExecContext(ctx, `INSERT INTO a (id) VALUES (1), (1)`)
			if err != nil {
				return fmt.Errorf("failed to fill a: %w", err)
			}
			return nil
		},
	}

	_, err := NewRunner(db, repository.SQLite, rules, zap.NewNop()).Apply(context.Background(), cl)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrIntegrityViolation))
	assert.Contains(t, err.Error(), "changeset a-02 failed: integrity violation: failed to fill a: ")
	assert.Zero(t, countRows(t, db, `SELECT COUNT(*) FROM a`))
}

func TestRunner_KindedRuleErrorKept(t *testing.T) {
	db := newTestDB(t)
	rules := Rules{
		"fill-a": func(ctx context.Context, s *Step) error {
			return errors.Wrapf(errors.ErrMappingMissing, "no mapping for %s", "'x'")
		},
	}
	_, err := NewRunner(db, repository.SQLite, rules, zap.NewNop()).Apply(context.Background(), mustParse(t, sampleChangelog))
	require.Error(t, err)
	assert.Equal(t, errors.ErrMappingMissing, errors.Kind(err))
	assert.EqualError(t, err, "changeset a-02 failed: no mapping for 'x': mapping missing")
}

func TestRunner_UnknownRule(t *testing.T) {
	db := newTestDB(t)
	_, err := NewRunner(db, repository.SQLite, Rules{}, zap.NewNop()).Apply(context.Background(), mustParse(t, sampleChangelog))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.Contains(t, err.Error(), "rule fill-a")
}

func TestRunner_ChecksumMismatchStopsBeforeAnyStep(t *testing.T) {
	db := newTestDB(t)
	r := NewRunner(db, repository.SQLite, fillA, zap.NewNop())
	f, err := Parse([]byte(sampleChangelog), "test.yaml")
	require.NoError(t, err)
	first, err := f.Select("first")
	require.NoError(t, err)
	_, err = r.Apply(context.Background(), first)
	require.NoError(t, err)

	all, err := f.Select()
	require.NoError(t, err)
	all.Changesets[0].SQL = []string{"CREATE TABLE a (id BIGINT PRIMARY KEY)"}

	res, err := r.Apply(context.Background(), all)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrChecksumMismatch))
	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, "a-01", stepErr.ChangesetID)
	assert.Empty(t, res.Executed)

	ok, err := repository.NewSchemaRepository(db, repository.SQLite).HasTable(context.Background(), "b")
	require.NoError(t, err)
	assert.False(t, ok, "pending changesets do not run after a mismatch")
}

func TestRunner_LockHeld(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	l := lock.NewDBLocker(db, repository.SQLite)
	require.NoError(t, l.EnsureTable(ctx))
	require.NoError(t, l.Acquire(ctx, "other-host/run"))

	r := NewRunner(db, repository.SQLite, fillA, zap.NewNop(), WithLocker(l))
	_, err := r.Apply(ctx, mustParse(t, sampleChangelog))
	require.Error(t, err)
	assert.True(t, errors.Is(err, lock.ErrLocked))
	assert.Contains(t, err.Error(), `"other-host/run"`)
	assert.Zero(t, countRows(t, db, `SELECT COUNT(*) FROM `+LedgerTable))

	require.NoError(t, l.Release(ctx, "other-host/run"))
	_, err = r.Apply(ctx, mustParse(t, sampleChangelog))
	assert.NoError(t, err)
}

func TestRunner_Metrics(t *testing.T) {
	db := newTestDB(t)
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	r := NewRunner(db, repository.SQLite, fillA, zap.NewNop(), WithMetrics(m))
	cl := mustParse(t, sampleChangelog)

	_, err := r.Apply(context.Background(), cl)
	require.NoError(t, err)
	_, err = r.Apply(context.Background(), cl)
	require.NoError(t, err)

	assert.Equal(t, float64(3), testutil.ToFloat64(m.Steps.WithLabelValues(OutcomeExecuted)))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.Steps.WithLabelValues(OutcomeSkipped)))
	assert.Equal(t, 2, testutil.CollectAndCount(m.StepDuration), "one series per kind")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() { m.observe(Changeset{ID: "x", Rule: "r"}, OutcomeExecuted, 0) })
	assert.NotNil(t, NewMetrics(nil).Steps)
}

func TestStep_Counters(t *testing.T) {
	s := NewStep("x", nil, repository.SQLite)
	s.Add("rows", 2)
	s.Add("rows", 3)
	s.Add("none", 0)
	assert.Equal(t, map[string]int64{"rows": 5, "none": 0}, s.Counters())
}

func TestLedger_RecordPostgresBinding(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cs := Changeset{ID: "a-01", Author: "tester", Comment: "create a"}
	mock.ExpectExec(regexp.QuoteMeta("SELECT $1, $2, $3, CURRENT_TIMESTAMP, COALESCE(MAX(order_executed), 0) + 1, $4, $5, $6")).
		WithArgs("a-01", "tester", "test.yaml", "0123456789abcdef0123456789abcdef", ExecTypeExecuted, "create a").
		WillReturnResult(sqlmock.NewResult(0, 1))

	l := NewLedger(repository.Postgres)
	require.NoError(t, l.Record(context.Background(), db, cs, "test.yaml", "0123456789abcdef0123456789abcdef", ExecTypeExecuted))
	assert.NoError(t, mock.ExpectationsWereMet())
}
