package harness

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/openmrs/openmrs-core-sub027/common/config"
	"github.com/openmrs/openmrs-core-sub027/internal/repository"
)

// PostgresDSNEnv names the keyword/value DSN of a scratch Postgres server
// used by the integration tests.
const PostgresDSNEnv = "UPGRADE_TEST_POSTGRES_DSN"

// NewPostgres builds a harness in a fresh schema of the server named by
// PostgresDSNEnv and drops the schema when the test ends. The test is
// skipped when the variable is unset or the server is unreachable.
func NewPostgres(t testing.TB, snapshotPath string, opts ...Option) *Harness {
	t.Helper()
	dsn := os.Getenv(PostgresDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", PostgresDSNEnv)
	}
	h, err := OpenPostgres(dsn, t.TempDir(), snapshotPath, opts...)
	if err != nil {
		if strings.Contains(err.Error(), "failed to reach postgres") {
			t.Skipf("postgres unavailable: %v", err)
		}
		t.Fatalf("open postgres harness: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

// OpenPostgres creates a private schema on the server at dsn and loads the
// snapshot into it. dir holds the app data directory.
func OpenPostgres(dsn, dir, snapshotPath string, opts ...Option) (*Harness, error) {
	admin, err := sql.Open(config.DriverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := admin.Ping(); err != nil {
		_ = admin.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}

	schema := "upgrade_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := admin.Exec("CREATE SCHEMA " + schema); err != nil {
		_ = admin.Close()
		return nil, fmt.Errorf("failed to create schema %s: %w", schema, err)
	}
	dropSchema := func() error {
		defer admin.Close()
		_, err := admin.Exec("DROP SCHEMA " + schema + " CASCADE")
		return err
	}

	db, err := sql.Open(config.DriverPostgres, dsn+" search_path="+schema)
	if err != nil {
		_ = dropSchema()
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	// one connection, as with sqlite, so rule code sees the same session
	db.SetMaxOpenConns(1)

	h, err := newHarness(db, repository.Postgres, dir, snapshotPath, opts...)
	if err != nil {
		_ = db.Close()
		_ = dropSchema()
		return nil, err
	}
	h.cleanup = func() error {
		if err := db.Close(); err != nil {
			_ = dropSchema()
			return err
		}
		return dropSchema()
	}
	return h, nil
}
