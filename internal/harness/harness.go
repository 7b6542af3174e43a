// Package harness runs the order entry upgrade against disposable copies of
// a legacy database snapshot. Every Harness owns a private database, so tests
// never share state.
package harness

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openmrs/openmrs-core-sub027/common/database"
	"github.com/openmrs/openmrs-core-sub027/internal/changelog"
	"github.com/openmrs/openmrs-core-sub027/internal/errors"
	"github.com/openmrs/openmrs-core-sub027/internal/repository"
	"github.com/openmrs/openmrs-core-sub027/internal/upgrade"
)

// Harness is one disposable copy of the legacy snapshot.
type Harness struct {
	db         *sql.DB
	dialect    repository.Dialect
	appDataDir string
	settings   upgrade.Settings
	changelog  *changelog.File
	logger     *zap.Logger
	runner     changelog.Applier
	last       *changelog.Result
	cleanup    func() error
}

type options struct {
	settingsFile string
	changelog    *changelog.File
	logger       *zap.Logger
}

// Option configures a Harness.
type Option func(*options)

// WithSettingsFile installs the mapping settings resource before the first
// run.
func WithSettingsFile(path string) Option {
	return func(o *options) { o.settingsFile = path }
}

// WithChangelog replaces the embedded changelog.
func WithChangelog(f *changelog.File) Option {
	return func(o *options) { o.changelog = f }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New builds a harness in t.TempDir and closes it when the test ends.
func New(t testing.TB, snapshotPath string, opts ...Option) *Harness {
	t.Helper()
	h, err := Open(t.TempDir(), snapshotPath, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

// Open builds a sqlite copy of the snapshot under dir.
func Open(dir, snapshotPath string, opts ...Option) (*Harness, error) {
	db, err := database.NewSQLiteDB(filepath.Join(dir, "legacy.db"))
	if err != nil {
		return nil, err
	}
	h, err := newHarness(db, repository.SQLite, dir, snapshotPath, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	h.cleanup = db.Close
	return h, nil
}

func newHarness(db *sql.DB, d repository.Dialect, dir, snapshotPath string, opts ...Option) (*Harness, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.changelog == nil {
		f, err := upgrade.DefaultChangelog()
		if err != nil {
			return nil, err
		}
		o.changelog = f
	}

	appDataDir := filepath.Join(dir, "appdata")
	if err := os.MkdirAll(appDataDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create app data dir: %w", err)
	}

	h := &Harness{
		db:         db,
		dialect:    d,
		appDataDir: appDataDir,
		settings:   upgrade.DefaultSettings(appDataDir),
		changelog:  o.changelog,
		logger:     o.logger,
	}
	h.runner = changelog.NewRunner(db, d, upgrade.Rules(h.settings, h.logger), h.logger)
	if err := loadSnapshot(context.Background(), db, snapshotPath); err != nil {
		return nil, err
	}
	if o.settingsFile != "" {
		if err := h.InstallSettings(o.settingsFile); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// DB is the harness connection, for rules called directly by tests.
func (h *Harness) DB() *sql.DB { return h.db }

func (h *Harness) Dialect() repository.Dialect { return h.dialect }

func (h *Harness) Settings() upgrade.Settings { return h.settings }

// InstallSettings copies a settings resource into the harness app data dir,
// replacing any previous one.
func (h *Harness) InstallSettings(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read settings %s: %w", path, err)
	}
	if err := os.WriteFile(h.settings.SettingsPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to install settings: %w", err)
	}
	return nil
}

// RunMigration applies the whole changelog, or only the named sequences.
// Any failure comes back as one error wrapping the runner's StepError.
func (h *Harness) RunMigration(names ...string) error {
	cl, err := h.changelog.Select(names...)
	if err != nil {
		return errors.Wrap(err, "migration run failed")
	}
	res, err := h.runner.Apply(context.Background(), cl)
	h.last = res
	if err != nil {
		return errors.Wrap(err, "migration run failed")
	}
	return nil
}

// LastResult is the result of the latest RunMigration, nil before the first.
func (h *Harness) LastResult() *changelog.Result { return h.last }

// Exec runs a statement written with ? placeholders.
func (h *Harness) Exec(query string, args ...any) error {
	if _, err := h.db.ExecContext(context.Background(), h.dialect.Rebind(query), args...); err != nil {
		return fmt.Errorf("exec failed: %w", err)
	}
	return nil
}

// Close releases the harness database.
func (h *Harness) Close() error {
	if h.cleanup == nil {
		return nil
	}
	err := h.cleanup()
	h.cleanup = nil
	return err
}
