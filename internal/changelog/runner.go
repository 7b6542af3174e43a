package changelog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openmrs/openmrs-core-sub027/internal/errors"
	"github.com/openmrs/openmrs-core-sub027/internal/lock"
	"github.com/openmrs/openmrs-core-sub027/internal/repository"
)

// StepError reports the first failing changeset of a run. Changesets before
// it stay committed.
type StepError struct {
	ChangesetID string
	Err         error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("changeset %s failed: %v", e.ChangesetID, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Result summarises a run.
type Result struct {
	RunID     string
	Executed  []string
	Skipped   []string
	MarkedRan []string
	Counters  map[string]int64
	Duration  time.Duration
}

// Applier applies an ordered changelog against a database.
type Applier interface {
	Apply(ctx context.Context, cl *Changelog) (*Result, error)
}

var _ Applier = (*Runner)(nil)

// Runner applies changelogs in order, one transaction per changeset.
type Runner struct {
	db      *sql.DB
	dialect repository.Dialect
	rules   Rules
	ledger  *Ledger
	locker  lock.Locker
	metrics *Metrics
	logger  *zap.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithLocker replaces the default lock row locker.
func WithLocker(l lock.Locker) Option {
	return func(r *Runner) { r.locker = l }
}

func WithMetrics(m *Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// NewRunner 创建变更集执行器
func NewRunner(db *sql.DB, d repository.Dialect, rules Rules, logger *zap.Logger, opts ...Option) *Runner {
	r := &Runner{
		db:      db,
		dialect: d,
		rules:   rules,
		ledger:  NewLedger(d),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.locker == nil {
		r.locker = lock.NewDBLocker(db, d)
	}
	return r
}

// Executed returns the ledger, creating it when missing.
func (r *Runner) Executed(ctx context.Context) ([]Entry, error) {
	if err := r.ledger.EnsureTable(ctx, r.db); err != nil {
		return nil, err
	}
	return r.ledger.Executed(ctx, r.db)
}

// Pending returns the changesets of cl not yet in the ledger.
func (r *Runner) Pending(ctx context.Context, cl *Changelog) ([]Changeset, error) {
	executed, err := r.Executed(ctx)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(executed))
	for _, e := range executed {
		done[e.ID] = true
	}
	var out []Changeset
	for _, cs := range cl.Changesets {
		if !done[cs.ID] {
			out = append(out, cs)
		}
	}
	return out, nil
}

// Apply runs the pending changesets of cl under the run lock. The first
// failure stops the run with a *StepError; the Result still lists what
// completed before it.
func (r *Runner) Apply(ctx context.Context, cl *Changelog) (*Result, error) {
	start := time.Now()
	res := &Result{RunID: runOwner(), Counters: map[string]int64{}}

	if err := r.ledger.EnsureTable(ctx, r.db); err != nil {
		return res, err
	}
	if ensurer, ok := r.locker.(interface{ EnsureTable(context.Context) error }); ok {
		if err := ensurer.EnsureTable(ctx); err != nil {
			return res, err
		}
	}
	if err := r.locker.Acquire(ctx, res.RunID); err != nil {
		return res, err
	}
	defer func() {
		if err := r.locker.Release(context.Background(), res.RunID); err != nil {
			r.logger.Error("Failed to release upgrade lock", zap.String("run_id", res.RunID), zap.Error(err))
		}
	}()

	r.logger.Info("Upgrade run started",
		zap.String("run_id", res.RunID),
		zap.String("changelog", cl.Name),
		zap.Int("changesets", len(cl.Changesets)),
		zap.String("dialect", r.dialect.String()),
	)

	entries, err := r.ledger.Executed(ctx, r.db)
	if err != nil {
		return res, err
	}
	executed := make(map[string]Entry, len(entries))
	for _, e := range entries {
		executed[e.ID] = e
	}

	// 校验已执行变更集的校验和（任何执行之前）
	for _, cs := range cl.Changesets {
		e, ok := executed[cs.ID]
		if !ok {
			continue
		}
		if sum := cs.Checksum(r.dialect); e.MD5Sum != sum {
			return res, &StepError{
				ChangesetID: cs.ID,
				Err:         errors.Wrapf(errors.ErrChecksumMismatch, "stored %s, computed %s", e.MD5Sum, sum),
			}
		}
	}

	for _, cs := range cl.Changesets {
		if _, ok := executed[cs.ID]; ok {
			res.Skipped = append(res.Skipped, cs.ID)
			r.metrics.observe(cs, OutcomeSkipped, 0)
			r.logger.Debug("Changeset already executed", zap.String("changeset_id", cs.ID))
			continue
		}

		stepStart := time.Now()
		outcome, counters, err := r.applyOne(ctx, cl, cs)
		elapsed := time.Since(stepStart)
		if err != nil {
			r.metrics.observe(cs, OutcomeFailed, elapsed)
			r.logger.Error("Changeset failed",
				zap.String("changeset_id", cs.ID),
				zap.String("rule", cs.Rule),
				zap.Duration("duration", elapsed),
				zap.Error(err),
			)
			res.Duration = time.Since(start)
			return res, &StepError{ChangesetID: cs.ID, Err: err}
		}

		r.metrics.observe(cs, outcome, elapsed)
		switch outcome {
		case OutcomeMarkRan:
			res.MarkedRan = append(res.MarkedRan, cs.ID)
		default:
			res.Executed = append(res.Executed, cs.ID)
		}
		for k, v := range counters {
			res.Counters[k] += v
		}
		r.logger.Info("Changeset applied",
			zap.String("changeset_id", cs.ID),
			zap.String("rule", cs.Rule),
			zap.String("outcome", outcome),
			zap.Duration("duration", elapsed),
		)
	}

	res.Duration = time.Since(start)
	r.logger.Info("Upgrade run finished",
		zap.String("run_id", res.RunID),
		zap.Int("executed", len(res.Executed)),
		zap.Int("skipped", len(res.Skipped)),
		zap.Int("marked_ran", len(res.MarkedRan)),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// applyOne runs cs and its ledger row in one transaction.
func (r *Runner) applyOne(ctx context.Context, cl *Changelog, cs Changeset) (string, map[string]int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	// 1. 前置条件
	failed, err := r.failedPrecondition(ctx, tx, cs)
	if err != nil {
		return "", nil, err
	}
	if failed != nil {
		if cs.OnFail != OnFailMarkRan {
			return "", nil, errors.Wrapf(errors.ErrDataInconsistency, "precondition %s does not hold", failed)
		}
		if err := r.ledger.Record(ctx, tx, cs, cl.Filename, cs.Checksum(r.dialect), ExecTypeMarkRan); err != nil {
			return "", nil, err
		}
		if err := tx.Commit(); err != nil {
			return "", nil, fmt.Errorf("failed to commit: %w", err)
		}
		committed = true
		r.logger.Info("Precondition not met, changeset marked ran",
			zap.String("changeset_id", cs.ID),
			zap.String("precondition", failed.String()),
		)
		return OutcomeMarkRan, nil, nil
	}

	// 2. 执行
	step := NewStep(cs.ID, tx, r.dialect)
	if cs.Rule != "" {
		fn, ok := r.rules[cs.Rule]
		if !ok {
			return "", nil, errors.Wrapf(errors.ErrNotFound, "rule %s", cs.Rule)
		}
		if err := fn(ctx, step); err != nil {
			return "", nil, classify(err)
		}
	} else {
		for i, stmt := range cs.Statements(r.dialect) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return "", nil, classify(fmt.Errorf("statement %d: %w", i+1, err))
			}
		}
	}

	// 3. 记录并提交
	if err := r.ledger.Record(ctx, tx, cs, cl.Filename, cs.Checksum(r.dialect), ExecTypeExecuted); err != nil {
		return "", nil, err
	}
	if err := tx.Commit(); err != nil {
		return "", nil, classify(fmt.Errorf("failed to commit: %w", err))
	}
	committed = true
	return OutcomeExecuted, step.Counters(), nil
}

// failedPrecondition returns the first precondition of cs that does not
// hold, or nil.
func (r *Runner) failedPrecondition(ctx context.Context, q repository.Querier, cs Changeset) (*Precondition, error) {
	schema := repository.NewSchemaRepository(q, r.dialect)
	for i := range cs.Preconditions {
		p := cs.Preconditions[i]
		var (
			ok  bool
			err error
		)
		switch {
		case p.TableExists != "":
			ok, err = schema.HasTable(ctx, p.TableExists)
		case p.TableMissing != "":
			ok, err = schema.HasTable(ctx, p.TableMissing)
			ok = !ok
		case p.ColumnExists != "":
			table, column, _ := strings.Cut(p.ColumnExists, ".")
			ok, err = schema.HasColumn(ctx, table, column)
		default:
			table, column, _ := strings.Cut(p.ColumnMissing, ".")
			ok, err = schema.HasColumn(ctx, table, column)
			ok = !ok
		}
		if err != nil {
			return nil, err
		}
		if !ok {
			return &p, nil
		}
	}
	return nil, nil
}

// classify tags constraint failures reported by the driver. Errors that
// already carry a kind are returned as is.
func classify(err error) error {
	if errors.Kind(err) != nil {
		return err
	}
	if repository.IsConstraintViolation(err) {
		return errors.WithKind(errors.ErrIntegrityViolation, err)
	}
	return err
}

func runOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return host + "/" + uuid.NewString()
}
