package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/openmrs/openmrs-core-sub027/common/database"
	"github.com/openmrs/openmrs-core-sub027/common/logger"
	"github.com/openmrs/openmrs-core-sub027/internal/changelog"
	"github.com/openmrs/openmrs-core-sub027/internal/config"
	"github.com/openmrs/openmrs-core-sub027/internal/lock"
	"github.com/openmrs/openmrs-core-sub027/internal/report"
	"github.com/openmrs/openmrs-core-sub027/internal/repository"
	"github.com/openmrs/openmrs-core-sub027/internal/upgrade"
)

// verify-upgrade lists executed and pending changesets. It exits 2 when
// changesets are pending and -strict is set. -release-lock clears a database
// lock left behind by a run that was killed.
func main() {
	changelogPath := flag.String("changelog", "", "changelog file (default: UPGRADE_CHANGELOG or the embedded order entry upgrade)")
	only := flag.String("only", "", "comma separated changelog names to check")
	reportPath := flag.String("report", "", "write an xlsx report")
	strict := flag.Bool("strict", false, "exit 2 when changesets are pending")
	releaseLock := flag.Bool("release-lock", false, "clear a stale database upgrade lock before verifying")
	flag.Parse()

	pending, err := run(context.Background(), *changelogPath, *only, *reportPath, *releaseLock)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify-upgrade: %v\n", err)
		os.Exit(1)
	}
	if *strict && pending > 0 {
		os.Exit(2)
	}
}

func run(ctx context.Context, changelogPath, only, reportPath string, releaseLock bool) (int, error) {
	cfg, err := config.Load()
	if err != nil {
		return 0, err
	}
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "verify-upgrade")
	if err != nil {
		return 0, fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	if changelogPath == "" {
		changelogPath = cfg.Upgrade.Changelog
	}
	file, err := upgrade.LoadChangelog(changelogPath)
	if err != nil {
		return 0, err
	}
	var names []string
	for _, n := range strings.Split(only, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	cl, err := file.Select(names...)
	if err != nil {
		return 0, err
	}

	dialect, err := repository.DialectForDriver(cfg.Database.Driver)
	if err != nil {
		return 0, err
	}
	db, err := database.Open(&cfg.Database)
	if err != nil {
		return 0, err
	}
	defer database.Close(db)

	if releaseLock {
		locker := lock.NewDBLocker(db, dialect)
		if err := locker.EnsureTable(ctx); err != nil {
			return 0, err
		}
		holder, err := locker.ForceRelease(ctx)
		if err != nil {
			return 0, err
		}
		if holder == "" {
			fmt.Println("Upgrade lock was not held")
		} else {
			log.Warn("Released stale upgrade lock", zap.String("locked_by", holder))
			fmt.Printf("Released upgrade lock held by %s\n\n", holder)
		}
	}

	runner := changelog.NewRunner(db, dialect, nil, log)
	executed, err := runner.Executed(ctx)
	if err != nil {
		return 0, err
	}
	pending, err := runner.Pending(ctx, cl)
	if err != nil {
		return 0, err
	}

	fmt.Printf("=== Executed changesets (%d) ===\n", len(executed))
	for _, e := range executed {
		fmt.Printf("%3d  %-9s %s  %s\n", e.OrderExecuted, e.ExecType, e.DateExecuted, e.ID)
	}
	fmt.Printf("\n=== Pending changesets (%d) ===\n", len(pending))
	for _, cs := range pending {
		fmt.Printf("     %s  %s\n", cs.ID, cs.Comment)
	}
	if len(pending) == 0 {
		fmt.Println("\nDatabase is up to date")
	}

	if reportPath != "" {
		if err := report.WriteXLSX(reportPath, report.NewSummary(executed, pending, nil)); err != nil {
			return len(pending), err
		}
		fmt.Printf("\nReport written to %s\n", reportPath)
	}
	return len(pending), nil
}
