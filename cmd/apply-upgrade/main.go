package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/openmrs/openmrs-core-sub027/common/database"
	"github.com/openmrs/openmrs-core-sub027/common/logger"
	commonredis "github.com/openmrs/openmrs-core-sub027/common/redis"
	"github.com/openmrs/openmrs-core-sub027/internal/changelog"
	"github.com/openmrs/openmrs-core-sub027/internal/config"
	"github.com/openmrs/openmrs-core-sub027/internal/lock"
	"github.com/openmrs/openmrs-core-sub027/internal/report"
	"github.com/openmrs/openmrs-core-sub027/internal/repository"
	"github.com/openmrs/openmrs-core-sub027/internal/upgrade"
)

type options struct {
	changelog   string
	only        string
	settingsURL string
	metricsFile string
	report      string
}

func main() {
	var opts options
	flag.StringVar(&opts.changelog, "changelog", "", "changelog file (default: UPGRADE_CHANGELOG or the embedded order entry upgrade)")
	flag.StringVar(&opts.only, "only", "", "comma separated changelog names to apply, in file order")
	flag.StringVar(&opts.settingsURL, "settings-url", "", "download the mapping settings file into the app data dir first")
	flag.StringVar(&opts.metricsFile, "metrics-file", "", "write run metrics in prometheus textfile format")
	flag.StringVar(&opts.report, "report", "", "write an xlsx run report")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "apply-upgrade: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "apply-upgrade")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	settings := upgrade.NewSettings(cfg)

	// 1. 下载映射配置
	if opts.settingsURL != "" {
		fetcher := upgrade.NewSettingsFetcher(30*time.Second, 3, log.Named("fetch"))
		if err := fetcher.Fetch(ctx, opts.settingsURL, settings.SettingsPath); err != nil {
			return err
		}
	}

	// 2. 变更集
	path := opts.changelog
	if path == "" {
		path = cfg.Upgrade.Changelog
	}
	file, err := upgrade.LoadChangelog(path)
	if err != nil {
		return err
	}
	cl, err := file.Select(splitNames(opts.only)...)
	if err != nil {
		return err
	}

	// 3. 数据库
	dialect, err := repository.DialectForDriver(cfg.Database.Driver)
	if err != nil {
		return err
	}
	db, err := database.Open(&cfg.Database)
	if err != nil {
		return err
	}
	defer database.Close(db)

	reg := prometheus.NewRegistry()
	runnerOpts := []changelog.Option{changelog.WithMetrics(changelog.NewMetrics(reg))}

	// 4. 运行锁
	if cfg.Upgrade.Lock == config.LockRedis {
		client, err := commonredis.Connect(ctx, &cfg.Redis, commonredis.DefaultConnectTimeout)
		if err != nil {
			return err
		}
		defer commonredis.Close(client)
		runnerOpts = append(runnerOpts, changelog.WithLocker(lock.NewRedisLocker(client, lock.DefaultRedisKey, cfg.Upgrade.LockTTL)))
		log.Info("Using redis upgrade lock", zap.String("addr", cfg.Redis.Addr), zap.Duration("ttl", cfg.Upgrade.LockTTL))
	}

	runner := changelog.NewRunner(db, dialect, upgrade.Rules(settings, log), log, runnerOpts...)
	res, runErr := runner.Apply(ctx, cl)

	// 5. 指标与报告（失败时也写出）
	if opts.metricsFile != "" {
		if err := prometheus.WriteToTextfile(opts.metricsFile, reg); err != nil {
			log.Error("Failed to write metrics file", zap.String("path", opts.metricsFile), zap.Error(err))
		}
	}
	if opts.report != "" {
		if err := writeReport(ctx, runner, cl, res, opts.report); err != nil {
			log.Error("Failed to write report", zap.String("path", opts.report), zap.Error(err))
		}
	}

	if runErr != nil {
		return runErr
	}
	log.Info("Upgrade complete",
		zap.Int("executed", len(res.Executed)),
		zap.Int("skipped", len(res.Skipped)),
		zap.Int("marked_ran", len(res.MarkedRan)),
		zap.Any("counters", res.Counters),
	)
	return nil
}

func writeReport(ctx context.Context, runner *changelog.Runner, cl *changelog.Changelog, res *changelog.Result, path string) error {
	executed, err := runner.Executed(ctx)
	if err != nil {
		return err
	}
	pending, err := runner.Pending(ctx, cl)
	if err != nil {
		return err
	}
	var counters map[string]int64
	if res != nil {
		counters = res.Counters
	}
	return report.WriteXLSX(path, report.NewSummary(executed, pending, counters))
}

func splitNames(s string) []string {
	var out []string
	for _, n := range strings.Split(s, ",") {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}
