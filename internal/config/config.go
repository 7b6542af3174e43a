package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	commoncfg "github.com/openmrs/openmrs-core-sub027/common/config"
)

// Lock backends.
const (
	LockDB    = "db"
	LockRedis = "redis"
)

// DefaultSettingsFileName is the order entry upgrade settings resource, looked
// up under the application data directory.
const DefaultSettingsFileName = "order_entry_upgrade_settings.txt"

// Config apply-upgrade / verify-upgrade 配置
type Config struct {
	Database commoncfg.DatabaseConfig
	Redis    commoncfg.RedisConfig
	Log      struct {
		Level  string
		Format string
	}
	Upgrade struct {
		AppDataDir       string
		SettingsFileName string
		// Changelog is an optional changelog file overriding the embedded one.
		Changelog string
		Lock      string
		LockTTL   time.Duration
	}
}

// SettingsPath is the absolute location of the mapping settings resource.
func (c *Config) SettingsPath() string {
	return filepath.Join(c.Upgrade.AppDataDir, c.Upgrade.SettingsFileName)
}

func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Driver = getEnv("DB_DRIVER", commoncfg.DriverPostgres)
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "openmrs")
	cfg.Database.Password = getEnv("DB_PASSWORD", "openmrs")
	cfg.Database.Database = getEnv("DB_NAME", "openmrs")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.Path = getEnv("DB_PATH", "")
	cfg.Database.MaxConns = parseInt(getEnv("DB_MAX_CONNS", "4"), 4)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = parseInt(getEnv("REDIS_DB", "0"), 0)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	cfg.Upgrade.AppDataDir = getEnv("APP_DATA_DIR", defaultAppDataDir())
	cfg.Upgrade.SettingsFileName = getEnv("UPGRADE_SETTINGS_FILE", DefaultSettingsFileName)
	cfg.Upgrade.Changelog = getEnv("UPGRADE_CHANGELOG", "")
	cfg.Upgrade.Lock = getEnv("UPGRADE_LOCK", LockDB)
	ttl, err := time.ParseDuration(getEnv("UPGRADE_LOCK_TTL", "30m"))
	if err != nil {
		return nil, fmt.Errorf("invalid UPGRADE_LOCK_TTL: %w", err)
	}
	cfg.Upgrade.LockTTL = ttl

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case commoncfg.DriverPostgres, commoncfg.DriverPgx:
	case commoncfg.DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("DB_PATH is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	switch c.Upgrade.Lock {
	case LockDB, LockRedis:
	default:
		return fmt.Errorf("unsupported UPGRADE_LOCK %q", c.Upgrade.Lock)
	}
	if c.Upgrade.SettingsFileName == "" {
		return fmt.Errorf("UPGRADE_SETTINGS_FILE must not be empty")
	}
	return nil
}

func defaultAppDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".OpenMRS"
	}
	return filepath.Join(home, ".OpenMRS")
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}
