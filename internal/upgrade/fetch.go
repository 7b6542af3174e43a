package upgrade

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/openmrs/openmrs-core-sub027/internal/errors"
)

// SettingsFetcher downloads the mapping settings resource into the
// application data directory before a run.
type SettingsFetcher struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewSettingsFetcher 创建配置下载客户端
func NewSettingsFetcher(timeout time.Duration, retries int, logger *zap.Logger) *SettingsFetcher {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Accept", "text/plain")

	return &SettingsFetcher{httpClient: client, logger: logger}
}

// Fetch downloads url and replaces dest with it. The body must parse as a
// settings file whose values are all concept ids; a body that does not
// leaves dest untouched.
func (f *SettingsFetcher) Fetch(ctx context.Context, url, dest string) error {
	f.logger.Info("Downloading upgrade settings", zap.String("url", url), zap.String("dest", dest))

	resp, err := f.httpClient.R().SetContext(ctx).Get(url)
	if err != nil {
		return fmt.Errorf("failed to download settings from %s: %w", url, err)
	}
	if resp.IsError() {
		return fmt.Errorf("failed to download settings from %s: status %d", url, resp.StatusCode())
	}

	body := resp.Body()
	entries, err := ParseSettings(bytes.NewReader(body))
	if err != nil {
		return errors.WithKind(errors.ErrMappingMalformed, errors.Wrapf(err, "settings downloaded from %s", url))
	}
	if _, err := mappingValues(entries, url); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(dest), err)
	}
	tmp := dest + ".download"
	if err := os.WriteFile(tmp, body, 0o640); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to install %s: %w", dest, err)
	}

	f.logger.Info("Upgrade settings installed",
		zap.String("dest", dest),
		zap.Int("entries", len(entries)),
	)
	return nil
}
