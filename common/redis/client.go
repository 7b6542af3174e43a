// Package redis connects the shared redis used to serialise upgrade runs
// across hosts.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/openmrs/openmrs-core-sub027/common/config"
)

// DefaultConnectTimeout bounds dialing and the initial ping.
const DefaultConnectTimeout = 5 * time.Second

// Options builds client options for cfg. A lock call that cannot reach redis
// should fail fast, so retries are off and timeouts are short.
func Options(cfg *config.RedisConfig, timeout time.Duration) *redis.Options {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	return &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		MaxRetries:   -1,
		PoolSize:     2,
	}
}

// Connect 创建Redis客户端并测试连接
func Connect(ctx context.Context, cfg *config.RedisConfig, timeout time.Duration) (*redis.Client, error) {
	opts := Options(cfg, timeout)
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// Close 关闭Redis连接
func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
