package redis

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmrs/openmrs-core-sub027/common/config"
)

func TestOptions(t *testing.T) {
	cfg := &config.RedisConfig{Addr: "redis:6379", Password: "secret", DB: 3}

	opts := Options(cfg, 0)
	assert.Equal(t, "redis:6379", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, DefaultConnectTimeout, opts.DialTimeout)
	assert.Equal(t, -1, opts.MaxRetries)

	assert.Equal(t, 2*time.Second, Options(cfg, 2*time.Second).ReadTimeout)
}

func TestConnect_Unreachable(t *testing.T) {
	// grab a free port and close it so nothing listens there
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	client, err := Connect(context.Background(), &config.RedisConfig{Addr: addr}, 500*time.Millisecond)
	require.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "failed to connect to redis "+addr)
}

func TestClose_Nil(t *testing.T) {
	assert.NoError(t, Close(nil))
}
