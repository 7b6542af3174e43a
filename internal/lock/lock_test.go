package lock

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmrs/openmrs-core-sub027/common/database"
	"github.com/openmrs/openmrs-core-sub027/internal/errors"
	"github.com/openmrs/openmrs-core-sub027/internal/repository"
)

func TestDBLocker_SQLite(t *testing.T) {
	db, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "lock.db"))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	l := NewDBLocker(db, repository.SQLite)
	require.NoError(t, l.EnsureTable(ctx))
	require.NoError(t, l.EnsureTable(ctx), "EnsureTable must be repeatable")

	require.NoError(t, l.Acquire(ctx, "run-a"))

	err = l.Acquire(ctx, "run-b")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocked))
	assert.Contains(t, err.Error(), `"run-a"`)

	// a stranger cannot release someone else's lock
	require.NoError(t, l.Release(ctx, "run-b"))
	assert.Error(t, l.Acquire(ctx, "run-b"))

	require.NoError(t, l.Release(ctx, "run-a"))
	require.NoError(t, l.Acquire(ctx, "run-b"))
}

func TestDBLocker_ForceRelease(t *testing.T) {
	db, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "lock.db"))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	l := NewDBLocker(db, repository.SQLite)
	require.NoError(t, l.EnsureTable(ctx))

	holder, err := l.ForceRelease(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", holder, "free lock")

	// run-a died without releasing
	require.NoError(t, l.Acquire(ctx, "run-a"))
	require.Error(t, l.Acquire(ctx, "run-b"))

	holder, err = l.ForceRelease(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-a", holder)
	require.NoError(t, l.Acquire(ctx, "run-b"))
}

func TestDBLocker_AcquirePostgresBinding(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("locked_by = $1")).
		WithArgs("run-a").
		WillReturnResult(sqlmock.NewResult(0, 1))

	l := NewDBLocker(db, repository.Postgres)
	require.NoError(t, l.Acquire(context.Background(), "run-a"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

type fakeRedis struct {
	values   map[string]string
	released []string
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	if _, ok := f.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Eval(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	if f.values[keys[0]] == args[0].(string) {
		delete(f.values, keys[0])
		f.released = append(f.released, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	client := &fakeRedis{values: map[string]string{}}
	l := NewRedisLocker(client, "", time.Minute)

	require.NoError(t, l.Acquire(ctx, "host-1"))
	assert.Equal(t, "host-1", client.values[DefaultRedisKey])

	err := l.Acquire(ctx, "host-2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocked))
	assert.Contains(t, err.Error(), `"host-1"`)

	require.NoError(t, l.Release(ctx, "host-2"))
	assert.Empty(t, client.released)

	require.NoError(t, l.Release(ctx, "host-1"))
	assert.Equal(t, []string{DefaultRedisKey}, client.released)
	require.NoError(t, l.Acquire(ctx, "host-2"))
}
