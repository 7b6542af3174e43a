package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmrs/openmrs-core-sub027/common/config"
)

func TestNewSQLiteDB(t *testing.T) {
	_, err := NewSQLiteDB("")
	assert.Error(t, err)

	db, err := Open(&config.DatabaseConfig{Driver: config.DriverSQLite, Path: filepath.Join(t.TempDir(), "nested", "legacy.db")})
	require.NoError(t, err)
	defer Close(db)

	var fk int
	require.NoError(t, db.QueryRow(`PRAGMA foreign_keys`).Scan(&fk))
	assert.Equal(t, 1, fk)
	assert.Equal(t, 1, db.Stats().MaxOpenConnections)
}

func TestClose_Nil(t *testing.T) {
	assert.NoError(t, Close(nil))
}
