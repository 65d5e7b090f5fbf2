package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDB_CreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "lunchbot.db")

	db, err := NewDB(path)
	require.NoError(t, err)
	defer db.Close()

	var name string
	err = db.SQL.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'action_events'`).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "action_events", name)
}

func TestRunMigrations_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lunchbot.db")

	require.NoError(t, RunMigrations(path))
	require.NoError(t, RunMigrations(path))
}

func TestNewDB_UsesWAL(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "lunchbot.db"))
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.SQL.QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)
}
