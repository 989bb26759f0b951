package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestSQLite opens a throwaway database under t.TempDir so each test
// gets an isolated schema with real WAL behavior.
func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()

	sqlite, err := NewSQLite(filepath.Join(t.TempDir(), "saferoam.db"), zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, sqlite.Close())
	})
	return sqlite
}

func TestNewSQLite_InMemory(t *testing.T) {
	sqlite, err := NewSQLite(":memory:", zap.NewNop().Sugar())
	require.NoError(t, err)
	defer sqlite.Close()

	// Schema must be visible from both pools (shared cache).
	var count int
	require.NoError(t, sqlite.ReadDB.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='devices'").Scan(&count))
	require.Equal(t, 1, count)
}
