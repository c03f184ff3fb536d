package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	for _, v := range []string{
		"RAYDB_READ_ONLY", "RAYDB_CREATE_IF_MISSING", "RAYDB_MVCC",
		"RAYDB_MVCC_GC_INTERVAL_MS", "RAYDB_PAGE_SIZE", "RAYDB_WAL_SIZE", "RAYDB_SYNC_MODE",
	} {
		os.Unsetenv(v)
	}

	cfg := LoadFromEnv()
	require.True(t, cfg.CreateIfMissing)
	require.False(t, cfg.MVCC)
	require.Equal(t, 5000, cfg.MVCCGCIntervalMs)
	require.Equal(t, int64(60000), cfg.MVCCRetentionMs)
	require.Equal(t, 10, cfg.MVCCMaxChainDepth)
	require.Equal(t, 0.8, cfg.CheckpointThreshold)
	require.EqualValues(t, 4096, cfg.PageSize)
	require.EqualValues(t, 64<<20, cfg.WALSize)
	require.Equal(t, "full", cfg.SyncMode)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnvOverrides(t *testing.T) {
	os.Setenv("RAYDB_MVCC", "true")
	os.Setenv("RAYDB_WAL_SIZE", "128MB")
	os.Setenv("RAYDB_SYNC_MODE", "batch")
	defer func() {
		os.Unsetenv("RAYDB_MVCC")
		os.Unsetenv("RAYDB_WAL_SIZE")
		os.Unsetenv("RAYDB_SYNC_MODE")
	}()

	cfg := LoadFromEnv()
	require.True(t, cfg.MVCC)
	require.EqualValues(t, 128<<20, cfg.WALSize)
	require.Equal(t, "batch", cfg.SyncMode)
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadSyncMode(t *testing.T) {
	cfg := LoadFromEnv()
	cfg.SyncMode = "sometimes"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsReadOnlyWithCreateIfMissing(t *testing.T) {
	cfg := LoadFromEnv()
	cfg.ReadOnly = true
	cfg.CreateIfMissing = true
	require.Error(t, cfg.Validate())
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raydb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mvcc: true\npageSize: 8192\ndataDir: /var/lib/raydb\n"), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.True(t, cfg.MVCC)
	require.EqualValues(t, 8192, cfg.PageSize)
	require.Equal(t, "/var/lib/raydb", cfg.DataDir)
	require.Equal(t, "native", cfg.Backend) // untouched default survives partial override
	require.NoError(t, cfg.Validate())
}
