package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigHasSaneWorkloadMix(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, "uniform", cfg.Workload.Distribution)
	assert.Len(t, cfg.Workload.Operations, 4)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := Default()
	cfg.DataDir = "/var/lib/blockengine"
	cfg.Workload.TotalOps = 5000

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/blockengine", loaded.DataDir)
	assert.Equal(t, 5000, loaded.Workload.TotalOps)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.Error(t, err)
}

func TestLoadPartialFileFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dataDir: /custom\n"), 0644))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/custom", loaded.DataDir)
	assert.Equal(t, "uniform", loaded.Workload.Distribution, "keys absent from the file keep Default()'s values")
}
