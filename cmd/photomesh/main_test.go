package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, ":8080", *listen)
	assert.Equal(t, "photomesh.db", *dbFile)
	assert.Empty(t, *configFile)
	assert.Empty(t, *colmapPath)
	assert.False(t, *dryRun)
	assert.False(t, *devMode)
	assert.False(t, *secure)
}

// setFlag overrides a string flag for the duration of a test.
func setFlag(t *testing.T, f *string, v string) {
	t.Helper()
	old := *f
	*f = v
	t.Cleanup(func() { *f = old })
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults without a file", func(t *testing.T) {
		cfg, err := loadConfig()
		require.NoError(t, err)
		assert.Equal(t, "colmap", cfg.GetColmapPath())
		assert.Equal(t, "poisson", cfg.GetMesher())
	})

	t.Run("yaml file with colmap override", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "panel.yaml")
		require.NoError(t, os.WriteFile(path, []byte("mesher: delaunay\ncolmap_path: /usr/bin/colmap\n"), 0o644))
		setFlag(t, configFile, path)
		setFlag(t, colmapPath, "/opt/colmap/bin/colmap")

		cfg, err := loadConfig()
		require.NoError(t, err)
		assert.Equal(t, "/opt/colmap/bin/colmap", cfg.GetColmapPath())
		assert.Equal(t, "delaunay", cfg.GetMesher())
	})

	t.Run("invalid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "panel.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"poisson_depth": 40}`), 0o644))
		setFlag(t, configFile, path)

		_, err := loadConfig()
		assert.Error(t, err)
	})
}
