package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := NewConfig()
	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 50, cfg.Buffer.ProbeIntervalMS)
	assert.Equal(t, 30, cfg.Buffer.GraceWindowSec)
	assert.Equal(t, 2000, cfg.Buffer.BacklogWarnCount)
	assert.Equal(t, 1000, cfg.Router.BatchWindowMS)
	assert.NotEmpty(t, cfg.Capture.UserAgent)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.DataDir)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)
	cfg.Log.Level = "debug"
	cfg.Capture.DevToolsURL = "http://127.0.0.1:9333"
	require.NoError(t, cfg.Save())

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "debug", loaded.Log.Level)
	assert.Equal(t, "http://127.0.0.1:9333", loaded.Capture.DevToolsURL)
}

func TestPathHelpers(t *testing.T) {
	cfg := NewConfig()
	cfg.DataDir = "/data"
	assert.Equal(t, filepath.Join("/data", "apps"), cfg.AppsDir())
	assert.Equal(t, filepath.Join("/data", "apps", "shop"), cfg.AppDir("shop"))
	assert.Equal(t, filepath.Join("/data", "apps", "shop", "captures"), cfg.CapturesDir("shop"))
	assert.Equal(t, filepath.Join("/data", "apps", "shop", "sessions"), cfg.SessionsDir("shop"))
}
