package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "")
	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, "datastore.json", cfg.StoragePath)
	assert.Equal(t, 30*time.Second, cfg.AutoSaveInterval)
	assert.Equal(t, 720*time.Hour, cfg.Retention)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 5, cfg.RateBurst)
	assert.ErrorIs(t, cfg.RequireDiscord(), ErrMissingToken)
}

func TestNewFromEnv(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("STORAGE_PATH", "/tmp/state.json")
	t.Setenv("TRIGGER_LOG_RETENTION", "48h")
	t.Setenv("RATE_LIMIT", "0.5")
	t.Setenv("EXPLICIT_MODE", "true")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/state.json", cfg.StoragePath)
	assert.Equal(t, 48*time.Hour, cfg.Retention)
	assert.Equal(t, 0.5, cfg.RateLimit)
	assert.True(t, cfg.Explicit)
	assert.NoError(t, cfg.RequireDiscord())
}

func TestNewRejectsBadValues(t *testing.T) {
	tests := map[string]string{
		"RATE_BURST": "0",
		"WORKERS":    "0",
		"LOG_FORMAT": "xml",
		"RATE_LIMIT": "fast",
	}
	for k, v := range tests {
		t.Run(k, func(t *testing.T) {
			t.Setenv(k, v)
			_, err := New()
			assert.Error(t, err)
		})
	}
}

func TestTablesFS(t *testing.T) {
	cfg := &Config{}
	fsys, err := cfg.TablesFS()
	require.NoError(t, err)
	assert.Nil(t, fsys)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "phases.yaml"), []byte("default: {}\n"), 0o644))
	cfg.TablesDir = dir
	fsys, err = cfg.TablesFS()
	require.NoError(t, err)
	require.NotNil(t, fsys)

	cfg.TablesDir = filepath.Join(dir, "phases.yaml")
	_, err = cfg.TablesFS()
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("HTTP_ADDR=:9999\n"), 0o644))
	t.Setenv("HTTP_ADDR", "")
	require.NoError(t, os.Unsetenv("HTTP_ADDR"))

	assert.False(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
	require.True(t, LoadDotEnv(path))
	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTPAddr)
}
