package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app: {}\n"))
	require.NoError(t, err)

	assert.Equal(t, 38540, cfg.App.Port)
	assert.Equal(t, "https://www.vinted.fr", cfg.Upstream.BaseURL)
	assert.Equal(t, 20, cfg.Upstream.PageSize)
	assert.Equal(t, 1.0, cfg.Upstream.ReqPerSec)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout())
	assert.Equal(t, 30*time.Minute, cfg.SyncInterval())
	assert.Equal(t, 2*time.Second, cfg.EnrichmentDelay())
	assert.Equal(t, 20, cfg.Enrichment.BatchSize)
	assert.Equal(t, 10*time.Second, cfg.BatchPause())
	assert.Equal(t, "scripts/vinted-session-manager.js", cfg.Session.ScriptPath)
	assert.Equal(t, 2*time.Minute, cfg.LoginTimeout())
	assert.False(t, cfg.Sync.Enabled)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
app:
  port: 9999
upstream:
  user_id: "12345"
  page_size: 50
  req_per_sec: 0.5
sync:
  enabled: true
  on_startup: true
  interval_seconds: 600
session:
  auto_refresh: true
  initial_cookies: "_vinted_fr_session=abc"
`))
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.App.Port)
	assert.Equal(t, "12345", cfg.Upstream.UserID)
	assert.Equal(t, 50, cfg.Upstream.PageSize)
	assert.Equal(t, 0.5, cfg.Upstream.ReqPerSec)
	assert.True(t, cfg.Sync.Enabled)
	assert.True(t, cfg.Sync.OnStartup)
	assert.Equal(t, 10*time.Minute, cfg.SyncInterval())
	assert.True(t, cfg.Session.AutoRefresh)
	assert.Equal(t, "_vinted_fr_session=abc", cfg.Session.InitialCookies)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "app: [not: a: map\n"))
	assert.Error(t, err)
}

func TestEnsureUserConfigCopiesDefault(t *testing.T) {
	dataDir := t.TempDir()
	defaultPath := writeConfig(t, "app:\n  port: 4242\n")

	path, err := EnsureUserConfig(dataDir, defaultPath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dataDir, "config.yml"), path)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4242, cfg.App.Port)
}

func TestEnsureUserConfigKeepsExisting(t *testing.T) {
	dataDir := t.TempDir()
	existing := filepath.Join(dataDir, "config.yml")
	require.NoError(t, os.WriteFile(existing, []byte("app:\n  port: 1111\n"), 0o644))

	defaultPath := writeConfig(t, "app:\n  port: 4242\n")
	path, err := EnsureUserConfig(dataDir, defaultPath)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1111, cfg.App.Port)
}
