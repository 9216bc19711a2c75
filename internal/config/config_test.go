package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load(filepath.Join(home, "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultListen, cfg.Server.Listen)
	assert.Equal(t, 0.7, cfg.Selection.Threshold)
	assert.Equal(t, 3, cfg.Health.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Health.SettleDelay)
	assert.Equal(t, 300*time.Second, cfg.Credentials.LoginTimeout)
	assert.Equal(t, 10, cfg.Snapshots.Retention)
	assert.Equal(t, filepath.Join(home, ".switchboard", "state.db"), cfg.Paths.StateDB)
	assert.Equal(t, filepath.Join(home, ".switchboard", "snapshots"), cfg.Paths.SnapshotDir)
	assert.Equal(t, 1, cfg.Concurrency.GetClassLimit("delegated_login"))
}

func TestLoad_FileThenEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path := filepath.Join(home, "config.yaml")
	content := `server:
  listen: 127.0.0.1:9000
selection:
  threshold: 0.5
health:
  max_retries: 2
  settle_delay: 1s
secrets:
  backend: file
concurrency:
  global_max: 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("SWITCHBOARD_HEALTH_MAX_RETRIES", "5")
	t.Setenv("SWITCHBOARD_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Listen)
	assert.Equal(t, 0.5, cfg.Selection.Threshold)
	assert.Equal(t, 5, cfg.Health.MaxRetries)
	assert.Equal(t, time.Second, cfg.Health.SettleDelay)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "file", cfg.Secrets.Backend)
	assert.Equal(t, 3, cfg.Concurrency.GlobalMax)
	// untouched keys keep their defaults
	assert.Equal(t, 4, cfg.Concurrency.DefaultClassMax)
	assert.True(t, cfg.Selection.Learning)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path := filepath.Join(home, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("credentials:\n  probe: magic\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials.probe")
}

func TestLoad_RejectsDirectory(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.Error(t, err)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "server.listen", envKey("SWITCHBOARD_SERVER_LISTEN"))
	assert.Equal(t, "credentials.oauth_automation", envKey("SWITCHBOARD_CREDENTIALS_OAUTH_AUTOMATION"))
	assert.Equal(t, "debug", envKey("SWITCHBOARD_DEBUG"))
}

func TestValidate_CollectsErrors(t *testing.T) {
	cfg := Default(t.TempDir())
	require.NoError(t, cfg.resolvePaths())
	require.NoError(t, cfg.Validate())

	cfg.Selection.Threshold = 0
	cfg.Snapshots.Retention = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "selection.threshold")
	assert.Contains(t, err.Error(), "snapshots.retention")
}
