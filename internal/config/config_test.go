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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "database:\n  host: db\n  user: omc\n  database: omc\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 4028, cfg.Miner.Port)
	assert.Equal(t, 7*time.Second, cfg.Miner.ProbeTimeout)
	assert.Equal(t, 3, cfg.Miner.ProbeAttempts)
	assert.Equal(t, time.Second, cfg.Miner.PingTimeout)
	assert.Equal(t, []string{"./profiles"}, cfg.Devices.SearchPaths)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "postgres://omc:@db:5432/omc?sslmode=disable", cfg.Database.DSN())
}

func TestLoadFileAndEnvironment(t *testing.T) {
	t.Setenv("OMC_MINER_PROBE_ATTEMPTS", "5")

	cfg, err := Load(writeConfig(t, `
server:
  http_port: 9090
miner:
  probe_timeout: 2s
  poll_interval: 15s
device_profiles:
  search_paths: ["/etc/omc/profiles"]
  marker_files: ["/etc/omc/markers.yaml"]
`))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.HTTPPort)
	assert.Equal(t, 2*time.Second, cfg.Miner.ProbeTimeout)
	assert.Equal(t, 15*time.Second, cfg.Miner.PollInterval)
	assert.Equal(t, 5, cfg.Miner.ProbeAttempts)
	assert.Equal(t, []string{"/etc/omc/markers.yaml"}, cfg.Devices.MarkerFiles)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	_, err := Load(writeConfig(t, "miner:\n  port: 70000\n"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSecretsFromEnvironment(t *testing.T) {
	auth := AuthConfig{APIKeyEnv: "TEST_OMC_KEY", JWTSecretEnv: "TEST_OMC_SECRET"}
	assert.Equal(t, devAPIKey, auth.GetAPIKey())
	assert.False(t, auth.IsProductionReady())

	t.Setenv("TEST_OMC_KEY", "k-123")
	t.Setenv("TEST_OMC_SECRET", "0123456789abcdef0123456789abcdef")
	assert.Equal(t, "k-123", auth.GetAPIKey())
	assert.True(t, auth.IsProductionReady())
}
