package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rembgd/internal/supervisor"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
[helper]
command = "python server.py"
workdir = "/opt/helper"
env = ["PYTHONUNBUFFERED=1"]
handshake_path = "/tmp/custom_port.json"
startup_timeout = "45s"
poll_backoff = "200ms"
stop_grace = "400ms"

[health]
interval = "15s"
timeout = "5s"
confirm_retries = 4
confirm_interval = "2s"

[restart]
max_attempts = 5
backoff = "3s"

[gateway]
timeout = "120s"

[server]
listen = "127.0.0.1:9999"
base_path = "/api"

[metrics]
enabled = true

[history]
dsn = "sqlite:///tmp/history.db"

[log]
file = "/var/log/rembgd.log"
level = "debug"
dir = "/var/log/helper"
max_size_mb = 5
`)

	fc, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "python server.py", fc.Helper.Command)
	assert.Equal(t, "/opt/helper", fc.Helper.WorkDir)
	assert.Equal(t, []string{"PYTHONUNBUFFERED=1"}, fc.Helper.Env)
	assert.Equal(t, "/tmp/custom_port.json", fc.Helper.HandshakePath)
	assert.Equal(t, 45*time.Second, fc.Helper.StartupTimeout)
	assert.Equal(t, 400*time.Millisecond, fc.Helper.StopGrace)

	assert.Equal(t, 15*time.Second, fc.Health.Interval)
	assert.Equal(t, 4, fc.Health.ConfirmRetries)

	assert.Equal(t, 5, fc.Restart.MaxAttempts)
	assert.Equal(t, 3*time.Second, fc.Restart.Backoff)

	assert.Equal(t, 120*time.Second, fc.Gateway.Timeout)

	require.NotNil(t, fc.Server)
	assert.Equal(t, "127.0.0.1:9999", fc.Server.Listen)
	assert.Equal(t, "/api", fc.Server.BasePath)

	require.NotNil(t, fc.Metrics)
	assert.True(t, fc.Metrics.Enabled)

	require.NotNil(t, fc.History)
	assert.Equal(t, "sqlite:///tmp/history.db", fc.History.DSN)

	require.NotNil(t, fc.Log)
	assert.Equal(t, "debug", fc.Log.Level)
	assert.Equal(t, 5, fc.Log.MaxSizeMB)
}

func TestLoadRequiresHelperCommand(t *testing.T) {
	path := writeConfig(t, `
[health]
interval = "15s"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "helper.command")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestSupervisorConfigConversion(t *testing.T) {
	path := writeConfig(t, `
[helper]
command = "python server.py"
startup_timeout = "45s"
stop_grace = "400ms"

[health]
interval = "15s"

[restart]
max_attempts = 5

[log]
dir = "/var/log/helper"
`)
	fc, err := Load(path)
	require.NoError(t, err)

	sc := fc.SupervisorConfig()
	assert.Equal(t, "python server.py", sc.Spec.Command)
	assert.Equal(t, "rembg-helper", sc.Spec.Name)
	assert.Equal(t, 45*time.Second, sc.StartupTimeout)
	assert.Equal(t, 400*time.Millisecond, sc.StopGrace)
	assert.Equal(t, 15*time.Second, sc.HealthInterval)
	assert.Equal(t, 5, sc.MaxRestartAttempts)
	assert.Equal(t, "/var/log/helper", sc.Spec.Log.Dir)
}

func TestSupervisorConfigZeroValuesUseDefaults(t *testing.T) {
	path := writeConfig(t, `
[helper]
command = "python server.py"
`)
	fc, err := Load(path)
	require.NoError(t, err)

	// The supervisor owns the defaults; conversion just leaves zero values.
	sc := fc.SupervisorConfig()
	assert.Zero(t, sc.StartupTimeout)
	assert.Zero(t, sc.HealthInterval)
	assert.Equal(t, 30*time.Second, supervisor.DefaultStartupTimeout)
}
