package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flowd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
listen: ":8080"
database_url: postgres://app@db/flow
redis:
  addr: localhost:6379
  lease_ttl: 45s
smtp:
  host: smtp.example.com
  from: works@example.com
log:
  level: debug
  format: json
engine:
  workers: 8
  pace_delay: 250ms
`)
	cfg, err := loadConfig(path, env(nil))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "postgres://app@db/flow", cfg.AdminDatabaseURL)
	assert.Equal(t, 45*time.Second, cfg.Redis.LeaseTTL)
	assert.Equal(t, 587, cfg.SMTP.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.PaceDelay)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeConfig(t, "database_url: postgres://file\n")
	cfg, err := loadConfig(path, env(map[string]string{
		"FLOW_DATABASE_URL":       "postgres://env",
		"FLOW_ADMIN_DATABASE_URL": "postgres://admin",
		"FLOW_ENGINE_WORKERS":     "2",
		"FLOW_ENGINE_PACE_DELAY":  "1s",
		"FLOW_LOG_FORMAT":         "json",
	}))
	require.NoError(t, err)
	assert.Equal(t, "postgres://env", cfg.DatabaseURL)
	assert.Equal(t, "postgres://admin", cfg.AdminDatabaseURL)
	assert.Equal(t, 2, cfg.Engine.Workers)
	assert.Equal(t, time.Second, cfg.Engine.PaceDelay)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, ":3000", cfg.Listen)
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
	}{
		{"missing database", map[string]string{}},
		{"bad level", map[string]string{"FLOW_DATABASE_URL": "postgres://x", "FLOW_LOG_LEVEL": "loud"}},
		{"bad workers", map[string]string{"FLOW_DATABASE_URL": "postgres://x", "FLOW_ENGINE_WORKERS": "0"}},
		{"unparsable workers", map[string]string{"FLOW_DATABASE_URL": "postgres://x", "FLOW_ENGINE_WORKERS": "many"}},
		{"smtp without from", map[string]string{"FLOW_DATABASE_URL": "postgres://x", "FLOW_SMTP_HOST": "smtp.example.com"}},
		{"bad redis addr", map[string]string{"FLOW_DATABASE_URL": "postgres://x", "FLOW_REDIS_ADDR": "no port"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig("", env(tt.vars))
			assert.Error(t, err)
		})
	}

	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), env(nil))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(LogConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"message":"shown"`)
}

func TestRootCommand(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"serve", "schema", "recompute", "complete", "confirm-order"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}
