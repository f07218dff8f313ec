package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monark/workshop/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
database:
  path: /var/lib/workshop/workshop.db
business:
  name: Oficina Central
  phone: "(69) 3421-0000"
log:
  format: json
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/var/lib/workshop/workshop.db", cfg.Database.Path)
	assert.Equal(t, "Oficina Central", cfg.Business.Name)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level, "unset keys keep their default")
	assert.Equal(t, "bdmonarkbd.csv", cfg.Catalog.Path)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")
	t.Setenv("WORKSHOP_PORT", "7000")
	t.Setenv("WORKSHOP_DB_PATH", ":memory:")
	t.Setenv("WORKSHOP_ALLOWED_ORIGINS", "http://a.local,http://b.local")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.Equal(t, []string{"http://a.local", "http://b.local"}, cfg.Server.AllowedOrigins)
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("bad yaml", func(t *testing.T) {
		_, err := config.Load(writeConfig(t, "server: [nope"))
		assert.ErrorContains(t, err, "failed to parse")
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorContains(t, err, "failed to read")
	})
	t.Run("bad port env", func(t *testing.T) {
		t.Setenv("WORKSHOP_PORT", "eighty")
		_, err := config.Load("")
		assert.ErrorContains(t, err, "WORKSHOP_PORT")
	})
	t.Run("every problem is reported", func(t *testing.T) {
		_, err := config.Load(writeConfig(t, "server:\n  port: 0\nlog:\n  level: loud\n"))
		require.Error(t, err)
		assert.ErrorContains(t, err, "server.port")
		assert.ErrorContains(t, err, "log.level")
	})
}
