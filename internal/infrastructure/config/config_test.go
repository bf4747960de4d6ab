package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Server config
	assert.Equal(t, "8700", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.True(t, cfg.Server.Enabled)

	// Engine config
	assert.Equal(t, float64(30), cfg.Engine.UpdateRate)
	assert.Equal(t, float64(30), cfg.Engine.RenderRate)
	assert.Equal(t, 2*time.Millisecond, cfg.Engine.TimerResolution)
	assert.False(t, cfg.Engine.DebugHooks)
	assert.Equal(t, "timer", cfg.Engine.Strategy)

	// Sandbox config
	assert.Equal(t, "./carts", cfg.Sandbox.CartDirectory)
	assert.Empty(t, cfg.Sandbox.VirtualRoot)

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	// Rate limit config
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadOrDefault(t *testing.T) {
	// Should return defaults when no env vars set
	cfg := LoadOrDefault()

	assert.NotNil(t, cfg)
	assert.Equal(t, "8700", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":           "9100",
		"HOST":           "127.0.0.1",
		"SERVER_ENABLED": "false",
		"UPDATE_RATE":    "60",
		"RENDER_RATE":    "15",
		"DEBUG_HOOKS":    "true",
		"LOG_LEVEL":      "debug",
		"LOG_DEV":        "true",
	}
	for k, v := range envVars {
		t.Setenv(k, v)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.False(t, cfg.Server.Enabled)
	assert.Equal(t, float64(60), cfg.Engine.UpdateRate)
	assert.Equal(t, float64(15), cfg.Engine.RenderRate)
	assert.True(t, cfg.Engine.DebugHooks)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "host.toml")
	content := `
[server]
port = "9200"

[engine]
update_rate = 120.0
debug_hooks = true

[sandbox]
virtual_root = "/tmp/deck/"
search_paths = ["/tmp/deck/lib"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	// File values applied
	assert.Equal(t, "9200", cfg.Server.Port)
	assert.Equal(t, float64(120), cfg.Engine.UpdateRate)
	assert.True(t, cfg.Engine.DebugHooks)
	assert.Equal(t, "/tmp/deck/", cfg.Sandbox.VirtualRoot)
	assert.Equal(t, []string{"/tmp/deck/lib"}, cfg.Sandbox.SearchPaths)

	// Untouched sections keep defaults
	assert.Equal(t, float64(30), cfg.Engine.RenderRate)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFileOverridesEnvironment(t *testing.T) {
	t.Setenv("UPDATE_RATE", "45")

	dir := t.TempDir()
	path := filepath.Join(dir, "host.toml")
	require.NoError(t, os.WriteFile(path, []byte("[engine]\nupdate_rate = 90.0\n"), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, float64(90), cfg.Engine.UpdateRate)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestLoadFileMalformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "host.toml")
	require.NoError(t, os.WriteFile(path, []byte("[engine\nupdate_rate ="), 0o644))

	_, err := LoadFile(path)
	assert.Error(t, err)
}
