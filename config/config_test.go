package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sidecar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "")
	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, "launch.py", cfg.EntryScript)
	assert.Equal(t, time.Duration(0), cfg.ReadyTimeout)
	assert.Equal(t, 10*time.Second, cfg.StopTimeout)
	assert.Equal(t, 3, cfg.HTTPRetryMax)
	assert.True(t, cfg.SeedUserData)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "http://127.0.0.1:7865", cfg.URL(cfg.Port))
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, `
port: 9000
ready_timeout: 2m
python: /usr/bin/python3.11
log:
  level: debug
`)
	t.Setenv("SIDECAR_PORT", "9100")
	t.Setenv("SIDECAR_LOG_DEVELOPMENT", "true")

	cfg, err := Load(path, map[string]any{"python": "/opt/py/bin/python"})
	require.NoError(t, err)

	// env beats file
	assert.Equal(t, 9100, cfg.Port)
	assert.True(t, cfg.Log.Development)
	// file beats defaults
	assert.Equal(t, 2*time.Minute, cfg.ReadyTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	// overrides beat file
	assert.Equal(t, "/opt/py/bin/python", cfg.Python)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.ErrorContains(t, err, "reading config file")

	_, err = Load(writeConfig(t, "port: [1, 2"), nil)
	assert.ErrorContains(t, err, "reading config file")

	_, err = Load(writeConfig(t, "port: 70000"), nil)
	assert.ErrorContains(t, err, "out of range")

	_, err = Load(writeConfig(t, "stop_timeout: 0s"), nil)
	assert.ErrorContains(t, err, "stop timeout")
}

func TestURLOverride(t *testing.T) {
	cfg := Config{BackendURL: "http://gpu-box:7865/"}
	assert.Equal(t, "http://gpu-box:7865", cfg.URL(1))
}

func TestResolveDevelopment(t *testing.T) {
	root := t.TempDir()
	backend := filepath.Join(root, "repo")
	cwd := filepath.Join(backend, "frontend", "src")
	require.NoError(t, os.MkdirAll(cwd, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(backend, "launch.py"), nil, 0o644))

	cfg := Config{EntryScript: "launch.py", UserDataDir: filepath.Join(root, "ud")}
	p, err := cfg.Resolve(cwd)
	require.NoError(t, err)
	assert.False(t, p.Packaged)
	assert.Equal(t, "python", p.Python)
	assert.Equal(t, backend, p.BackendDir)
	assert.Equal(t, filepath.Join(root, "ud"), p.UserDataDir)
	assert.Empty(t, p.PathPrepend)

	cfg.EntryScript = "no-such-entry-script.py"
	_, err = cfg.Resolve(cwd)
	assert.ErrorIs(t, err, ErrBackendNotFound)

	// an explicit backend dir skips the search
	cfg.BackendDir = "/srv/backend"
	p, err = cfg.Resolve(cwd)
	require.NoError(t, err)
	assert.Equal(t, "/srv/backend", p.BackendDir)
}

func TestResolvePackaged(t *testing.T) {
	res := filepath.Join("/", "opt", "app", "resources")
	cfg := Config{ResourcesDir: res, EntryScript: "launch.py", UserDataDir: "/data"}
	p, err := cfg.Resolve("/")
	require.NoError(t, err)

	assert.True(t, p.Packaged)
	assert.Equal(t, filepath.Join(res, "backend"), p.BackendDir)
	if runtime.GOOS == "windows" {
		assert.Equal(t, filepath.Join(res, "python", "python.exe"), p.Python)
	} else {
		assert.Equal(t, filepath.Join(res, "python", "bin", "python3"), p.Python)
	}
	assert.NotEmpty(t, p.PathPrepend)

	cfg.Python = "/custom/python"
	p, err = cfg.Resolve("/")
	require.NoError(t, err)
	assert.Equal(t, "/custom/python", p.Python)
}
