package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate keeps user config files out of Load.
func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
}

func moduleRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		require.NotEqual(t, parent, dir, "no go.mod above the test directory")
		dir = parent
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)
	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "diku", cfg.Tenant.Default)
	assert.Empty(t, cfg.Tenant.Central)
	assert.NotEmpty(t, cfg.Store.Path)
	assert.Equal(t, "local", cfg.Storage.Backend)

	// Export sizing.
	assert.Equal(t, 100000, cfg.Export.SliceSize)
	assert.Equal(t, 1000, cfg.Export.BatchSize)
	assert.Equal(t, 4, cfg.Export.Workers)
	assert.Zero(t, cfg.Export.SliceTimeout)

	assert.Equal(t, "gateway", cfg.Fetch.Source)
	assert.Equal(t, 15, cfg.Fetch.Concurrency)
	assert.Equal(t, 15, cfg.Fetch.ChunkSize)
	assert.Equal(t, time.Hour, cfg.Fetch.Timeout)

	assert.Equal(t, uint64(3), cfg.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.InitialInterval)

	assert.Equal(t, 10*time.Minute, cfg.Sweeper.ExpirationInterval)
	assert.Equal(t, 24*time.Hour, cfg.Sweeper.CleanupInterval)
	assert.Equal(t, time.Hour, cfg.Sweeper.StaleAfter)
	assert.Equal(t, 24*time.Hour, cfg.Sweeper.FileDefinitionTTL)

	assert.Same(t, cfg, GetConfig())
}

func TestLoad_Environment(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		check func(t *testing.T, cfg *Config)
	}{
		{
			name: "short aliases",
			env:  map[string]string{"DATAEXPORT_PORT": "3000", "DATAEXPORT_LOG_LEVEL": "WARN", "DATAEXPORT_TENANT": "cs00000int"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 3000, cfg.Server.Port)
				assert.Equal(t, "warn", cfg.Logging.Level)
				assert.Equal(t, "cs00000int", cfg.Tenant.Default)
			},
		},
		{
			name: "canonical names of aliased keys",
			env:  map[string]string{"DATAEXPORT_STORE_PATH": ":memory:", "DATAEXPORT_SERVER_PORT": "3100"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, ":memory:", cfg.Store.Path)
				assert.Equal(t, 3100, cfg.Server.Port)
			},
		},
		{
			name: "keys without an alias",
			env:  map[string]string{"DATAEXPORT_FETCH_CHUNK_SIZE": "50", "DATAEXPORT_FETCH_SOURCE": "catalog"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 50, cfg.Fetch.ChunkSize)
				assert.Equal(t, "catalog", cfg.Fetch.Source)
			},
		},
		{
			name: "durations",
			env: map[string]string{
				"DATAEXPORT_READ_TIMEOUT":        "45s",
				"DATAEXPORT_SHUTDOWN_TIMEOUT":    "5m",
				"DATAEXPORT_SWEEPER_STALE_AFTER": "90m",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, 5*time.Minute, cfg.Server.ShutdownTimeout)
				assert.Equal(t, 90*time.Minute, cfg.Sweeper.StaleAfter)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load(context.Background())
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoad_OverridesWinOverEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("DATAEXPORT_PORT", "4000")

	cfg, err := Load(context.Background(), map[string]any{
		"server":  map[string]any{"port": 5000, "host": "0.0.0.0"},
		"logging": map[string]any{"level": "debug"},
	})
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 4, cfg.Export.Workers)

	again, err := Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4000, again.Server.Port, "overrides do not stick between loads")
	assert.Same(t, again, GetConfig())
}

func TestLoad_ConfigFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9100
storage:
  backend: s3
  s3:
    bucket: exports
fetch:
  source: catalog
`), 0o600))

	SetConfigFile(path)
	defer SetConfigFile("")

	cfg, err := Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "s3", cfg.Storage.Backend)
	assert.Equal(t, "exports", cfg.Storage.S3.Bucket)
	assert.Equal(t, "catalog", cfg.Fetch.Source)

	t.Setenv("DATAEXPORT_SERVER_PORT", "9200")
	cfg, err = Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Server.Port)

	_, err = Load(context.Background(), map[string]any{"storage": map[string]any{"s3": map[string]any{"bucket": ""}}})
	assert.ErrorContains(t, err, "storage.s3.bucket")

	SetConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = Load(context.Background())
	assert.ErrorContains(t, err, "read config")
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	isolate(t)
	tests := []struct {
		name      string
		overrides map[string]any
		contains  string
	}{
		{"port", map[string]any{"server": map[string]any{"port": 70000}}, "server.port"},
		{"log level", map[string]any{"logging": map[string]any{"level": "loud"}}, "logging.level"},
		{"log profile", map[string]any{"logging": map[string]any{"profile": "xml"}}, "logging.profile"},
		{"backend", map[string]any{"storage": map[string]any{"backend": "ftp"}}, "storage.backend"},
		{"fetch source", map[string]any{"fetch": map[string]any{"source": "magic"}}, "fetch.source"},
		{"fetch chunk", map[string]any{"fetch": map[string]any{"chunk_size": 0}}, "fetch.chunk_size"},
		{"slice size", map[string]any{"export": map[string]any{"slice_size": 0}}, "export.slice_size"},
		{"workers", map[string]any{"export": map[string]any{"workers": -1}}, "export.workers"},
		{"tenant", map[string]any{"tenant": map[string]any{"default": ""}}, "tenant.default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(context.Background(), tt.overrides)
			assert.ErrorContains(t, err, tt.contains)
		})
	}
}

func TestLoad_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEnvSpecs(t *testing.T) {
	isolate(t)
	_, err := Load(context.Background())
	require.NoError(t, err)

	byName := map[string]string{}
	for _, spec := range getEnvSpecs() {
		byName[spec.Name] = spec.Path
	}
	assert.Len(t, byName, len(envAliases))
	assert.Equal(t, "server.port", byName["DATAEXPORT_PORT"])
	assert.Equal(t, "logging.level", byName["DATAEXPORT_LOG_LEVEL"])
	assert.Equal(t, "tenant.default", byName["DATAEXPORT_TENANT"])
	assert.Equal(t, "store.path", byName["DATAEXPORT_DB_PATH"])
}

func TestNilIdentity(t *testing.T) {
	configMu.Lock()
	saved := appIdentity
	appIdentity = nil
	configMu.Unlock()
	t.Cleanup(func() {
		configMu.Lock()
		appIdentity = saved
		configMu.Unlock()
	})

	assert.Empty(t, getEnvSpecs())
	assert.Empty(t, getUserConfigPaths())
}

func TestFindProjectRoot(t *testing.T) {
	root := moduleRoot(t)
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"no ci", map[string]string{"CI": ""}},
		{"ci without boundary", map[string]string{"CI": "true", "FULMEN_WORKSPACE_ROOT": "", "GITHUB_WORKSPACE": "", "CI_PROJECT_DIR": "", "WORKSPACE": ""}},
		{"relative boundary", map[string]string{"CI": "true", "FULMEN_WORKSPACE_ROOT": "./relative"}},
		{"missing boundary", map[string]string{"CI": "true", "FULMEN_WORKSPACE_ROOT": "/nonexistent/data-export"}},
		{"boundary elsewhere", map[string]string{"CI": "true", "FULMEN_WORKSPACE_ROOT": t.TempDir()}},
		{"github workspace", map[string]string{"GITHUB_ACTIONS": "true", "GITHUB_WORKSPACE": root}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			got, err := findProjectRoot()
			require.NoError(t, err)
			assert.Equal(t, root, got)
		})
	}
}

func TestFlatten(t *testing.T) {
	got := flatten("", map[string]any{
		"server": map[string]any{"port": 1, "nested": map[string]any{"a": "b"}},
		"top":    true,
	})
	assert.Equal(t, map[string]any{"server.port": 1, "server.nested.a": "b", "top": true}, got)
}
