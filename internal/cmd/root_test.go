package cmd

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/folio-org/mod-data-export/internal/config"
)

func TestSetVersionInfo(t *testing.T) {
	saved := versionInfo
	t.Cleanup(func() { versionInfo = saved })

	SetVersionInfo("5.1.0", "9f2c1ab", "2024-11-02T08:00:00Z")
	assert.Equal(t, "5.1.0", versionInfo.Version)
	assert.Equal(t, "9f2c1ab", versionInfo.Commit)
	assert.Equal(t, "2024-11-02T08:00:00Z", versionInfo.BuildDate)

	SetVersionInfo("", "", "")
	assert.Empty(t, versionInfo.Version)
}

func TestAppIdentity(t *testing.T) {
	saved := appIdentity
	t.Cleanup(func() { appIdentity = saved })

	appIdentity = nil
	assert.Nil(t, GetAppIdentity())
	assert.Equal(t, "mod-data-export", appName(), "falls back to the default binary name")

	appIdentity = &config.AppIdentity{BinaryName: "data-export-dev", EnvPrefix: "DEX", ConfigName: "dex"}
	assert.Same(t, appIdentity, GetAppIdentity())
	assert.Equal(t, "data-export-dev", appName())
}

func TestSetDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	setDefaults()

	// Server defaults
	assert.Equal(t, "localhost", viper.GetString("server.host"))
	assert.Equal(t, 8081, viper.GetInt("server.port"))
	assert.Equal(t, "30s", viper.GetString("server.read_timeout"))
	assert.Equal(t, "30s", viper.GetString("server.write_timeout"))
	assert.Equal(t, "120s", viper.GetString("server.idle_timeout"))
	assert.Equal(t, "10s", viper.GetString("server.shutdown_timeout"))

	// Logging defaults
	assert.Equal(t, "info", viper.GetString("logging.level"))
	assert.Equal(t, "structured", viper.GetString("logging.profile"))

	// Export defaults
	assert.Equal(t, 100000, viper.GetInt("export.slice_size"))
	assert.Equal(t, 1000, viper.GetInt("export.batch_size"))
	assert.Equal(t, 4, viper.GetInt("export.workers"))
	assert.Equal(t, 15, viper.GetInt("fetch.concurrency"))
	assert.Equal(t, 15, viper.GetInt("fetch.chunk_size"))
	assert.Equal(t, "1h", viper.GetString("sweeper.stale_after"))
}

func TestExitError(t *testing.T) {
	err := exitError(40, "Invalid --format value", assert.AnError)
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.True(t, strings.HasPrefix(err.Error(), "Invalid --format value: "))
	assert.True(t, strings.HasSuffix(err.Error(), "(exit code 40)"))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("plain failure")))
	assert.Equal(t, 40, ExitCode(exitError(40, "Invalid value", assert.AnError)))
	assert.Equal(t, 1, ExitCode(errors.New("odd (exit code x)")))
	assert.Equal(t, 7, ExitCode(fmt.Errorf("outer: %w", exitError(7, "inner", assert.AnError))))
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "export", "jobs", "sweep", "catalog", "file-definition", "version"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}
