// Package cmd implements the mod-data-export command line.
package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/folio-org/mod-data-export/internal/config"
	"github.com/folio-org/mod-data-export/internal/observability"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

var appIdentity *config.AppIdentity

var (
	cfgFile    string
	verbose    bool
	tenantFlag string
)

var rootCmd = &cobra.Command{
	Use:   "mod-data-export",
	Short: "Export catalog records as MARC files",
	Long: `mod-data-export turns identifier uploads, queries and whole-catalog
requests into sliced MARC export jobs.

Run 'mod-data-export serve' for the HTTP service, or use the export, jobs
and sweep commands against the same database directly.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		observability.InitCLILogger(appName(), verbose)
		if cfgFile != "" {
			config.SetConfigFile(cfgFile)
		}
	},
}

// SetVersionInfo records build metadata injected by the linker.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// GetAppIdentity returns the identity set up by Execute, or nil.
func GetAppIdentity() *config.AppIdentity {
	return appIdentity
}

// Execute runs the root command.
func Execute() error {
	if appIdentity == nil {
		id := config.DefaultIdentity
		appIdentity = &id
	}
	setDefaults()
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./config/mod-data-export.yaml or the user config dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")
	rootCmd.PersistentFlags().StringVar(&tenantFlag, "tenant", "", "Tenant to act for (overrides tenant.default)")
}

// setDefaults mirrors the configuration defaults into the global viper
// instance so flags bound to it report the same values.
func setDefaults() {
	for key, value := range config.Defaults() {
		viper.SetDefault(key, value)
	}
}

func appName() string {
	if appIdentity != nil && appIdentity.BinaryName != "" {
		return appIdentity.BinaryName
	}
	return config.DefaultIdentity.BinaryName
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return fmt.Errorf("%s: %w (exit code %d)", message, err, code)
}

// ExitCode extracts the code embedded by exitError, or 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	msg := err.Error()
	const marker = "(exit code "
	i := strings.LastIndex(msg, marker)
	if i < 0 || !strings.HasSuffix(msg, ")") {
		return 1
	}
	code, convErr := strconv.Atoi(msg[i+len(marker) : len(msg)-1])
	if convErr != nil || code <= 0 {
		return 1
	}
	return code
}
