package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// AppIdentity names the application for config discovery and env vars.
type AppIdentity struct {
	BinaryName string
	ConfigName string
	EnvPrefix  string
}

// DefaultIdentity is the identity of the mod-data-export binary.
var DefaultIdentity = AppIdentity{
	BinaryName: "mod-data-export",
	ConfigName: "mod-data-export",
	EnvPrefix:  "DATAEXPORT",
}

var (
	configMu    sync.RWMutex
	appIdentity *AppIdentity
	appConfig   *Config
	configFile  string
)

// envSpec maps a short environment variable onto a config path. Every key
// is also reachable as <PREFIX>_<PATH> with dots replaced by underscores.
type envSpec struct {
	Name string
	Path string
}

var envAliases = []struct{ suffix, path string }{
	{"HOST", "server.host"},
	{"PORT", "server.port"},
	{"READ_TIMEOUT", "server.read_timeout"},
	{"WRITE_TIMEOUT", "server.write_timeout"},
	{"IDLE_TIMEOUT", "server.idle_timeout"},
	{"SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},
	{"LOG_LEVEL", "logging.level"},
	{"LOG_PROFILE", "logging.profile"},
	{"TENANT", "tenant.default"},
	{"CENTRAL_TENANT", "tenant.central"},
	{"DB_PATH", "store.path"},
	{"DB_URL", "store.url"},
	{"DB_AUTH_TOKEN", "store.auth_token"},
	{"STORAGE_BACKEND", "storage.backend"},
	{"S3_BUCKET", "storage.s3.bucket"},
	{"S3_REGION", "storage.s3.region"},
	{"S3_ENDPOINT", "storage.s3.endpoint"},
	{"STAGING_DIR", "staging.dir"},
	{"GATEWAY_URL", "gateway.url"},
	{"GATEWAY_TOKEN", "gateway.token"},
	{"WORKERS", "export.workers"},
	{"SLICE_SIZE", "export.slice_size"},
}

// Defaults returns every config key with its default value.
func Defaults() map[string]any {
	name := DefaultIdentity.ConfigName
	dataDir := gfconfig.GetAppDataDir(name)
	return map[string]any{
		"server.host":             "localhost",
		"server.port":             8081,
		"server.read_timeout":     "30s",
		"server.write_timeout":    "30s",
		"server.idle_timeout":     "120s",
		"server.shutdown_timeout": "10s",

		"logging.level":   "info",
		"logging.profile": "structured",

		"tenant.default": "diku",
		"tenant.central": "",

		"store.path":       filepath.Join(dataDir, "data-export.db"),
		"store.url":        "",
		"store.auth_token": "",

		"storage.backend":              "local",
		"storage.local.base_dir":       filepath.Join(dataDir, "storage"),
		"storage.s3.bucket":            "",
		"storage.s3.prefix":            "",
		"storage.s3.region":            "",
		"storage.s3.endpoint":          "",
		"storage.s3.force_path_style":  false,
		"storage.s3.access_key_id":     "",
		"storage.s3.secret_access_key": "",
		"storage.s3.profile":           "",

		"staging.dir": filepath.Join(os.TempDir(), name),

		"gateway.url":        "http://localhost:9130",
		"gateway.token":      "",
		"gateway.timeout":    "60s",
		"gateway.rate_limit": 50,
		"gateway.burst":      10,

		"export.slice_size":        100000,
		"export.batch_size":        1000,
		"export.workers":           4,
		"export.slice_timeout":     "0s",
		"export.progress_interval": "30s",

		"fetch.source":      "gateway",
		"fetch.concurrency": 15,
		"fetch.chunk_size":  15,
		"fetch.timeout":     "1h",

		"retry.max_retries":      3,
		"retry.initial_interval": "250ms",
		"retry.max_interval":     "10s",

		"search.poll_interval": "2s",
		"search.poll_timeout":  "30m",

		"sweeper.expiration_interval": "10m",
		"sweeper.cleanup_interval":    "24h",
		"sweeper.stale_after":         "1h",
		"sweeper.file_definition_ttl": "24h",

		"profiles.dir": "",
	}
}

// SetConfigFile sets an explicit YAML file used instead of discovery.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// Load builds the configuration. Precedence, highest first: overrides,
// environment, config file, defaults.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	defer configMu.Unlock()

	if appIdentity == nil {
		id := DefaultIdentity
		appIdentity = &id
	}

	v := viper.New()
	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}

	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else {
		for _, p := range getUserConfigPaths() {
			if _, err := os.Stat(p); err != nil {
				continue
			}
			v.SetConfigFile(p)
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", p, err)
			}
		}
	}

	v.SetEnvPrefix(appIdentity.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// An explicit binding disables the automatic name for that key, so the
	// canonical <PREFIX>_<PATH> name is bound first and the alias second.
	for _, spec := range getEnvSpecs() {
		canonical := appIdentity.EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(spec.Path, ".", "_"))
		if err := v.BindEnv(spec.Path, canonical, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, value := range flatten("", o) {
			v.Set(key, value)
		}
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.Logging.Profile = strings.ToLower(cfg.Logging.Profile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	appConfig = &cfg
	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q must be debug, info, warn or error", c.Logging.Level))
	}
	switch c.Logging.Profile {
	case "structured", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.profile %q must be structured or console", c.Logging.Profile))
	}
	switch c.Storage.Backend {
	case "local":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			errs = append(errs, errors.New("storage.s3.bucket is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q must be local or s3", c.Storage.Backend))
	}
	switch c.Fetch.Source {
	case "gateway", "catalog":
	default:
		errs = append(errs, fmt.Errorf("fetch.source %q must be gateway or catalog", c.Fetch.Source))
	}
	if c.Export.SliceSize <= 0 {
		errs = append(errs, errors.New("export.slice_size must be positive"))
	}
	if c.Export.BatchSize <= 0 {
		errs = append(errs, errors.New("export.batch_size must be positive"))
	}
	if c.Export.Workers <= 0 {
		errs = append(errs, errors.New("export.workers must be positive"))
	}
	if c.Fetch.Concurrency <= 0 || c.Fetch.ChunkSize <= 0 {
		errs = append(errs, errors.New("fetch.concurrency and fetch.chunk_size must be positive"))
	}
	if c.Tenant.Default == "" {
		errs = append(errs, errors.New("tenant.default is required"))
	}
	return errors.Join(errs...)
}

func getEnvSpecs() []envSpec {
	if appIdentity == nil {
		return nil
	}
	specs := make([]envSpec, 0, len(envAliases))
	for _, a := range envAliases {
		specs = append(specs, envSpec{Name: appIdentity.EnvPrefix + "_" + a.suffix, Path: a.path})
	}
	return specs
}

// getUserConfigPaths lists candidate config files, lowest precedence first.
func getUserConfigPaths() []string {
	if appIdentity == nil {
		return nil
	}
	var paths []string
	if root, err := findProjectRoot(); err == nil {
		paths = append(paths, filepath.Join(root, "config", appIdentity.ConfigName+".yaml"))
	}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, appIdentity.ConfigName, "config.yaml"))
	}
	return paths
}

var boundaryVars = []string{"FULMEN_WORKSPACE_ROOT", "GITHUB_WORKSPACE", "CI_PROJECT_DIR", "WORKSPACE"}

// findProjectRoot walks up from the working directory to the nearest
// go.mod. On CI the walk stops at the workspace boundary when one is
// advertised; without a go.mod the working directory is returned.
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	boundary := ""
	if os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true" {
		boundary = ciBoundary(cwd)
	}

	dir := cwd
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		if dir == boundary {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	if boundary != "" {
		return boundary, nil
	}
	return cwd, nil
}

func ciBoundary(cwd string) string {
	for _, name := range boundaryVars {
		b := os.Getenv(name)
		if b == "" || !filepath.IsAbs(b) {
			continue
		}
		b = filepath.Clean(b)
		if info, err := os.Stat(b); err != nil || !info.IsDir() {
			continue
		}
		rel, err := filepath.Rel(b, cwd)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return b
	}
	return ""
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := m[k].(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = m[k]
	}
	return out
}
