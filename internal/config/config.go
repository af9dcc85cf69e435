// Package config loads the layered service configuration.
package config

import "time"

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tenant   TenantConfig   `mapstructure:"tenant"`
	Store    StoreConfig    `mapstructure:"store"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Staging  StagingConfig  `mapstructure:"staging"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Export   ExportConfig   `mapstructure:"export"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Search   SearchConfig   `mapstructure:"search"`
	Sweeper  SweeperConfig  `mapstructure:"sweeper"`
	Profiles ProfilesConfig `mapstructure:"profiles"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `mapstructure:"level"`

	// Profile is structured (JSON) or console.
	Profile string `mapstructure:"profile"`
}

// TenantConfig names the tenant this process exports for.
type TenantConfig struct {
	Default string `mapstructure:"default"`

	// Central is the consortium central tenant. Empty when the tenant is
	// not part of a consortium.
	Central string `mapstructure:"central"`
}

type StoreConfig struct {
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

type StorageConfig struct {
	// Backend is local or s3.
	Backend string             `mapstructure:"backend"`
	Local   LocalStorageConfig `mapstructure:"local"`
	S3      S3StorageConfig    `mapstructure:"s3"`
}

type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

type S3StorageConfig struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Profile         string `mapstructure:"profile"`
}

type StagingConfig struct {
	Dir string `mapstructure:"dir"`
}

type GatewayConfig struct {
	URL       string        `mapstructure:"url"`
	Token     string        `mapstructure:"token"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
	Burst     int           `mapstructure:"burst"`
}

type ExportConfig struct {
	SliceSize    int           `mapstructure:"slice_size"`
	BatchSize    int           `mapstructure:"batch_size"`
	Workers      int           `mapstructure:"workers"`
	SliceTimeout time.Duration `mapstructure:"slice_timeout"`

	// ProgressInterval is how often running jobs refresh their counters.
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
}

type FetchConfig struct {
	// Source is gateway (record store over HTTP) or catalog (local replica).
	Source      string        `mapstructure:"source"`
	Concurrency int           `mapstructure:"concurrency"`
	ChunkSize   int           `mapstructure:"chunk_size"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type RetryConfig struct {
	MaxRetries      uint64        `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

type SearchConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
}

type SweeperConfig struct {
	ExpirationInterval time.Duration `mapstructure:"expiration_interval"`
	CleanupInterval    time.Duration `mapstructure:"cleanup_interval"`
	StaleAfter         time.Duration `mapstructure:"stale_after"`
	FileDefinitionTTL  time.Duration `mapstructure:"file_definition_ttl"`
}

type ProfilesConfig struct {
	Dir string `mapstructure:"dir"`
}
