// Package observability builds the process loggers.
package observability

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the stderr logger used by CLI commands. It is a no-op
// logger until InitCLILogger runs.
var CLILogger = zap.NewNop()

// LoggingConfig selects the level and the encoder profile.
type LoggingConfig struct {
	Level   string
	Profile string
}

// NewLogger builds a logger for the given profile: structured writes JSON,
// console writes human readable lines.
func NewLogger(cfg LoggingConfig, service string) (*zap.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var zc zap.Config
	switch strings.ToLower(cfg.Profile) {
	case "", "structured":
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "ts"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case "console":
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("unknown logging profile %q", cfg.Profile)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	if service != "" {
		logger = logger.With(zap.String("service", service))
	}
	return logger, nil
}

// InitCLILogger replaces CLILogger with a console logger at info level,
// or debug level when verbose is set.
func InitCLILogger(name string, verbose bool) {
	level := "info"
	if verbose {
		level = "debug"
	}
	logger, err := NewLogger(LoggingConfig{Level: level, Profile: "console"}, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		return
	}
	CLILogger = logger.Named(name)
}

func parseLevel(v string) (zapcore.Level, error) {
	if v == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(v))); err != nil {
		return level, fmt.Errorf("invalid log level %q: %w", v, err)
	}
	return level, nil
}
