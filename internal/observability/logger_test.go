package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LoggingConfig
		level   zapcore.Level
		wantErr bool
	}{
		{name: "defaults", cfg: LoggingConfig{}, level: zapcore.InfoLevel},
		{name: "structured debug", cfg: LoggingConfig{Level: "debug", Profile: "structured"}, level: zapcore.DebugLevel},
		{name: "console warn", cfg: LoggingConfig{Level: "WARN", Profile: "console"}, level: zapcore.WarnLevel},
		{name: "bad level", cfg: LoggingConfig{Level: "loud"}, wantErr: true},
		{name: "bad profile", cfg: LoggingConfig{Profile: "xml"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.cfg, "mod-data-export")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.level))
			assert.False(t, logger.Core().Enabled(tt.level-1))
		})
	}
}

func TestInitCLILogger(t *testing.T) {
	orig := CLILogger
	defer func() { CLILogger = orig }()

	InitCLILogger("test", true)
	assert.True(t, CLILogger.Core().Enabled(zapcore.DebugLevel))

	InitCLILogger("test", false)
	assert.False(t, CLILogger.Core().Enabled(zapcore.DebugLevel))
}
