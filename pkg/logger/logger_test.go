package logger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kelseyhightower/envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want zapcore.Level
	}{
		{"default", Config{}, zapcore.InfoLevel},
		{"verbose", Config{Verbose: 1}, zapcore.DebugLevel},
		{"quiet", Config{Quiet: true}, zapcore.WarnLevel},
		{"quiet wins", Config{Quiet: true, Verbose: 2}, zapcore.WarnLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lg, cleanup, err := NewLogger(tt.cfg)
			require.NoError(t, err)
			assert.True(t, lg.Core().Enabled(tt.want))
			assert.False(t, lg.Core().Enabled(tt.want-1))
			_ = cleanup(context.Background())
		})
	}
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "svpcap.log")
	lg, cleanup, err := NewLogger(Config{File: path, MaxSizeMB: 1, Quiet: true})
	require.NoError(t, err)

	lg.Warn("frame template built", zap.Int("record_len", 136))
	_ = cleanup(context.Background())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"record_len":136`), string(data))
}

func TestConfig_Env(t *testing.T) {
	t.Setenv("SVPCAP_LOG_JSON", "true")
	t.Setenv("SVPCAP_LOG_NO_COLOR", "true")
	t.Setenv("SVPCAP_LOG_VERBOSE", "2")

	var cfg Config
	require.NoError(t, envconfig.Process("svpcap_log", &cfg))
	assert.True(t, cfg.JSON)
	assert.True(t, cfg.NoColor)
	assert.Equal(t, 2, cfg.Verbose)
	assert.Equal(t, 100, cfg.MaxSizeMB)
	assert.Equal(t, 3, cfg.MaxBackups)
}
