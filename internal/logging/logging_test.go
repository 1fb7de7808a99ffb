package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbscout/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, ParseLevel(in))
		})
	}
}

func TestNew(t *testing.T) {
	t.Run("json to stdout only", func(t *testing.T) {
		var buf bytes.Buffer
		logger, closer, err := New(config.LogConfig{Level: "warn", Format: "json"}, &buf)
		require.NoError(t, err)
		defer closer.Close()

		logger.Info("dropped")
		logger.Warn("kept", "symbol", "XUSDT")
		assert.NotContains(t, buf.String(), "dropped")
		assert.Contains(t, buf.String(), `"symbol":"XUSDT"`)
	})

	t.Run("text to stdout and rotated file", func(t *testing.T) {
		var buf bytes.Buffer
		path := filepath.Join(t.TempDir(), "logs", "arbscout.log")
		logger, closer, err := New(config.LogConfig{Level: "info", File: path, MaxSizeMB: 1, MaxBackups: 1}, &buf)
		require.NoError(t, err)

		logger.Info("Cycle finished", "opportunities", 2)
		require.NoError(t, closer.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "opportunities=2")
		assert.Contains(t, buf.String(), "opportunities=2")
	})
}
