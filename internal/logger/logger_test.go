package logger

import (
	"os"
	"path/filepath"
	"testing"

	"binance-grid-bot-go/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	t.Run("InvalidLevel", func(t *testing.T) {
		_, err := NewLogger(config.Logger{Level: "loud"})
		assert.Error(t, err)
	})

	t.Run("Console", func(t *testing.T) {
		log, err := NewLogger(config.Logger{Level: "debug", Format: "console"})
		require.NoError(t, err)
		assert.NotNil(t, log)
	})

	t.Run("RotatingFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bot.log")
		log, err := NewLogger(config.Logger{Level: "info", Format: "json", File: path, MaxSize: 1})
		require.NoError(t, err)

		log.Info("grid bot started")
		_ = log.Sync()

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "grid bot started")
	})
}
