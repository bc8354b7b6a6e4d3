package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/amirphl/plotshare/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plotshare.log")

	log, sync, err := New(config.LoggingConfig{
		Level:      "info",
		Format:     "json",
		FilePath:   path,
		MaxSize:    1,
		MaxBackups: 1,
	})
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("hold placed", zap.Uint("plot_id", 7))
	sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "hold placed", entry["msg"])
	assert.Equal(t, float64(7), entry["plot_id"])
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, _, err := New(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}
