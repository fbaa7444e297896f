package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pinbar-backtest/services/config"
)

func TestBuildWritesJSONToBothSinks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "pinbar.log")
	var stdout bytes.Buffer

	logger, closeFile, err := build(config.LoggingConfig{Level: "info", File: path, MaxSizeMB: 1}, &stdout)
	require.NoError(t, err)
	logger.Debug("hidden")
	logger.Info("Backtest completed", zap.Int("trades", 3))
	require.NoError(t, logger.Sync())
	require.NoError(t, closeFile())

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "Backtest completed", entry["msg"])
	assert.EqualValues(t, 3, entry["trades"])

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"trades":3`)
}

func TestBuildRejectsLevel(t *testing.T) {
	_, _, err := build(config.LoggingConfig{Level: "loud"}, &bytes.Buffer{})
	require.Error(t, err)
}
