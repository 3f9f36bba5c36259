package observability

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cory-johannsen/lobby/internal/config"
)

func TestNewLogger_JSON(t *testing.T) {
	cfg := config.LoggingConfig{Level: "info", Format: "json"}
	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	assert.NotNil(t, logger)
	assert.False(t, logger.Core().Enabled(-1), "debug must be disabled at info level")
}

func TestNewLogger_Console(t *testing.T) {
	cfg := config.LoggingConfig{Level: "debug", Format: "console"}
	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	cfg := config.LoggingConfig{Level: "trace", Format: "json"}
	_, err := NewLogger(cfg)
	assert.Error(t, err)
}

func TestNewLogger_InvalidFormat(t *testing.T) {
	cfg := config.LoggingConfig{Level: "info", Format: "xml"}
	_, err := NewLogger(cfg)
	assert.Error(t, err)
}

func readEntries(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		entries = append(entries, entry)
	}
	require.NoError(t, scanner.Err())
	return entries
}

func TestNewLogger_OutputPathAndComponent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lobby.log")
	logger, err := NewLogger(config.LoggingConfig{Level: "info", Format: "json", OutputPaths: []string{path}})
	require.NoError(t, err)

	logger.With(zap.String("conn_id", "c1")).Info("client connected")
	_ = logger.Sync()

	entries := readEntries(t, path)
	require.Len(t, entries, 1)
	assert.Equal(t, "lobby", entries[0]["component"])
	assert.Equal(t, "c1", entries[0]["conn_id"])
	assert.Equal(t, "client connected", entries[0]["msg"])
}

func TestNewLogger_SamplingDisabledKeepsEveryEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lobby.log")
	logger, err := NewLogger(config.LoggingConfig{Level: "info", Format: "json", OutputPaths: []string{path}})
	require.NoError(t, err)

	for i := 0; i < 2*sampleInitial; i++ {
		logger.Warn("unknown command; frame discarded")
	}
	_ = logger.Sync()
	assert.Len(t, readEntries(t, path), 2*sampleInitial)
}

func TestNewLogger_SamplingDropsRepeatedEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lobby.log")
	logger, err := NewLogger(config.LoggingConfig{Level: "info", Format: "json", OutputPaths: []string{path}, Sampling: true})
	require.NoError(t, err)

	total := sampleInitial + 3*sampleThereafter
	for i := 0; i < total; i++ {
		logger.Warn("unknown command; frame discarded")
	}
	_ = logger.Sync()

	n := len(readEntries(t, path))
	assert.GreaterOrEqual(t, n, sampleInitial)
	assert.Less(t, n, total)
}
