package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "grimoire.log")

	log, err := New("info", path)
	require.NoError(t, err)
	log.Debug("hidden")
	log.Info("socket transport listening", zap.String("addr", "/tmp/x.sock"))
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "socket transport listening", entry["msg"])
	assert.Equal(t, "/tmp/x.sock", entry["addr"])
	assert.Contains(t, entry, "ts")
}

func TestNewInvalidLevel(t *testing.T) {
	_, err := New("verbose", "")
	assert.Error(t, err)
}
