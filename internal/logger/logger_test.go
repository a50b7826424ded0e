package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"detectserver/internal/config"
)

func TestNewLogger_WritesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	l, err := NewLogger(&config.Config{LogDirectory: dir})
	require.NoError(t, err)

	l.Info("stream %s started", "abc")
	l.Warning("slow consumer")
	l.Error("boom: %v", os.ErrNotExist)
	require.NoError(t, l.Close())

	data, err := os.ReadFile(filepath.Join(dir, "server.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "stream abc started")
	assert.Contains(t, string(data), "slow consumer")
	assert.Contains(t, string(data), "boom")
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	l.Info("ignored")
	l.With("stream", "x").Error("ignored")
	assert.NoError(t, l.Close())
}
