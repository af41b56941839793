package applog

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureRejectsUnknownLevel(t *testing.T) {
	_, err := Configure("loud", "", slog.HandlerOptions{})
	assert.Error(t, err)
}

func TestConfigureNoneDiscardsWithoutError(t *testing.T) {
	fp, err := Configure("none", "", slog.HandlerOptions{})
	require.NoError(t, err)
	assert.Nil(t, fp)
}

func TestConfigureWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crasd.log")
	fp, err := Configure("debug", path, slog.HandlerOptions{})
	require.NoError(t, err)
	require.NotNil(t, fp)
	defer fp.Close()

	slog.Info("hello", "k", "v")
	require.NoError(t, fp.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}
