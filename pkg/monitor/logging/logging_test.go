package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"ERROR", LevelError, false},
		{"bogus", LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.input)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidLevel, tt.input)
			continue
		}
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, got, tt.input)
	}
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "debug", LevelDebug.String())
	assert.Equal(t, "info", LevelInfo.String())
	assert.Equal(t, "warn", LevelWarn.String())
	assert.Equal(t, "error", LevelError.String())
}

func TestInitAndWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imgmond.log")

	require.NoError(t, Init(Config{Level: "info", Path: path}))
	t.Cleanup(func() { _ = Close() })

	logger := Get("pipeline")
	logger.Info("upload complete", "path", "/cam/a.jpg")
	logger.Debug("should be filtered at info level")

	require.NoError(t, Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "upload complete")
	assert.Contains(t, string(data), "/cam/a.jpg")
	assert.NotContains(t, string(data), "should be filtered")
}

func TestComponentLevelOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imgmond.log")

	require.NoError(t, Init(Config{
		Level:      "debug",
		Path:       path,
		Components: map[string]string{"watcher": "error"},
	}))
	t.Cleanup(func() { _ = Close() })

	Get("watcher").Info("noisy watcher detail")
	Get("pipeline").Debug("pipeline detail")

	require.NoError(t, Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "noisy watcher detail")
	assert.Contains(t, string(data), "pipeline detail")
}

func TestGetBeforeInitIsSilent(t *testing.T) {
	require.NoError(t, Close())

	// Must not panic or write anywhere.
	Get("early").Info("spoken into the void")
}

func TestInitRejectsBadLevel(t *testing.T) {
	err := Init(Config{Level: "loud"})
	require.Error(t, err)
}

func TestWithAddsContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imgmond.log")

	require.NoError(t, Init(Config{Level: "info", Path: path}))
	t.Cleanup(func() { _ = Close() })

	Get("uploader").With("attempt", 2).Info("retrying")

	require.NoError(t, Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "retrying")
	assert.Contains(t, string(data), "attempt")
}
