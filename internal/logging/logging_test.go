package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogFilePath(t *testing.T) {
	sessionStart := time.Date(2026, 2, 12, 21, 38, 36, 0, time.UTC)

	tests := []struct {
		name    string
		logsDir string
		appName string
		want    string
	}{
		{
			name:    "basic path",
			logsDir: "logs",
			appName: "neurallap",
			want:    filepath.Join("logs", "neurallap.20260212_213836.log"),
		},
		{
			name:    "relative path with dot",
			logsDir: "./logs",
			appName: "neurallap",
			want:    filepath.Join(".", "logs", "neurallap.20260212_213836.log"),
		},
		{
			name:    "absolute path",
			logsDir: filepath.Join("/var", "log", "neurallap"),
			appName: "neurallap",
			want:    filepath.Join("/var", "log", "neurallap", "neurallap.20260212_213836.log"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LogFilePath(tt.logsDir, tt.appName, sessionStart)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpenLogFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	f, err := OpenLogFile(dir, "neurallap", start)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.WriteString("hello\n")
	require.NoError(t, err)

	data, err := os.ReadFile(LogFilePath(dir, "neurallap", start))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestNewZerolog(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerolog(&buf, "WARN", "storage")

	log.Info().Msg("filtered")
	log.Warn().Int("count", 3).Msg("Error creating league entries")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "storage", rec["component"])
	assert.Equal(t, "warn", rec["level"])
	assert.Equal(t, 3.0, rec["count"])
}

func TestNewZerolog_BadLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerolog(&buf, "chatty", "influx")
	log.Debug().Msg("filtered")
	log.Info().Msg("kept")
	assert.NotContains(t, buf.String(), "filtered")
	assert.Contains(t, buf.String(), "kept")
}
