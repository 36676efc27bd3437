package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurallap/companion/internal/dispatcher"
)

var _ dispatcher.Logger = (*DispatcherLogger)(nil)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestDispatcherLogger_Levels(t *testing.T) {
	tests := []struct {
		level string
		log   func(*DispatcherLogger)
	}{
		{"debug", func(l *DispatcherLogger) { l.Debug("handling event", "command", "debug_command") }},
		{"info", func(l *DispatcherLogger) { l.Info("handling event", "command", "debug_command") }},
		{"warn", func(l *DispatcherLogger) { l.Warn("handling event", "command", "debug_command") }},
		{"error", func(l *DispatcherLogger) { l.Error("handling event", "command", "debug_command") }},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			tt.log(NewDispatcherLogger(zerolog.New(&buf).Level(zerolog.DebugLevel)))

			entry := decodeLine(t, &buf)
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, "handling event", entry["message"])
			assert.Equal(t, "debug_command", entry["command"])
		})
	}
}

func TestDispatcherLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	l := NewDispatcherLogger(zerolog.New(&buf))

	l.Info("event complete", "bytes", 42, "client", "c1", 7, "ignored", "dangling")

	entry := decodeLine(t, &buf)
	assert.Equal(t, float64(42), entry["bytes"])
	assert.Equal(t, "c1", entry["client"])
	assert.NotContains(t, entry, "dangling")
}

func TestDispatcherLogger_ErrorField(t *testing.T) {
	var buf bytes.Buffer
	l := NewDispatcherLogger(zerolog.New(&buf))

	l.Error("event failed", "error", errors.New("queue full"))

	entry := decodeLine(t, &buf)
	assert.Equal(t, "queue full", entry["error"])
}

func TestDispatcherLogger_LevelFiltered(t *testing.T) {
	var buf bytes.Buffer
	l := NewDispatcherLogger(zerolog.New(&buf).Level(zerolog.InfoLevel))

	l.Debug("handling event", "command", "debug_command")
	assert.Zero(t, buf.Len())
}
