package logging

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	mu   sync.Mutex
	msgs []*gelf.Message
}

func (w *captureWriter) WriteMessage(m *gelf.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, m)
	return nil
}

func TestGELFHandler_Fields(t *testing.T) {
	w := &captureWriter{}
	logger := slog.New(NewGELFHandler(w, slog.LevelInfo)).With("source", "iracing")

	logger.Debug("filtered")
	logger.WithGroup("engine").Warn("Source read failed", "kind", "malformed", "ticks", 42, "id", 7)

	require.Len(t, w.msgs, 1)
	m := w.msgs[0]
	assert.Equal(t, "Source read failed", m.Short)
	assert.Equal(t, int32(4), m.Level)
	assert.Equal(t, "1.1", m.Version)
	assert.Equal(t, "iracing", m.Extra["source"])
	assert.Equal(t, "malformed", m.Extra["engine_kind"])
	assert.Equal(t, int64(42), m.Extra["engine_ticks"])
	assert.Equal(t, int64(7), m.Extra["engine_id"])
}

func TestGELFHandler_ReservedID(t *testing.T) {
	w := &captureWriter{}
	slog.New(NewGELFHandler(w, slog.LevelDebug)).Info("x", "id", "abc")

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "abc", w.msgs[0].Extra["_id_"])
	assert.NotContains(t, w.msgs[0].Extra, "id")
}

func TestSyslogLevel(t *testing.T) {
	assert.Equal(t, int32(7), syslogLevel(slog.LevelDebug))
	assert.Equal(t, int32(6), syslogLevel(slog.LevelInfo))
	assert.Equal(t, int32(4), syslogLevel(slog.LevelWarn))
	assert.Equal(t, int32(3), syslogLevel(slog.LevelError))
}

func TestSetup_WithGELFAndContext(t *testing.T) {
	w := &captureWriter{}
	var buf bytes.Buffer

	m := NewSlogManager()
	m.Setup(&buf, "info", nil,
		WithGELF(w),
		WithContext(func() []slog.Attr {
			return []slog.Attr{slog.String("engine_state", "connected")}
		}),
	)
	m.Logger().Info("frame published")

	assert.Contains(t, buf.String(), "engine_state=connected")
	require.Len(t, w.msgs, 2) // "Logging initialized" plus ours
	assert.Equal(t, "connected", w.msgs[1].Extra["engine_state"])
}
