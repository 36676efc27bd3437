package sqlitestorage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurallap/companion/internal/config"
	"github.com/neurallap/companion/internal/storage"
	"github.com/neurallap/companion/pkg/core"
)

var (
	_ storage.Backend = (*Backend)(nil)
	_ storage.Leagues = (*Backend)(nil)
)

func TestFileBackend_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "laps.db")
	cfg := config.SQLiteConfig{Path: path}
	ctx := context.Background()

	b, err := New(cfg, time.Hour, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, b.Init())
	require.NoError(t, b.SubmitLap(ctx, core.LapSubmission{LeagueID: 1, Driver: "A", LapTime: 91.2}))
	require.NoError(t, b.Close())

	b, err = New(cfg, time.Hour, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, b.Init())
	defer b.Close()

	entries, err := b.Entries(ctx, 1, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 91.2, entries[0].LapTime)
}

func TestMemoryBackend_BackupOnClose(t *testing.T) {
	backup := filepath.Join(t.TempDir(), "backup.db")
	cfg := config.SQLiteConfig{BackupPath: backup}

	b, err := New(cfg, time.Hour, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, b.Init())
	require.NoError(t, b.SubmitLap(context.Background(), core.LapSubmission{LeagueID: 1, LapTime: 90}))
	require.NoError(t, b.Close())

	info, err := os.Stat(backup)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	// the backup is a usable database
	restored, err := New(config.SQLiteConfig{Path: backup}, time.Hour, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, restored.Init())
	defer restored.Close()
	entries, err := restored.Entries(context.Background(), 1, "")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestBackupLoop(t *testing.T) {
	backup := filepath.Join(t.TempDir(), "periodic.db")
	cfg := config.SQLiteConfig{BackupPath: backup, BackupInterval: 10 * time.Millisecond}

	b, err := New(cfg, time.Hour, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, b.Init())
	defer b.Close()

	assert.Eventually(t, func() bool {
		_, err := os.Stat(backup)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}
