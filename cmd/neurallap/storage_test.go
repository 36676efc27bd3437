package main

import (
	"log/slog"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurallap/companion/internal/api"
	"github.com/neurallap/companion/internal/config"
	"github.com/neurallap/companion/internal/storage"
	"github.com/neurallap/companion/internal/storage/memory"
	sqlitestorage "github.com/neurallap/companion/internal/storage/sqlite"
)

func init() {
	Logger = slog.Default()
}

func TestCreateStorageBackend(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.StorageConfig
		wantNil bool
		wantErr bool
		check   func(t *testing.T, b storage.Backend)
	}{
		{name: "none", cfg: config.StorageConfig{Type: "none"}, wantNil: true},
		{name: "empty", cfg: config.StorageConfig{}, wantNil: true},
		{name: "unknown", cfg: config.StorageConfig{Type: "redis"}, wantNil: true, wantErr: true},
		{
			name: "memory",
			cfg:  config.StorageConfig{Type: "memory"},
			check: func(t *testing.T, b storage.Backend) {
				assert.IsType(t, &memory.Backend{}, b)
			},
		},
		{
			name: "sqlite in memory",
			cfg:  config.StorageConfig{Type: "SQLite"},
			check: func(t *testing.T, b storage.Backend) {
				assert.IsType(t, &sqlitestorage.Backend{}, b)
				_, ok := b.(storage.Leagues)
				assert.True(t, ok)
			},
		},
		{
			name: "api",
			cfg:  config.StorageConfig{Type: "api", API: config.APIConfig{ServerURL: "http://127.0.0.1:1"}},
			check: func(t *testing.T, b storage.Backend) {
				assert.IsType(t, &api.Client{}, b)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := createStorageBackend(tt.cfg, zerolog.Nop())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			if tt.wantNil {
				assert.Nil(t, b)
				return
			}
			require.NotNil(t, b)
			t.Cleanup(func() { _ = b.Close() })
			if tt.check != nil {
				tt.check(t, b)
			}
		})
	}
}

func TestPendingFunc(t *testing.T) {
	assert.Nil(t, pendingFunc(nil))
	assert.Nil(t, pendingFunc(memory.New(config.MemoryConfig{})))

	b, err := createStorageBackend(config.StorageConfig{Type: "sqlite"}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	require.NotNil(t, pendingFunc(b))
}
