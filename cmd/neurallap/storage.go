package main

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/neurallap/companion/internal/api"
	"github.com/neurallap/companion/internal/config"
	"github.com/neurallap/companion/internal/storage"
	"github.com/neurallap/companion/internal/storage/memory"
	pgstorage "github.com/neurallap/companion/internal/storage/postgres"
	sqlitestorage "github.com/neurallap/companion/internal/storage/sqlite"

	// adapters register themselves with the source registry
	_ "github.com/neurallap/companion/internal/source/iracing"
	_ "github.com/neurallap/companion/internal/source/lmu"
)

// initStorage creates and initializes the configured backend. Lap
// persistence is best-effort, so failures leave the companion running
// without a store.
func initStorage(log zerolog.Logger) storage.Backend {
	storageCfg := config.GetStorageConfig()

	backend, err := createStorageBackend(storageCfg, log)
	if err != nil {
		Logger.Error("Failed to create storage backend", "type", storageCfg.Type, "error", err)
		return nil
	}
	if backend == nil {
		Logger.Info("Lap storage disabled")
		return nil
	}
	if err := backend.Init(); err != nil {
		Logger.Error("Failed to initialize storage backend", "type", storageCfg.Type, "error", err)
		_ = backend.Close()
		return nil
	}
	Logger.Info("Storage backend initialized", "type", storageCfg.Type)
	return backend
}

func createStorageBackend(storageCfg config.StorageConfig, log zerolog.Logger) (storage.Backend, error) {
	switch strings.ToLower(storageCfg.Type) {
	case "", "none":
		return nil, nil

	case "postgres":
		backend, err := pgstorage.New(storageCfg.Postgres, storageCfg.FlushInterval, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create Postgres backend: %w", err)
		}
		return backend, nil

	case "sqlite":
		backend, err := sqlitestorage.New(storageCfg.SQLite, storageCfg.FlushInterval, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		return backend, nil

	case "api":
		client := api.New(storageCfg.API.ServerURL, storageCfg.API.APIKey)
		if err := client.Healthcheck(); err != nil {
			Logger.Info("League service is offline, submissions will be retried per lap", "url", storageCfg.API.ServerURL)
		} else {
			Logger.Info("League service is online", "url", storageCfg.API.ServerURL)
		}
		return client, nil

	case "memory":
		return memory.New(storageCfg.Memory), nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", storageCfg.Type)
	}
}
