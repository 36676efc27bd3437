// Package postgres implements the storage.Backend interface on PostgreSQL.
// Queueing and the writer goroutine come from the embedded GORM backend.
package postgres

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/neurallap/companion/internal/config"
	"github.com/neurallap/companion/internal/database"
	"github.com/neurallap/companion/internal/storage"
	gormstorage "github.com/neurallap/companion/internal/storage/gorm"
)

// Backend implements storage.Backend using GORM/PostgreSQL.
type Backend struct {
	*gormstorage.Backend
	mgr *database.Manager
}

// New connects to Postgres and validates the connection.
func New(cfg config.PostgresConfig, flushInterval time.Duration, log zerolog.Logger) (*Backend, error) {
	db, err := database.GetPostgresDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to postgres: %w", storage.ErrPersistence, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to access sql interface: %w", storage.ErrPersistence, err)
	}
	if err = sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("%w: failed to validate connection: %w", storage.ErrPersistence, err)
	}
	sqlDB.SetMaxOpenConns(10)
	log.Info().Str("host", cfg.Host).Str("database", cfg.Database).Msg("Connected to Postgres")

	return &Backend{
		Backend: gormstorage.New(gormstorage.Dependencies{
			DB:            db,
			Logger:        log,
			FlushInterval: flushInterval,
		}),
		mgr: &database.Manager{DB: db, SqlDB: sqlDB, IsValid: true, Logger: log},
	}, nil
}

// Close flushes pending rows and closes the connection pool.
func (b *Backend) Close() error {
	if err := b.Backend.Close(); err != nil {
		return err
	}
	return b.mgr.Close()
}
