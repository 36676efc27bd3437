// Package sqlitestorage implements the storage.Backend interface on a SQLite
// file, or an in-memory database when no path is set. It wraps the GORM
// backend via composition; the SQLite-specific concerns are opening the
// database and the periodic VACUUM INTO backup.
package sqlitestorage

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/neurallap/companion/internal/config"
	"github.com/neurallap/companion/internal/database"
	"github.com/neurallap/companion/internal/storage"
	gormstorage "github.com/neurallap/companion/internal/storage/gorm"
)

// Backend wraps the GORM backend for SQLite-specific behavior.
type Backend struct {
	*gormstorage.Backend
	mgr      *database.Manager
	cfg      config.SQLiteConfig
	log      zerolog.Logger
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New opens the SQLite database named in cfg.
func New(cfg config.SQLiteConfig, flushInterval time.Duration, log zerolog.Logger) (*Backend, error) {
	mgr := database.NewManager(log)
	if err := mgr.ConnectSqlite(cfg.Path); err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrPersistence, err)
	}

	return &Backend{
		Backend: gormstorage.New(gormstorage.Dependencies{
			DB:            mgr.DB,
			Logger:        log,
			FlushInterval: flushInterval,
		}),
		mgr:      mgr,
		cfg:      cfg,
		log:      log,
		stopChan: make(chan struct{}),
	}, nil
}

// Init initializes the embedded GORM backend and starts the backup goroutine.
func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}

	if b.cfg.BackupPath != "" && b.cfg.BackupInterval > 0 {
		b.wg.Add(1)
		go b.backupLoop()
	}
	return nil
}

// Close stops the backup goroutine, flushes the GORM backend, writes a final
// backup and closes the database.
func (b *Backend) Close() error {
	b.stopOnce.Do(func() { close(b.stopChan) })
	b.wg.Wait()

	if err := b.Backend.Close(); err != nil {
		return err
	}
	if b.cfg.BackupPath != "" {
		if err := b.Backup(); err != nil {
			b.log.Error().Err(err).Msg("Final backup failed")
		}
	}
	return b.mgr.Close()
}

// Backup writes a point-in-time copy of the database to the backup path.
func (b *Backend) Backup() error {
	if err := b.mgr.DumpToDisk(b.cfg.BackupPath); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrPersistence, err)
	}
	return nil
}

// backupLoop periodically dumps the database to disk via VACUUM INTO.
// VACUUM INTO creates a point-in-time snapshot, so no pause mechanism is needed.
func (b *Backend) backupLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.BackupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			start := time.Now()
			if err := b.Backup(); err != nil {
				b.log.Error().Err(err).Msg("Error dumping to disk")
			} else {
				b.log.Debug().Dur("took", time.Since(start)).Msg("Dumped to disk")
			}
		}
	}
}
