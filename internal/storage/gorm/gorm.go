// Package gormstorage implements the storage.Backend interface on top of GORM
// with internal queues and a background DB writer goroutine. The sqlite and
// postgres backends embed it and only differ in how the connection is made.
package gormstorage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/neurallap/companion/internal/database"
	"github.com/neurallap/companion/internal/model"
	"github.com/neurallap/companion/internal/model/convert"
	"github.com/neurallap/companion/internal/queue"
	"github.com/neurallap/companion/internal/storage"
	"github.com/neurallap/companion/pkg/core"
)

const (
	// DefaultFlushInterval is used when Dependencies.FlushInterval is zero.
	DefaultFlushInterval = 2 * time.Second
	// DefaultMaxPending caps each write queue when Dependencies.MaxPending
	// is zero.
	DefaultMaxPending = 10000
)

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB            *gorm.DB
	Logger        zerolog.Logger
	FlushInterval time.Duration
	MaxPending    int
	Now           func() time.Time
}

// queues holds the write queues for batch DB insertion.
type queues struct {
	Entries *queue.Queue[model.LeagueEntry]
	Laps    *queue.Queue[model.LapRecord]
}

func newQueues(limit int) *queues {
	return &queues{
		Entries: queue.New[model.LeagueEntry](limit),
		Laps:    queue.New[model.LapRecord](limit),
	}
}

// Backend implements storage.Backend using GORM with queue-based batch writes.
type Backend struct {
	deps     Dependencies
	queues   *queues
	stopChan chan struct{}
	done     chan struct{}
	closeMu  sync.Mutex
	flushMu  sync.Mutex
}

var (
	_ storage.Backend = (*Backend)(nil)
	_ storage.Leagues = (*Backend)(nil)
)

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = DefaultFlushInterval
	}
	if deps.MaxPending <= 0 {
		deps.MaxPending = DefaultMaxPending
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Backend{
		deps:   deps,
		queues: newQueues(deps.MaxPending),
	}
}

// Init runs schema migration and starts the DB writer goroutine.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return fmt.Errorf("%w: no database connection", storage.ErrPersistence)
	}
	if err := database.Migrate(b.deps.DB); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrPersistence, err)
	}

	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})
	go b.writer()

	b.deps.Logger.Debug().Dur("flushInterval", b.deps.FlushInterval).Msg("DB writer started")
	return nil
}

// Close stops the DB writer goroutine after a final flush.
func (b *Backend) Close() error {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()

	if b.stopChan == nil {
		return nil
	}
	close(b.stopChan)
	<-b.done
	b.stopChan = nil
	return nil
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// SubmitLap checks the league exists and queues the entry for the writer.
func (b *Backend) SubmitLap(ctx context.Context, s core.LapSubmission) error {
	if err := b.leagueExists(ctx, s.LeagueID); err != nil {
		return err
	}

	entry := convert.SubmissionToEntry(s)
	entry.Timestamp = b.deps.Now().UTC()
	if n := b.queues.Entries.Push(entry); n > 0 {
		b.deps.Logger.Warn().Int("dropped", n).Msg("League entry backlog full, oldest discarded")
	}
	return nil
}

// RecordLap queues the full lap report.
func (b *Backend) RecordLap(_ context.Context, r core.LapReport, s core.Session) error {
	if n := b.queues.Laps.Push(convert.ReportToLapRecord(r, s)); n > 0 {
		b.deps.Logger.Warn().Int("dropped", n).Msg("Lap record backlog full, oldest discarded")
	}
	return nil
}

// Flush writes all queued rows now. It returns the first write error; rows
// that failed stay queued for the next attempt.
func (b *Backend) Flush() error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	return errors.Join(
		writeQueue(b.deps.DB, b.queues.Entries, "league entries", b.deps.Logger),
		writeQueue(b.deps.DB, b.queues.Laps, "lap records", b.deps.Logger),
	)
}

// Pending returns the number of queued rows.
func (b *Backend) Pending() int {
	return b.queues.Entries.Len() + b.queues.Laps.Len()
}

// Leagues lists every league, oldest first.
func (b *Backend) Leagues(ctx context.Context) ([]core.League, error) {
	var rows []model.League
	if err := b.deps.DB.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: list leagues: %w", storage.ErrPersistence, err)
	}
	out := make([]core.League, 0, len(rows))
	for _, l := range rows {
		out = append(out, convert.LeagueToCore(l))
	}
	return out, nil
}

// CreateLeague inserts a league and returns it with its assigned ID.
func (b *Backend) CreateLeague(ctx context.Context, l core.League) (core.League, error) {
	if l.Criteria == "" {
		l.Criteria = core.CriteriaFastest
	}
	row := convert.CoreToLeague(l)
	if err := b.deps.DB.WithContext(ctx).Create(&row).Error; err != nil {
		return core.League{}, fmt.Errorf("%w: create league: %w", storage.ErrPersistence, err)
	}
	return convert.LeagueToCore(row), nil
}

// Entries returns a league's stored laps ordered by criteria. An empty
// criteria uses the league's own.
func (b *Backend) Entries(ctx context.Context, leagueID uint, criteria string) ([]core.LeagueEntry, error) {
	db := b.deps.DB.WithContext(ctx)

	var league model.League
	if err := db.First(&league, leagueID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", storage.ErrLeagueNotFound, leagueID)
		}
		return nil, fmt.Errorf("%w: find league: %w", storage.ErrPersistence, err)
	}
	if criteria == "" {
		criteria = league.Criteria
	}

	var rows []model.LeagueEntry
	if err := db.Where("league_id = ?", leagueID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: list entries: %w", storage.ErrPersistence, err)
	}
	out := make([]core.LeagueEntry, 0, len(rows))
	for _, e := range rows {
		out = append(out, convert.EntryToCore(e))
	}
	storage.SortEntries(out, criteria)
	return out, nil
}

// Laps returns the stored lap reports of a session in lap order.
func (b *Backend) Laps(ctx context.Context, sessionID string) ([]core.LapReport, error) {
	var rows []model.LapRecord
	if err := b.deps.DB.WithContext(ctx).Where("session_id = ?", sessionID).Order("lap").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: list laps: %w", storage.ErrPersistence, err)
	}
	out := make([]core.LapReport, 0, len(rows))
	for _, r := range rows {
		out = append(out, convert.LapRecordToCore(r))
	}
	return out, nil
}

func (b *Backend) leagueExists(ctx context.Context, id uint) error {
	var count int64
	if err := b.deps.DB.WithContext(ctx).Model(&model.League{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("%w: find league: %w", storage.ErrPersistence, err)
	}
	if count == 0 {
		return fmt.Errorf("%w: %d", storage.ErrLeagueNotFound, id)
	}
	return nil
}

// writeQueue writes all items from a queue to the database in a transaction.
// On failure the batch goes back to the head of the queue.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, log zerolog.Logger) error {
	if q.Empty() {
		return nil
	}

	items := q.Drain()
	err := db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&items).Error
	})
	if err != nil {
		log.Error().Err(err).Int("count", len(items)).Msgf("Error creating %s", name)
		if n := q.PushFront(items...); n > 0 {
			log.Warn().Int("dropped", n).Msgf("Discarded oldest %s", name)
		}
		return fmt.Errorf("%w: write %s: %w", storage.ErrPersistence, name, err)
	}

	log.Trace().Int("count", len(items)).Msgf("Wrote %s", name)
	return nil
}

// writer periodically drains the queues into the DB.
func (b *Backend) writer() {
	defer close(b.done)

	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			_ = b.Flush()
			return
		case <-ticker.C:
			_ = b.Flush()
		}
	}
}
