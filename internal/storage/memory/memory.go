// internal/storage/memory/memory.go
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/neurallap/companion/internal/config"
	"github.com/neurallap/companion/internal/model"
	"github.com/neurallap/companion/internal/storage"
	"github.com/neurallap/companion/pkg/core"
)

// LapRecord groups a lap report with the session it was driven in
type LapRecord struct {
	Session core.Session
	Report  core.LapReport
}

// Backend keeps leagues and laps in memory and exports them to JSON on Close
type Backend struct {
	cfg config.MemoryConfig
	now func() time.Time

	leagues map[uint]core.League
	entries map[uint][]core.LeagueEntry // keyed by league ID
	laps    []LapRecord

	idCounter      uint
	lastExportPath string
	mu             sync.RWMutex
}

var (
	_ storage.Backend = (*Backend)(nil)
	_ storage.Leagues = (*Backend)(nil)
)

// New creates a new memory backend with the default league in place
func New(cfg config.MemoryConfig) *Backend {
	b := &Backend{
		cfg:     cfg,
		now:     time.Now,
		leagues: make(map[uint]core.League),
		entries: make(map[uint][]core.LeagueEntry),
	}
	b.addLeague(core.League{Name: model.DefaultLeagueName, Criteria: core.CriteriaFastest})
	return b
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close exports collected laps when an output directory is configured
func (b *Backend) Close() error {
	if b.cfg.OutputDir == "" {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.laps) == 0 && b.entryCount() == 0 {
		return nil
	}
	return b.exportJSON()
}

// SubmitLap stores the submission as a league entry
func (b *Backend) SubmitLap(_ context.Context, s core.LapSubmission) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.leagues[s.LeagueID]; !ok {
		return fmt.Errorf("%w: %d", storage.ErrLeagueNotFound, s.LeagueID)
	}
	b.idCounter++
	b.entries[s.LeagueID] = append(b.entries[s.LeagueID], core.LeagueEntry{
		ID:            b.idCounter,
		LapSubmission: s,
		Timestamp:     b.now().UTC(),
	})
	return nil
}

// RecordLap stores the full lap report
func (b *Backend) RecordLap(_ context.Context, r core.LapReport, s core.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.laps = append(b.laps, LapRecord{Session: s, Report: r})
	return nil
}

// Leagues lists every league, oldest first
func (b *Backend) Leagues(_ context.Context) ([]core.League, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]core.League, 0, len(b.leagues))
	for id := uint(1); id <= b.idCounter; id++ {
		if l, ok := b.leagues[id]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

// CreateLeague adds a league and returns it with its assigned ID
func (b *Backend) CreateLeague(_ context.Context, l core.League) (core.League, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if l.Criteria == "" {
		l.Criteria = core.CriteriaFastest
	}
	return b.addLeague(l), nil
}

// Entries returns a copy of a league's entries ordered by criteria. An empty
// criteria uses the league's own.
func (b *Backend) Entries(_ context.Context, leagueID uint, criteria string) ([]core.LeagueEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	l, ok := b.leagues[leagueID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", storage.ErrLeagueNotFound, leagueID)
	}
	if criteria == "" {
		criteria = l.Criteria
	}
	out := append([]core.LeagueEntry(nil), b.entries[leagueID]...)
	storage.SortEntries(out, criteria)
	return out, nil
}

// Laps returns the recorded laps in arrival order
func (b *Backend) Laps() []LapRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]LapRecord(nil), b.laps...)
}

// GetExportedFilePath returns the path of the last export, if any
func (b *Backend) GetExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}

// addLeague must be called with the lock held, or before the backend is shared
func (b *Backend) addLeague(l core.League) core.League {
	b.idCounter++
	l.ID = b.idCounter
	l.CreatedAt = b.now().UTC()
	b.leagues[l.ID] = l
	return l
}

func (b *Backend) entryCount() int {
	n := 0
	for _, es := range b.entries {
		n += len(es)
	}
	return n
}
