// internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"sort"

	"github.com/neurallap/companion/pkg/core"
)

var (
	// ErrPersistence wraps every storage failure.
	ErrPersistence = errors.New("persistence error")

	// ErrLeagueNotFound is returned when a submission names an unknown league.
	ErrLeagueNotFound = errors.New("league not found")
)

// LapStore is the collaborator the publisher submits completed laps to.
type LapStore interface {
	SubmitLap(ctx context.Context, s core.LapSubmission) error
}

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	LapStore

	// Lifecycle
	Init() error
	Close() error

	// RecordLap keeps the full lap report for later review.
	RecordLap(ctx context.Context, r core.LapReport, s core.Session) error
}

// Leagues is an optional interface for backends that can answer league
// queries.
type Leagues interface {
	Leagues(ctx context.Context) ([]core.League, error)
	CreateLeague(ctx context.Context, l core.League) (core.League, error)
	Entries(ctx context.Context, leagueID uint, criteria string) ([]core.LeagueEntry, error)
}

// SortEntries orders entries for a league criterion: fastest lap first,
// or highest cleanliness or consistency first. Unknown criteria sort by
// lap time.
func SortEntries(entries []core.LeagueEntry, criteria string) {
	var less func(a, b core.LeagueEntry) bool
	switch criteria {
	case core.CriteriaCleanest:
		less = func(a, b core.LeagueEntry) bool { return a.CleanlinessScore > b.CleanlinessScore }
	case core.CriteriaConsistent:
		less = func(a, b core.LeagueEntry) bool { return a.ConsistencyScore > b.ConsistencyScore }
	default:
		less = func(a, b core.LeagueEntry) bool { return a.LapTime < b.LapTime }
	}
	sort.SliceStable(entries, func(i, j int) bool { return less(entries[i], entries[j]) })
}
