package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neurallap/companion/internal/config"
	"github.com/neurallap/companion/pkg/core"
)

// Context holds the current driving session. Lap reports and league
// submissions are stamped with it.
type Context struct {
	mu      sync.RWMutex
	session core.Session
}

// NewContext starts a session for the configured driver, track and car.
func NewContext(cfg config.SessionConfig, started time.Time) *Context {
	return &Context{session: core.Session{
		ID:       uuid.NewString(),
		Driver:   cfg.Driver,
		Track:    cfg.Track,
		Car:      cfg.Car,
		LeagueID: cfg.LeagueID,
		Started:  started.UTC(),
	}}
}

// Get returns a copy of the current session
func (c *Context) Get() core.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// Restart begins a new session with a fresh ID, keeping driver, track, car
// and league.
func (c *Context) Restart(started time.Time) core.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.ID = uuid.NewString()
	c.session.Started = started.UTC()
	return c.session
}

// Submission builds the league submission for a completed lap.
func (c *Context) Submission(r core.LapReport) core.LapSubmission {
	s := c.Get()
	return core.LapSubmission{
		LeagueID:         s.LeagueID,
		Driver:           s.Driver,
		Track:            s.Track,
		Car:              s.Car,
		LapTime:          r.LapSeconds,
		CleanlinessScore: r.Cleanliness,
		ConsistencyScore: r.Consistency,
	}
}
