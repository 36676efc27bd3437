// pkg/core/league.go
package core

import "time"

// League ranking criteria.
const (
	CriteriaFastest    = "fastest"
	CriteriaCleanest   = "cleanest"
	CriteriaConsistent = "consistent"
)

// League groups submitted laps under one ranking criterion.
type League struct {
	ID          uint      `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Criteria    string    `json:"criteria"`
	CreatedAt   time.Time `json:"created_at"`
}

// LeagueEntry is a stored LapSubmission.
type LeagueEntry struct {
	ID uint `json:"id"`
	LapSubmission
	Timestamp time.Time `json:"timestamp"`
}
