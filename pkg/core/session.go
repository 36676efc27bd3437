// pkg/core/session.go
package core

import "time"

// Session identifies who is driving what, for lap submissions and records.
type Session struct {
	ID       string    `json:"id"`
	Driver   string    `json:"driver"`
	Track    string    `json:"track"`
	Car      string    `json:"car"`
	LeagueID uint      `json:"league_id"`
	Started  time.Time `json:"started"`
}
