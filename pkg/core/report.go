// pkg/core/report.go
package core

import "time"

// LapReport is the post-lap analysis sent to subscribers.
type LapReport struct {
	Lap         int       `json:"lap"`
	LapTime     string    `json:"lap_time"`
	LapSeconds  float64   `json:"lap_seconds"`
	PilotScore  int       `json:"pilot_score"`
	Mistakes    []Mistake `json:"mistakes"`
	Traces      Traces    `json:"traces"`
	Source      string    `json:"source"`
	Cleanliness float64   `json:"cleanliness"`
	Consistency float64   `json:"consistency"`
	Time        time.Time `json:"time"`
}

// Mistake is a single time-loss entry in a LapReport.
type Mistake struct {
	Corner   string  `json:"corner"`
	Feedback string  `json:"feedback"`
	TimeLost float64 `json:"time_lost"`
}

// Traces holds sample-indexed speed traces for the lap and its reference.
type Traces struct {
	SpeedYou []float64 `json:"speed_you"`
	SpeedRef []float64 `json:"speed_ref"`
}

// LapSubmission is what the publisher hands to the persistence collaborator.
type LapSubmission struct {
	LeagueID         uint    `json:"league_id"`
	Driver           string  `json:"driver_name"`
	Track            string  `json:"track"`
	Car              string  `json:"car"`
	LapTime          float64 `json:"lap_time"`
	CleanlinessScore float64 `json:"cleanliness_score"`
	ConsistencyScore float64 `json:"consistency_score"`
}

// HardwareEvents are the light/haptic commands derived from one frame.
type HardwareEvents struct {
	Light  *LightEvent  `json:"light,omitempty"`
	Haptic *HapticEvent `json:"haptic,omitempty"`
}

// LightEvent sets the ambient/shift light color.
type LightEvent struct {
	Color  string `json:"color"`
	Source string `json:"source"`
}

// HapticEvent drives a pedal or seat motor.
type HapticEvent struct {
	Type      string  `json:"type"`
	Motor     string  `json:"motor"`
	Intensity float64 `json:"intensity"`
}
