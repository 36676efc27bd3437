// pkg/core/frame.go
package core

import "time"

// TelemetryFrame is the canonical per-tick telemetry sample.
// A frame is immutable once built: slices are never mutated after
// construction, so a frame may be shared across subscriber sends.
type TelemetryFrame struct {
	Source    string `json:"source"`
	Connected bool   `json:"connected"`
	MockMode  bool   `json:"mock_mode"`

	Speed         float64 `json:"speed"` // m/s
	RPM           float64 `json:"rpm"`
	Gear          int     `json:"gear"` // -1 reverse, 0 neutral
	Throttle      float64 `json:"throttle"`
	Brake         float64 `json:"brake"`
	Clutch        float64 `json:"clutch"`
	SteeringAngle float64 `json:"steering_angle"` // radians
	LapDistPct    float64 `json:"lap_dist_pct"`   // [0,1)
	Lap           int     `json:"lap"`

	TrailBraking float64         `json:"trail_braking"`
	RadarCars    []RadarContact  `json:"radar_cars"`
	SpotterLeft  bool            `json:"spotter_left"`
	SpotterRight bool            `json:"spotter_right"`
	ARBrakeBox   *BrakeZone      `json:"ar_brake_box"`
	ARApex       *ApexZone       `json:"ar_apex_corridor"`
	Ghost        *GhostEvent     `json:"ghost_data"`
	Coach        *CoachMessage   `json:"coach_message,omitempty"`
	Strategy     *StrategyOutput `json:"fuel_strategy,omitempty"`
	Bio          *BioReading     `json:"bio,omitempty"`

	PredictedLap float64 `json:"predicted_lap,omitempty"`
	PotentialLap float64 `json:"potential_lap,omitempty"`

	// Timestamp is seconds since engine start on the monotonic clock.
	Timestamp float64   `json:"timestamp"`
	WallTime  time.Time `json:"wall_time"`
}

// RadarContact is another car projected into the player's local frame.
type RadarContact struct {
	ID           int      `json:"id"`
	Lateral      float64  `json:"x"` // meters, positive = right
	Longitudinal float64  `json:"y"` // meters, positive = ahead
	Tags         []string `json:"class_color"`
}

// GhostEvent is the ghost-car overlay payload.
type GhostEvent struct {
	Active           bool    `json:"active"`
	Type             string  `json:"type"`
	RelativeDistance float64 `json:"relative_distance"`
	LaneOffset       float64 `json:"lane_offset"`
	SpeedDiff        float64 `json:"speed_diff"`
}

// BrakeZone is the AR brake-box payload.
type BrakeZone struct {
	Active   bool    `json:"active"`
	Distance float64 `json:"distance"`
	Urgency  float64 `json:"urgency"`
}

// ApexZone is the AR apex-corridor payload.
type ApexZone struct {
	Active         bool   `json:"active"`
	Type           string `json:"type"`
	CurveDirection string `json:"curve_direction"`
}

// CoachMessage is a one-shot message for the voice/overlay coach.
type CoachMessage struct {
	Text string `json:"text"`
}

// StrategyOutput is the strategy collaborator's per-frame advice.
type StrategyOutput struct {
	TireDegradation   TirePrediction `json:"tire_degradation"`
	FuelLapsRemaining float64        `json:"fuel_laps_remaining"`
	LiftAndCoast      LiftZone       `json:"lift_and_coast"`
	PitRecommendation string         `json:"pit_recommendation,omitempty"`
}

// TirePrediction forecasts tyre pressure from the track temperature trend.
type TirePrediction struct {
	CurrentPSI   float64 `json:"current_psi"`
	PredictedPSI float64 `json:"predicted_psi"`
	Trend        string  `json:"trend_direction"`
	WearAvg      float64 `json:"wear_avg"`
}

// LiftZone marks a lift-and-coast zone ahead.
type LiftZone struct {
	Active   bool    `json:"active"`
	Distance float64 `json:"distance"`
	Type     string  `json:"type"`
}

// BioReading is the driver's biometric state.
type BioReading struct {
	HeartRate   int    `json:"heart_rate"`
	StressLevel string `json:"stress_level"`
	Connected   bool   `json:"connected"`
}
