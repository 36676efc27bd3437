// Package source defines the telemetry source adapter contract shared by the
// simulator-specific readers and the synthetic generator.
package source

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

var (
	// ErrSourceUnavailable means the adapter cannot produce a reading this tick.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrMalformedReading means data was present but outside the expected bounds.
	ErrMalformedReading = errors.New("malformed reading")

	// ErrConfiguration means a required native dependency is missing.
	ErrConfiguration = errors.New("source configuration error")
)

// Kind identifies a source implementation.
type Kind string

const (
	KindIRacing   Kind = "iracing"
	KindLMU       Kind = "lmu"
	KindSynthetic Kind = "synthetic"
)

// ParseKind maps a configuration string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindIRacing, KindLMU, KindSynthetic:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown source kind %q", ErrConfiguration, s)
	}
}

// Adapter is one telemetry source.
//
// Probe must be short-bounded and must never fail on "not found"; it simply
// reports false. ReadFrame fails with ErrSourceUnavailable or
// ErrMalformedReading (possibly wrapped). Close releases the native handle and
// is safe to call on an adapter that never connected.
type Adapter interface {
	Kind() Kind
	Probe() bool
	ReadFrame() (Reading, error)
	Close() error
}

// Pose is a position plus orientation basis in the source's world frame.
type Pose struct {
	Position r3.Vec
	Right    r3.Vec
	Up       r3.Vec
	Forward  r3.Vec
}

// Vehicle is a radar candidate in world coordinates.
type Vehicle struct {
	ID       int
	Position r3.Vec
}

// Cues are scripted overlay cues emitted by the synthetic generator.
// Real sources leave them nil.
type Cues struct {
	SpotterLeft  bool
	SpotterRight bool

	BrakeActive   bool
	BrakeDistance float64
	BrakeUrgency  float64

	ApexActive    bool
	ApexType      string
	ApexDirection string

	GhostActive   bool
	GhostDistance float64
	GhostSpeed    float64
}

// Reading is a source's native sample before normalization.
type Reading struct {
	Kind Kind

	Speed            float64 // m/s
	RPM              float64
	Gear             int
	Throttle         float64
	Brake            float64
	Clutch           float64
	SteeringAngle    float64 // radians
	SteeringAngleMax float64 // radians, 0 when the source does not report it
	LapDistPct       float64
	Lap              int
	LapTime          float64 // seconds into the current lap, 0 if unknown

	FuelLevel float64 // liters
	TireWear  [4]float64
	TrackTemp float64
	AirTemp   float64

	// Player is nil when the source has no world-frame data.
	Player   *Pose
	PlayerID int
	Vehicles []Vehicle

	Cues *Cues

	PredictedLap float64
	PotentialLap float64
}

// Validate fails with ErrMalformedReading when a player value is NaN or
// infinite. Opponent positions are not checked; radar projection skips them.
func (r Reading) Validate() error {
	fields := []struct {
		name string
		v    float64
	}{
		{"speed", r.Speed},
		{"rpm", r.RPM},
		{"throttle", r.Throttle},
		{"brake", r.Brake},
		{"clutch", r.Clutch},
		{"steering angle", r.SteeringAngle},
		{"steering angle max", r.SteeringAngleMax},
		{"lap distance", r.LapDistPct},
		{"lap time", r.LapTime},
		{"fuel level", r.FuelLevel},
		{"track temp", r.TrackTemp},
		{"air temp", r.AirTemp},
		{"predicted lap", r.PredictedLap},
		{"potential lap", r.PotentialLap},
	}
	for _, f := range fields {
		if !finite(f.v) {
			return fmt.Errorf("%w: %s is %v", ErrMalformedReading, f.name, f.v)
		}
	}
	for i, w := range r.TireWear {
		if !finite(w) {
			return fmt.Errorf("%w: tire wear[%d] is %v", ErrMalformedReading, i, w)
		}
	}
	if p := r.Player; p != nil {
		for _, v := range []r3.Vec{p.Position, p.Right, p.Up, p.Forward} {
			if !finite(v.X) || !finite(v.Y) || !finite(v.Z) {
				return fmt.Errorf("%w: player pose %v", ErrMalformedReading, v)
			}
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
