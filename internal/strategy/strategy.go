// Package strategy derives race strategy advice from the current session
// fields. Advice is a pure function of its input.
package strategy

import (
	"math"

	"github.com/neurallap/companion/pkg/core"
)

// Session is the subset of telemetry strategy looks at.
type Session struct {
	FuelLevel  float64
	TireWear   [4]float64
	TrackTemp  float64
	LapDistPct float64
}

// Advisor turns session fields into advice.
type Advisor interface {
	Advise(Session) core.StrategyOutput
}

// Config tunes the heuristics.
type Config struct {
	BasePSI      float64 // cold pressure
	BaseTemp     float64 // track temperature the base pressure was set for
	FuelPerLap   float64 // liters
	TrackLength  float64 // meters, scales lift zone distances
	WearPitLimit float64 // average wear that calls for tyres
}

// DefaultConfig matches a typical GT3 stint.
func DefaultConfig() Config {
	return Config{
		BasePSI:      23.0,
		BaseTemp:     30.0,
		FuelPerLap:   1.85,
		TrackLength:  1000,
		WearPitLimit: 0.7,
	}
}

type liftWindow struct{ from, to float64 }

var liftWindows = []liftWindow{
	{0.40, 0.45},
	{0.85, 0.90},
}

// Heuristics is the built-in Advisor.
type Heuristics struct {
	cfg Config
}

// New returns heuristics using cfg.
func New(cfg Config) *Heuristics {
	return &Heuristics{cfg: cfg}
}

func (h *Heuristics) Advise(s Session) core.StrategyOutput {
	out := core.StrategyOutput{
		TireDegradation: h.tires(s),
		LiftAndCoast:    h.liftZone(s.LapDistPct),
	}
	if h.cfg.FuelPerLap > 0 {
		out.FuelLapsRemaining = round1(s.FuelLevel / h.cfg.FuelPerLap)
	}

	switch {
	case h.cfg.FuelPerLap > 0 && out.FuelLapsRemaining < 1:
		out.PitRecommendation = "BOX THIS LAP (fuel)"
	case out.TireDegradation.WearAvg >= h.cfg.WearPitLimit:
		out.PitRecommendation = "BOX FOR TYRES"
	case h.cfg.FuelPerLap > 0 && out.FuelLapsRemaining < 3:
		out.PitRecommendation = "PIT WINDOW OPEN"
	}
	return out
}

// tires forecasts pressure from the deviation of track temperature against
// the setup temperature, at roughly 0.1 psi per degree now and 0.5 psi per
// degree five laps out.
func (h *Heuristics) tires(s Session) core.TirePrediction {
	trend := s.TrackTemp - h.cfg.BaseTemp

	dir := "STABLE"
	if trend > 0.5 {
		dir = "UP"
	} else if trend < -0.5 {
		dir = "DOWN"
	}

	var wear float64
	for _, w := range s.TireWear {
		wear += w
	}
	wear /= float64(len(s.TireWear))

	return core.TirePrediction{
		CurrentPSI:   round1(h.cfg.BasePSI + trend*0.1),
		PredictedPSI: round1(h.cfg.BasePSI + trend*0.5),
		Trend:        dir,
		WearAvg:      math.Round(wear*1000) / 1000,
	}
}

func (h *Heuristics) liftZone(pct float64) core.LiftZone {
	for _, w := range liftWindows {
		if pct > w.from && pct < w.to {
			return core.LiftZone{
				Active:   true,
				Distance: (w.to - pct) * h.cfg.TrackLength,
				Type:     "LIFT",
			}
		}
	}
	return core.LiftZone{Type: "LIFT"}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
