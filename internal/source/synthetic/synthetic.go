// Package synthetic generates deterministic telemetry for running without a
// simulator.
package synthetic

import (
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/neurallap/companion/internal/source"
	"github.com/neurallap/companion/internal/timeutil"
)

const (
	// CuePeriod is the length of the scripted cue cycle.
	CuePeriod = 15.0

	lapPeriod  = 20.0 // seconds per synthetic lap
	baseLap    = 94.0
	fuelStart  = 60.0
	fuelPerLap = 2.5
)

// Generator is an Adapter over At driven by a clock.
type Generator struct {
	clock timeutil.Clock
}

// New returns a generator reading time from clock.
func New(clock timeutil.Clock) *Generator {
	return &Generator{clock: clock}
}

func (g *Generator) Kind() source.Kind { return source.KindSynthetic }

func (g *Generator) Probe() bool { return true }

func (g *Generator) ReadFrame() (source.Reading, error) {
	return At(g.clock.Now()), nil
}

func (g *Generator) Close() error { return nil }

// At returns the synthetic reading for t. The result depends only on t.
func At(t time.Time) source.Reading {
	s := float64(t.UnixNano()) / float64(time.Second)

	// the high-frequency term stands in for sensor noise
	speedKmh := math.Abs(math.Sin(s*0.5))*200 + 2*math.Sin(s*7.3)
	speed := math.Max(0, speedKmh/3.6)

	brake := 0.0
	if math.Sin(s*0.8) < 0 {
		brake = math.Abs(math.Cos(s * 0.8))
	}

	laps := s / lapPeriod
	lapFrac := laps - math.Floor(laps)
	stint := math.Mod(math.Floor(laps), 20)

	r := source.Reading{
		Kind:             source.KindSynthetic,
		Speed:            speed,
		RPM:              5000 + math.Sin(s)*3000,
		Gear:             int(math.Abs(math.Sin(s*0.1)*6)) + 1,
		Throttle:         math.Abs(math.Sin(s * 0.8)),
		Brake:            brake,
		SteeringAngle:    math.Sin(s * 0.3),
		SteeringAngleMax: 1,
		LapDistPct:       lapFrac,
		Lap:              int(stint) + 1,
		LapTime:          lapFrac * lapPeriod,

		FuelLevel: fuelStart - (stint+lapFrac)*fuelPerLap,
		TireWear: [4]float64{
			(stint + lapFrac) * 0.012,
			(stint + lapFrac) * 0.015,
			(stint + lapFrac) * 0.010,
			(stint + lapFrac) * 0.011,
		},
		TrackTemp: 30 + 5*math.Sin(s/600),
		AirTemp:   22,

		PredictedLap: baseLap + math.Sin(s*0.2)*0.5,
		PotentialLap: baseLap - 0.8,
	}

	r.Cues = cues(math.Mod(s, CuePeriod))
	r.Player = &source.Pose{
		Right:   r3.Vec{X: 1},
		Up:      r3.Vec{Y: 1},
		Forward: r3.Vec{Z: 1},
	}
	if r.Cues.SpotterLeft {
		r.Vehicles = append(r.Vehicles, source.Vehicle{ID: 1, Position: r3.Vec{X: -3}})
	}
	if r.Cues.SpotterRight {
		r.Vehicles = append(r.Vehicles, source.Vehicle{ID: 2, Position: r3.Vec{X: 3}})
	}
	return r
}

// cues returns the scripted cues for position c within the cue cycle.
func cues(c float64) *source.Cues {
	cu := &source.Cues{
		SpotterLeft:  c > 2 && c < 5,
		SpotterRight: c > 8 && c < 11,
	}
	if c > 5 && c < 8 {
		cu.BrakeActive = true
		cu.BrakeDistance = (8 - c) * 50
		cu.BrakeUrgency = 1 - cu.BrakeDistance/150
	}
	if c > 8 && c < 10 {
		cu.ApexActive = true
		cu.ApexType = "entry"
		cu.ApexDirection = "right"
	}
	if c > 11 && c < 14 {
		cu.GhostActive = true
		cu.GhostDistance = (c - 11) * 7
		cu.GhostSpeed = 15
	}
	return cu
}
