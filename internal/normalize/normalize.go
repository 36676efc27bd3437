// Package normalize converts native source readings into canonical frames
// and computes the derived signals.
package normalize

import (
	"math"
	"time"

	"github.com/neurallap/companion/internal/override"
	"github.com/neurallap/companion/internal/source"
	"github.com/neurallap/companion/internal/strategy"
	"github.com/neurallap/companion/pkg/core"
)

const trailThreshold = 0.05

// TrailBraking scores braking while turning. Both inputs are in [0,1]; the
// score is 0 unless both exceed the threshold and is capped at 1.
func TrailBraking(brake, steering float64) float64 {
	steering = math.Abs(steering)
	if brake <= trailThreshold || steering <= trailThreshold {
		return 0
	}
	return math.Min(1, (brake+2*steering)/2)
}

// NormalizedSteering maps an angle to [0,1] of the steering range. limit
// falls back to def when the source does not report it.
func NormalizedSteering(angle, limit, def float64) float64 {
	if limit <= 0 {
		limit = def
	}
	if limit <= 0 || math.IsNaN(angle) {
		return 0
	}
	return math.Min(1, math.Abs(angle)/limit)
}

// WrapFraction maps x into [0,1). Non-finite values map to 0.
func WrapFraction(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	x -= math.Floor(x)
	if x >= 1 {
		// x was a tiny negative number
		return 0
	}
	return x
}

// Config tunes the normalizer.
type Config struct {
	Radar RadarWindow
	// SteeringMax is used when a source does not report its steering range.
	SteeringMax float64
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		Radar:       DefaultRadarWindow,
		SteeringMax: math.Pi / 2,
	}
}

// Input is everything one frame is built from.
type Input struct {
	Reading   source.Reading
	Overrides override.Snapshot
	Bio       *core.BioReading
	Connected bool
	MockMode  bool
	Elapsed   time.Duration
	Wall      time.Time
}

// Normalizer builds frames. It holds no per-frame state and is safe for
// concurrent use if its Advisor is.
type Normalizer struct {
	cfg     Config
	advisor strategy.Advisor
}

// New returns a normalizer. advisor may be nil.
func New(cfg Config, advisor strategy.Advisor) *Normalizer {
	return &Normalizer{cfg: cfg, advisor: advisor}
}

// Normalize builds the canonical frame for in.
func (n *Normalizer) Normalize(in Input) core.TelemetryFrame {
	r := in.Reading
	o := in.Overrides

	f := core.TelemetryFrame{
		Source:        string(r.Kind),
		Connected:     in.Connected,
		MockMode:      in.MockMode,
		Speed:         nonNegative(r.Speed),
		RPM:           nonNegative(r.RPM),
		Gear:          r.Gear,
		Throttle:      unit(r.Throttle),
		Brake:         unit(r.Brake),
		Clutch:        unit(r.Clutch),
		SteeringAngle: finite(r.SteeringAngle),
		LapDistPct:    WrapFraction(r.LapDistPct),
		Lap:           r.Lap,
		PredictedLap:  nonNegative(r.PredictedLap),
		PotentialLap:  nonNegative(r.PotentialLap),
		Bio:           in.Bio,
		Timestamp:     in.Elapsed.Seconds(),
		WallTime:      in.Wall,
	}

	if o.BrakeInput != nil {
		f.Brake = unit(*o.BrakeInput)
	}
	steer := NormalizedSteering(f.SteeringAngle, r.SteeringAngleMax, n.cfg.SteeringMax)
	f.TrailBraking = TrailBraking(f.Brake, steer)

	if r.Player != nil {
		f.RadarCars = Project(*r.Player, r.PlayerID, r.Vehicles, n.cfg.Radar)
	} else {
		f.RadarCars = []core.RadarContact{}
	}

	n.mergeCues(&f, r)
	n.mergeOverrides(&f, o)

	if n.advisor != nil {
		s := strategy.Session{
			FuelLevel:  nonNegative(r.FuelLevel),
			TrackTemp:  finite(r.TrackTemp),
			LapDistPct: f.LapDistPct,
		}
		for i, w := range r.TireWear {
			s.TireWear[i] = unit(w)
		}
		out := n.advisor.Advise(s)
		f.Strategy = &out
	}
	return f
}

// mergeCues applies scripted synthetic cues, or radar-derived spotter flags
// for real sources.
func (n *Normalizer) mergeCues(f *core.TelemetryFrame, r source.Reading) {
	c := r.Cues
	if c == nil {
		f.SpotterLeft, f.SpotterRight = spotters(f.RadarCars)
		return
	}

	f.SpotterLeft, f.SpotterRight = c.SpotterLeft, c.SpotterRight
	if c.BrakeActive {
		f.ARBrakeBox = &core.BrakeZone{Active: true, Distance: c.BrakeDistance, Urgency: c.BrakeUrgency}
	}
	if c.ApexActive {
		f.ARApex = &core.ApexZone{Active: true, Type: c.ApexType, CurveDirection: c.ApexDirection}
	}
	if c.GhostActive {
		f.Ghost = &core.GhostEvent{
			Active:           true,
			Type:             "error_correction",
			RelativeDistance: c.GhostDistance,
			SpeedDiff:        c.GhostSpeed,
		}
	}
}

// mergeOverrides lets operator overrides win over cues of the same kind.
func (n *Normalizer) mergeOverrides(f *core.TelemetryFrame, o override.Snapshot) {
	f.SpotterLeft = f.SpotterLeft || o.SpotterLeft
	f.SpotterRight = f.SpotterRight || o.SpotterRight
	if o.Brake != nil {
		f.ARBrakeBox = o.Brake
	}
	if o.Apex != nil {
		f.ARApex = o.Apex
	}
	if o.Ghost != nil {
		f.Ghost = o.Ghost
	}
	if o.Coach != nil {
		f.Coach = o.Coach
	}
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func nonNegative(v float64) float64 {
	return math.Max(0, finite(v))
}

func unit(v float64) float64 {
	return math.Min(1, nonNegative(v))
}
