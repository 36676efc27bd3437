// Package report turns a stream of frames into per-lap analysis reports.
package report

import (
	"fmt"
	"math"
	"sort"

	"github.com/neurallap/companion/pkg/core"
)

const (
	// TraceSamples is the length of each speed trace.
	TraceSamples = 100

	// Sectors splits a lap for mistake attribution.
	Sectors = 10

	maxMistakes   = 3
	minTimeLost   = 0.05 // s
	minLapSamples = 60
	historySize   = 5

	wrapFrom = 0.75
	wrapTo   = 0.25
)

type sample struct {
	pct   float64
	t     float64 // engine seconds
	speed float64 // km/h
	brake float64
	trail float64
}

type lap struct {
	seconds float64
	trace   []float64
	sectors [Sectors]float64
	minimum [Sectors]float64 // minimum speed per sector
}

// Tracker accumulates frames and emits a LapReport when a lap completes.
// It is used from a single goroutine.
type Tracker struct {
	source  string
	samples []sample
	best    *lap
	history []float64
	lastPct float64
	started bool
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Observe records f. It returns a report when f begins a new lap and the
// previous lap was complete.
func (t *Tracker) Observe(f *core.TelemetryFrame) (core.LapReport, bool) {
	if f.Source != t.source {
		t.reset(f.Source)
	}

	s := sample{
		pct:   f.LapDistPct,
		t:     f.Timestamp,
		speed: f.Speed * 3.6,
		brake: f.Brake,
		trail: f.TrailBraking,
	}

	wrapped := t.started && t.lastPct > wrapFrom && s.pct < wrapTo
	t.lastPct = s.pct
	t.started = true

	if !wrapped {
		t.samples = append(t.samples, s)
		return core.LapReport{}, false
	}

	done := t.samples
	t.samples = []sample{s}

	// out-laps and laps joined mid-way are not complete
	if len(done) < minLapSamples || done[0].pct > wrapTo {
		return core.LapReport{}, false
	}

	// close the lap at the line, interpolating between the last sample and s
	end := s
	end.pct++
	done = append(done, end)

	return t.finish(f, done), true
}

func (t *Tracker) reset(src string) {
	t.source = src
	t.samples = nil
	t.best = nil
	t.history = nil
	t.started = false
}

func (t *Tracker) finish(f *core.TelemetryFrame, samples []sample) core.LapReport {
	cur := analyze(samples)

	rep := core.LapReport{
		Lap:        f.Lap - 1,
		LapTime:    FormatLapTime(cur.seconds),
		LapSeconds: cur.seconds,
		Source:     f.Source,
		Mistakes:   []core.Mistake{},
		Traces:     core.Traces{SpeedYou: cur.trace, SpeedRef: []float64{}},
		Time:       f.WallTime,
	}
	if rep.Lap < 1 {
		rep.Lap = len(t.history) + 1
	}

	delta := 0.0
	if t.best != nil {
		delta = cur.seconds - t.best.seconds
		rep.Traces.SpeedRef = t.best.trace
		rep.Mistakes = mistakes(cur, *t.best, samples)
	}

	technique := techniqueScore(samples)
	rep.Cleanliness = technique
	rep.PilotScore = pilotScore(delta, technique)

	t.history = append(t.history, cur.seconds)
	if len(t.history) > historySize {
		t.history = t.history[len(t.history)-historySize:]
	}
	rep.Consistency = consistency(t.history)

	if t.best == nil || cur.seconds < t.best.seconds {
		t.best = &cur
	}
	return rep
}

// analyze resamples a lap by distance.
func analyze(samples []sample) lap {
	var l lap
	l.seconds = timeAt(samples, 1) - timeAt(samples, 0)

	l.trace = make([]float64, TraceSamples)
	for i := range l.trace {
		l.trace[i] = math.Round(speedAt(samples, float64(i)/TraceSamples)*10) / 10
	}

	for j := 0; j < Sectors; j++ {
		from := float64(j) / Sectors
		to := float64(j+1) / Sectors
		l.sectors[j] = timeAt(samples, to) - timeAt(samples, from)
		l.minimum[j] = math.Inf(1)
		for _, s := range samples {
			if s.pct >= from && s.pct < to && s.speed < l.minimum[j] {
				l.minimum[j] = s.speed
			}
		}
		if math.IsInf(l.minimum[j], 1) {
			l.minimum[j] = speedAt(samples, from)
		}
	}
	return l
}

// interp evaluates field at pct by linear interpolation over samples, which
// are ordered by pct.
func interp(samples []sample, pct float64, field func(sample) float64) float64 {
	i := sort.Search(len(samples), func(i int) bool { return samples[i].pct >= pct })
	switch {
	case i == 0:
		if len(samples) > 1 && samples[0].pct > pct {
			a, b := samples[0], samples[1]
			if b.pct != a.pct {
				return field(a) - (a.pct-pct)*(field(b)-field(a))/(b.pct-a.pct)
			}
		}
		return field(samples[0])
	case i == len(samples):
		return field(samples[len(samples)-1])
	}
	a, b := samples[i-1], samples[i]
	if b.pct == a.pct {
		return field(b)
	}
	w := (pct - a.pct) / (b.pct - a.pct)
	return field(a) + w*(field(b)-field(a))
}

func timeAt(samples []sample, pct float64) float64 {
	return interp(samples, pct, func(s sample) float64 { return s.t })
}

func speedAt(samples []sample, pct float64) float64 {
	return math.Max(0, interp(samples, pct, func(s sample) float64 { return s.speed }))
}

func mistakes(cur, ref lap, samples []sample) []core.Mistake {
	type loss struct {
		sector int
		lost   float64
	}
	var losses []loss
	for j := 0; j < Sectors; j++ {
		if d := cur.sectors[j] - ref.sectors[j]; d >= minTimeLost {
			losses = append(losses, loss{j, d})
		}
	}
	sort.SliceStable(losses, func(a, b int) bool { return losses[a].lost > losses[b].lost })
	if len(losses) > maxMistakes {
		losses = losses[:maxMistakes]
	}

	out := make([]core.Mistake, 0, len(losses))
	for _, l := range losses {
		out = append(out, core.Mistake{
			Corner:   fmt.Sprintf("Sector %d", l.sector+1),
			Feedback: feedback(cur, ref, samples, l.sector),
			TimeLost: math.Round(l.lost*1000) / 1000,
		})
	}
	return out
}

func feedback(cur, ref lap, samples []sample, sector int) string {
	if cur.minimum[sector] < ref.minimum[sector]-3 {
		return "Overslowed the corner, carry more minimum speed"
	}

	from, to := float64(sector)/Sectors, float64(sector+1)/Sectors
	var braking, trail float64
	for _, s := range samples {
		if s.pct >= from && s.pct < to && s.brake > 0.05 {
			braking++
			trail += s.trail
		}
	}
	if braking > 0 && trail/braking < 0.3 {
		return "Trail the brake deeper into the corner"
	}
	return "Late on the throttle at exit"
}

// techniqueScore is the mean trail-braking quality while braking, 0..100.
func techniqueScore(samples []sample) float64 {
	var braking, trail float64
	for _, s := range samples {
		if s.brake > 0.05 {
			braking++
			trail += s.trail
		}
	}
	if braking == 0 {
		return 100
	}
	return math.Round(trail / braking * 100)
}

func pilotScore(delta, technique float64) int {
	timeScore := 100 - 20*math.Max(0, delta)
	score := 0.7*timeScore + 0.3*technique
	return int(math.Round(math.Max(0, math.Min(100, score))))
}

// consistency is 100 minus ten times the variance of recent lap times.
func consistency(times []float64) float64 {
	if len(times) < 2 {
		return 50
	}
	var mean float64
	for _, v := range times {
		mean += v
	}
	mean /= float64(len(times))
	var variance float64
	for _, v := range times {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(times))
	return math.Round(math.Max(0, math.Min(100, 100-variance*10)))
}

// FormatLapTime renders seconds as m:ss.mmm.
func FormatLapTime(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return "0:00.000"
	}
	ms := int64(math.Round(seconds * 1000))
	return fmt.Sprintf("%d:%02d.%03d", ms/60000, ms/1000%60, ms%1000)
}
