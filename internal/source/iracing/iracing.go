// Package iracing reads telemetry from the iRacing variable-buffer memory map.
package iracing

import (
	"fmt"

	"github.com/neurallap/companion/internal/source"
	"github.com/neurallap/companion/internal/source/shm"
)

// freezeAttempts bounds how often a buffer copy is retried when the sim
// rotates buffers mid-copy.
const freezeAttempts = 3

var required = []string{
	"Speed", "RPM", "Gear", "Throttle", "Brake", "SteeringWheelAngle", "LapDistPct",
}

func init() {
	source.Register(source.KindIRacing, func() (source.Adapter, error) {
		return New(shm.Open), nil
	})
}

// Adapter polls the iRacing memory map. It is owned by a single goroutine.
type Adapter struct {
	mapper shm.Mapper
	region shm.Region
	vars   map[string]varHeader
	numVar int32
}

// New creates an adapter that maps segments with mapper.
func New(mapper shm.Mapper) *Adapter {
	return &Adapter{mapper: mapper}
}

func (a *Adapter) Kind() source.Kind { return source.KindIRacing }

// Probe opens the memory map if needed and reports whether the sim flags a
// live session. A failed probe unmaps the segment so the next one maps it
// again.
func (a *Adapter) Probe() bool {
	if a.region == nil {
		r, err := a.mapper(MemMapName)
		if err != nil {
			return false
		}
		a.region = r
	}

	h, err := parseHeader(a.region.Bytes())
	if err == nil && h.connected() && a.loadVars(h) == nil {
		return true
	}
	_ = a.Close()
	return false
}

func (a *Adapter) loadVars(h header) error {
	if a.vars != nil && a.numVar == h.NumVars {
		return nil
	}
	vars, err := parseVarHeaders(a.region.Bytes(), h)
	if err != nil {
		return err
	}
	a.vars, a.numVar = vars, h.NumVars
	return nil
}

// freeze copies the newest variable buffer, retrying if the sim advanced
// that buffer during the copy.
func (a *Adapter) freeze() (snapshot, error) {
	mem := a.region.Bytes()
	for attempt := 0; attempt < freezeAttempts; attempt++ {
		h, err := parseHeader(mem)
		if err != nil {
			return snapshot{}, err
		}
		if !h.connected() {
			return snapshot{}, fmt.Errorf("%w: session not active", source.ErrSourceUnavailable)
		}
		if err := a.loadVars(h); err != nil {
			return snapshot{}, err
		}

		idx := h.latest()
		vb := h.VarBuf[idx]
		start, end := int(vb.BufOffset), int(vb.BufOffset)+int(h.BufLen)
		if start < 0 || h.BufLen <= 0 || end > len(mem) {
			return snapshot{}, fmt.Errorf("%w: var buffer %d [%d, %d) outside segment", source.ErrMalformedReading, idx, start, end)
		}
		buf := make([]byte, h.BufLen)
		copy(buf, mem[start:end])

		after, err := parseHeader(mem)
		if err != nil {
			return snapshot{}, err
		}
		if after.VarBuf[idx].TickCount == vb.TickCount {
			return snapshot{vars: a.vars, buf: buf}, nil
		}
	}
	return snapshot{}, fmt.Errorf("%w: var buffer kept changing during copy", source.ErrSourceUnavailable)
}

func (a *Adapter) ReadFrame() (source.Reading, error) {
	if a.region == nil {
		return source.Reading{}, fmt.Errorf("%w: iracing memory map not open", source.ErrSourceUnavailable)
	}

	snap, err := a.freeze()
	if err != nil {
		return source.Reading{}, err
	}

	vals := make(map[string]float64, len(required))
	for _, name := range required {
		v, err := snap.value(name)
		if err != nil {
			return source.Reading{}, err
		}
		vals[name] = v
	}

	optional := func(name string, def float64) float64 {
		v, err := snap.value(name)
		if err != nil {
			return def
		}
		return v
	}

	r := source.Reading{
		Kind:          source.KindIRacing,
		Speed:         vals["Speed"],
		RPM:           vals["RPM"],
		Gear:          int(vals["Gear"]),
		Throttle:      vals["Throttle"],
		Brake:         vals["Brake"],
		SteeringAngle: vals["SteeringWheelAngle"],
		LapDistPct:    vals["LapDistPct"],

		// the sim reports clutch engagement, 1 meaning pedal released
		Clutch:           1 - optional("Clutch", 1),
		SteeringAngleMax: optional("SteeringWheelAngleMax", 0),
		Lap:              int(optional("Lap", 0)),
		LapTime:          optional("LapCurrentLapTime", 0),
		FuelLevel:        optional("FuelLevel", 0),
		TrackTemp:        optional("TrackTempCrew", optional("TrackTemp", 0)),
		AirTemp:          optional("AirTemp", 0),
		TireWear: [4]float64{
			1 - optional("LFwearM", 1),
			1 - optional("RFwearM", 1),
			1 - optional("LRwearM", 1),
			1 - optional("RRwearM", 1),
		},
	}
	if err := r.Validate(); err != nil {
		return source.Reading{}, err
	}
	return r, nil
}

// Close unmaps the segment. A later Probe maps it again.
func (a *Adapter) Close() error {
	if a.region == nil {
		return nil
	}
	err := a.region.Close()
	a.region = nil
	a.vars = nil
	if err != nil {
		return fmt.Errorf("close iracing memory map: %w", err)
	}
	return nil
}
