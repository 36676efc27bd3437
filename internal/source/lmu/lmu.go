// Package lmu reads Le Mans Ultimate telemetry from its shared-memory plugin
// segment.
package lmu

import (
	"encoding/binary"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/neurallap/companion/internal/source"
	"github.com/neurallap/companion/internal/source/shm"
)

const freezeAttempts = 3

func init() {
	source.Register(source.KindLMU, func() (source.Adapter, error) {
		return New(shm.Open), nil
	})
}

// Adapter maps the LMU segment. It is owned by a single goroutine.
type Adapter struct {
	mapper shm.Mapper
	region shm.Region
	buf    []byte
}

// New creates an adapter that maps segments with mapper.
func New(mapper shm.Mapper) *Adapter {
	return &Adapter{mapper: mapper}
}

func (a *Adapter) Kind() source.Kind { return source.KindLMU }

// Probe succeeds when the segment opens and carries a non-zero version. A
// failed probe unmaps the segment so the next one maps it again.
func (a *Adapter) Probe() bool {
	if a.region == nil {
		r, err := a.mapper(SegmentName)
		if err != nil {
			return false
		}
		a.region = r
	}
	mem := a.region.Bytes()
	if len(mem) >= genericHeaderSize && int32(binary.LittleEndian.Uint32(mem)) != 0 {
		return true
	}
	_ = a.Close()
	return false
}

// freeze copies the segment, retrying while the plugin is mid-write.
func (a *Adapter) freeze() ([]byte, error) {
	mem := a.region.Bytes()
	if len(mem) < SegmentSize {
		return nil, fmt.Errorf("%w: segment is %d bytes, want %d", source.ErrMalformedReading, len(mem), SegmentSize)
	}
	if a.buf == nil {
		a.buf = make([]byte, SegmentSize)
	}
	for attempt := 0; attempt < freezeAttempts; attempt++ {
		copy(a.buf, mem[:SegmentSize])
		begin := binary.LittleEndian.Uint32(a.buf[4:])
		end := binary.LittleEndian.Uint32(a.buf[8:])
		if begin == end {
			return a.buf, nil
		}
	}
	return nil, fmt.Errorf("%w: segment update in progress", source.ErrSourceUnavailable)
}

func (a *Adapter) ReadFrame() (source.Reading, error) {
	if a.region == nil {
		return source.Reading{}, fmt.Errorf("%w: lmu segment not open", source.ErrSourceUnavailable)
	}

	mem, err := a.freeze()
	if err != nil {
		return source.Reading{}, err
	}
	f, err := parse(mem)
	if err != nil {
		return source.Reading{}, err
	}

	p := f.player()
	r := source.Reading{
		Kind:             source.KindLMU,
		Speed:            r3.Norm(vec(p.LocalVel)),
		RPM:              p.RPM,
		Gear:             int(p.Gear),
		Throttle:         p.Throttle,
		Brake:            p.Brake,
		Clutch:           p.Clutch,
		SteeringAngle:    p.Steering * p.SteerRange / 2,
		SteeringAngleMax: p.SteerRange / 2,
		Lap:              int(p.Lap),
		LapTime:          p.LapElapsed,
		FuelLevel:        p.Fuel,
		TireWear:         p.TireWear,
		TrackTemp:        p.TrackTemp,
		AirTemp:          p.AirTemp,
		PlayerID:         int(p.ID),
		Player: &source.Pose{
			Position: vec(p.Pos),
			Right:    vec(p.OriRight),
			Up:       vec(p.OriUp),
			Forward:  vec(p.OriForward),
		},
	}
	if p.TrackLength > 0 {
		r.LapDistPct = p.LapDist / p.TrackLength
	}

	r.Vehicles = make([]source.Vehicle, 0, len(f.vehicles)-1)
	for i, v := range f.vehicles {
		if i == int(f.telemetry.PlayerIndex) {
			continue
		}
		r.Vehicles = append(r.Vehicles, source.Vehicle{ID: int(v.ID), Position: vec(v.Pos)})
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
	if err != nil {
		return fmt.Errorf("close lmu segment: %w", err)
	}
	return nil
}

func vec(v [3]float64) r3.Vec {
	return r3.Vec{X: v[0], Y: v[1], Z: v[2]}
}
