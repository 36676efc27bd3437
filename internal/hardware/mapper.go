// Package hardware maps telemetry frames to light and haptic events and
// delivers them to feedback devices.
package hardware

import (
	"github.com/neurallap/companion/pkg/core"
)

// Light colors.
const (
	ColorOff  = "#000000"
	ColorBlue = "#0000FF"
	ColorRed  = "#FF0000"
)

// Config holds mapper thresholds.
type Config struct {
	MaxRPM         float64
	ShiftBlue      float64 // rpm fraction
	ShiftRed       float64 // rpm fraction
	HapticBrake    float64 // brake pedal fraction
	HapticSpeedKmh float64
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		MaxRPM:         12000,
		ShiftBlue:      0.90,
		ShiftRed:       0.95,
		HapticBrake:    0.8,
		HapticSpeedKmh: 50,
	}
}

// Mapper turns frames into device events. Lights are only emitted when the
// color changes; a haptic stop is emitted once when vibration ends. A Mapper
// is not safe for concurrent use.
type Mapper struct {
	cfg       Config
	lastColor string
	vibrating bool
}

// NewMapper returns a mapper with all devices assumed off.
func NewMapper(cfg Config) *Mapper {
	return &Mapper{cfg: cfg, lastColor: ColorOff}
}

// Map returns the events for f. The result is empty when nothing changed.
func (m *Mapper) Map(f *core.TelemetryFrame) core.HardwareEvents {
	var ev core.HardwareEvents

	vibrate := f.Brake > m.cfg.HapticBrake && f.Speed*3.6 > m.cfg.HapticSpeedKmh
	switch {
	case vibrate:
		ev.Haptic = &core.HapticEvent{Type: "pedal_vibration", Motor: "brake", Intensity: 1}
	case m.vibrating:
		ev.Haptic = &core.HapticEvent{Type: "pedal_vibration", Motor: "brake", Intensity: 0}
	}
	m.vibrating = vibrate

	color, src := ColorOff, "flag"
	if m.cfg.MaxRPM > 0 {
		pct := f.RPM / m.cfg.MaxRPM
		switch {
		case pct > m.cfg.ShiftRed:
			color, src = ColorRed, "rpm"
		case pct > m.cfg.ShiftBlue:
			color, src = ColorBlue, "rpm"
		}
	}
	if color != m.lastColor {
		ev.Light = &core.LightEvent{Color: color, Source: src}
		m.lastColor = color
	}
	return ev
}
