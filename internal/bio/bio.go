// Package bio provides the driver's heart rate and derived stress level.
package bio

import (
	"math"
	"sync"

	"github.com/neurallap/companion/pkg/core"
)

// Stress levels by heart rate.
const (
	StressLow      = "LOW"
	StressOptimal  = "OPTIMAL"
	StressHigh     = "HIGH"
	StressCritical = "CRITICAL"
)

// Source reports the driver's biometric state. Observe feeds it the current
// driving load so simulated sources can react to it.
type Source interface {
	Observe(speedKmh, brake, rpm float64)
	Reading() core.BioReading
}

// StressLevel classifies a heart rate.
func StressLevel(hr float64) string {
	switch {
	case hr < 100:
		return StressLow
	case hr < 130:
		return StressOptimal
	case hr < 160:
		return StressHigh
	default:
		return StressCritical
	}
}

const (
	restingHR = 70.0
	riseStep  = 0.5
	fallStep  = 0.2
)

// Simulated drifts the heart rate toward a target derived from speed,
// braking effort and engine load. It is deterministic.
type Simulated struct {
	mu     sync.Mutex
	hr     float64
	maxRPM float64
}

// NewSimulated starts at resting heart rate.
func NewSimulated(maxRPM float64) *Simulated {
	if maxRPM <= 0 {
		maxRPM = 8000
	}
	return &Simulated{hr: restingHR, maxRPM: maxRPM}
}

func (s *Simulated) Observe(speedKmh, brake, rpm float64) {
	target := restingHR +
		speedKmh/300*40 +
		brake*brake*30 +
		rpm/s.maxRPM*10

	s.mu.Lock()
	defer s.mu.Unlock()

	diff := target - s.hr
	if math.Abs(diff) <= riseStep {
		return
	}
	if diff > 0 {
		s.hr += riseStep
	} else {
		s.hr -= fallStep
	}
}

func (s *Simulated) Reading() core.BioReading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return core.BioReading{
		HeartRate:   int(s.hr),
		StressLevel: StressLevel(s.hr),
		Connected:   false,
	}
}
