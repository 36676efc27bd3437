package engine

import (
	"errors"
	"time"

	"github.com/neurallap/companion/internal/source"
)

// Phase is the connection phase of the acquisition loop.
type Phase int

const (
	Disconnected Phase = iota
	Probing
	Connected
)

func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "disconnected"
	case Probing:
		return "probing"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// State is the loop's connection state. Source is empty while Disconnected.
type State struct {
	Phase  Phase
	Source source.Kind
}

func (s State) String() string {
	if s.Source == "" {
		return s.Phase.String()
	}
	return s.Phase.String() + "(" + string(s.Source) + ")"
}

// Status is a read-only snapshot of the engine for status reporting.
type Status struct {
	State        string    `json:"state"`
	Source       string    `json:"source"`
	MockMode     bool      `json:"mock_mode"`
	Ticks        uint64    `json:"ticks"`
	Frames       uint64    `json:"frames"`
	Reports      uint64    `json:"reports"`
	ReadFailures uint64    `json:"read_failures"`
	LastError    string    `json:"last_error,omitempty"`
	Since        time.Time `json:"since"`
}

// classify maps an adapter error to the label used in logs and metrics.
func classify(err error) string {
	switch {
	case errors.Is(err, source.ErrSourceUnavailable):
		return "unavailable"
	case errors.Is(err, source.ErrMalformedReading):
		return "malformed"
	case errors.Is(err, source.ErrConfiguration):
		return "configuration"
	default:
		return "unknown"
	}
}
