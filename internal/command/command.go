// Package command decodes inbound debug commands and applies them to the
// override store.
package command

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/neurallap/companion/internal/override"
	"github.com/neurallap/companion/pkg/streaming"
)

// Command is the closed set of debug commands.
type Command int

const (
	Unknown Command = iota
	SpawnGhost
	TriggerBrake
	TriggerSpotterLeft
	TriggerSpotterRight
	TriggerCoach
	BrakeInput
)

var tags = map[string]Command{
	"spawn_ghost":           SpawnGhost,
	"trigger_brake":         TriggerBrake,
	"trigger_spotter_left":  TriggerSpotterLeft,
	"trigger_spotter_right": TriggerSpotterRight,
	"trigger_coach":         TriggerCoach,
	"brake_input":           BrakeInput,
}

// Parse maps a wire tag to a Command. Unrecognized tags yield Unknown.
func Parse(tag string) Command {
	return tags[tag]
}

func (c Command) String() string {
	for tag, cmd := range tags {
		if cmd == c {
			return tag
		}
	}
	return "unknown"
}

const (
	ghostType      = "error_correction"
	ghostSpeedDiff = 20.0
	defaultCoach   = "Trail the brake deeper into the apex"
)

// Request is a decoded debug command.
type Request struct {
	Command Command
	Tag     string
	Value   *float64
	Text    string
}

// Decode parses a debug_command payload.
func Decode(raw []byte) (Request, error) {
	var p streaming.DebugCommandPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Request{}, fmt.Errorf("decode debug command: %w", err)
	}
	return Request{Command: Parse(p.Type), Tag: p.Type, Value: p.Value, Text: p.Text}, nil
}

// Apply executes req against store. It reports false when the request was
// ignored: an unknown tag or a missing required value.
func Apply(store *override.Store, req Request) bool {
	switch req.Command {
	case SpawnGhost:
		speed := ghostSpeedDiff
		if req.Value != nil {
			speed = *req.Value
		}
		store.Set(override.GhostPayload{Type: ghostType, SpeedDiff: speed})
	case TriggerBrake:
		store.Set(override.BrakePayload{})
	case TriggerSpotterLeft:
		store.Set(override.SpotterPayload{})
	case TriggerSpotterRight:
		store.Set(override.SpotterPayload{Right: true})
	case TriggerCoach:
		text := req.Text
		if text == "" {
			text = defaultCoach
		}
		store.Set(override.CoachPayload{Text: text})
	case BrakeInput:
		if req.Value == nil || math.IsNaN(*req.Value) {
			return false
		}
		store.Set(override.BrakeInputPayload{Level: math.Max(0, math.Min(1, *req.Value))})
	default:
		return false
	}
	return true
}
