package streaming

import (
	"encoding/json"
	"fmt"
)

// Message type constants for the real-time channel.
const (
	TypeTelemetryUpdate = "telemetry_update"
	TypeNeuralReport    = "neural_report"
	TypeHardwareEvent   = "hardware_event"
	TypeDebugCommand    = "debug_command"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DebugCommandPayload is the inbound operator command.
// Value is optional and only read by commands that take a number.
type DebugCommandPayload struct {
	Type  string   `json:"type"`
	Value *float64 `json:"value,omitempty"`
	Text  string   `json:"text,omitempty"`
}

// Marshal builds a JSON-encoded Envelope from a message type and payload.
func Marshal(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}
