package main

import (
	"encoding/json"
	"fmt"
	"time"
)

// ==============================
// Events
// ==============================

// Event is the input to the reducer.
// It can be a key edge, a Tick, or an observation from the vehicle link.
type Event interface {
	eventMarker()
}

// KeyDown is a key press from any input surface.
type KeyDown struct {
	Key Key
}

func (KeyDown) eventMarker() {}

// KeyUp is a key release from any input surface.
type KeyUp struct {
	Key Key
}

func (KeyUp) eventMarker() {}

// TimedEvent stamps a payload event with the daemon clock when it enters the loop.
// Cooldown deadlines are compared against At.
type TimedEvent struct {
	Event Event
	At    time.Time
}

func (TimedEvent) eventMarker() {}

// Tick is emitted by the daemon loop when the derivation timer fires.
type Tick struct {
	Now time.Time
}

func (Tick) eventMarker() {}

// SessionStarted is emitted once when the daemon starts. The reducer answers
// with the initial connect.
type SessionStarted struct{}

func (SessionStarted) eventMarker() {}

// ConnectionObserved mirrors a Connection Manager state change into the session.
// Session is the link handle the observation belongs to; observations from
// superseded handles are ignored.
type ConnectionObserved struct {
	State   ConnectionState
	Err     error
	Session uint64
	At      time.Time
}

func (ConnectionObserved) eventMarker() {}

// CommandSent is emitted after a token was handed to the transport.
type CommandSent struct {
	Command DriveCommand
	At      time.Time
}

func (CommandSent) eventMarker() {}

// CommandDropped is emitted when a token could not be sent.
type CommandDropped struct {
	Command DriveCommand
	Err     error
	At      time.Time
}

func (CommandDropped) eventMarker() {}

// RequestStateSnapshot asks the daemon for a coherent snapshot of the session.
type RequestStateSnapshot struct {
	Reply chan<- StateSnapshot
}

func (RequestStateSnapshot) eventMarker() {}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================
// EventEnvelope wraps events for JSON serialization/deserialization.
// Only operator key edges travel over IPC.
// ============================================================================

// EventEnvelope wraps an event with a type discriminator for JSON marshaling
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type keyPayload struct {
	Key string `json:"key"`
}

// UnmarshalEvent deserializes a JSON event envelope into a concrete Event
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "key_down", "key_up":
		var p keyPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", env.Type, err)
		}
		k, err := ParseKey(p.Key)
		if err != nil {
			return nil, err
		}
		if env.Type == "key_down" {
			return KeyDown{Key: k}, nil
		}
		return KeyUp{Key: k}, nil

	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// MarshalEvent serializes an Event into a JSON envelope with type discriminator
func MarshalEvent(e Event) ([]byte, error) {
	var env EventEnvelope
	var key Key

	switch e := e.(type) {
	case KeyDown:
		env.Type = "key_down"
		key = e.Key
	case KeyUp:
		env.Type = "key_up"
		key = e.Key
	default:
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}

	if key == KeyNone {
		return nil, fmt.Errorf("marshal %s: missing key", env.Type)
	}
	data, err := json.Marshal(keyPayload{Key: key.String()})
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", env.Type, err)
	}
	env.Data = data

	return json.Marshal(env)
}
