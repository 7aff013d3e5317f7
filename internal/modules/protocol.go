// Package modules implements the coordination layer between the scheduler
// and out-of-process renderer modules. Renderers connect over WebSocket,
// announce the content kinds they support, and exchange JSON envelopes;
// the hub tracks liveness and routes session events to the playback layer.
package modules

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Envelope is the wire message exchanged with renderer modules.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Host → module events.
const (
	EventPlay = "play"
	EventStop = "stop"
)

// Module → host events.
const (
	EventAck       = "ack"
	EventProgress  = "progress"
	EventComplete  = "complete"
	EventError     = "error"
	EventHeartbeat = "heartbeat"
)

// PlayCommand instructs a module to start rendering content.
type PlayCommand struct {
	SessionID  uuid.UUID `json:"session_id"`
	ContentRef string    `json:"content_ref"`
	Kind       string    `json:"kind"`
	DurationMS int64     `json:"duration_ms,omitempty"` // 0 means module decides / host will stop
}

// StopCommand requests early termination of a session.
type StopCommand struct {
	SessionID uuid.UUID `json:"session_id"`
}

// AckMessage confirms a module accepted a play command.
type AckMessage struct {
	SessionID uuid.UUID `json:"session_id"`
}

// ProgressMessage reports playback position for a session.
type ProgressMessage struct {
	SessionID  uuid.UUID `json:"session_id"`
	PositionMS int64     `json:"position_ms"`
}

// CompleteMessage reports a session finished.
type CompleteMessage struct {
	SessionID uuid.UUID `json:"session_id"`
	Outcome   string    `json:"outcome"` // completed | cancelled
}

// ErrorMessage reports a session failed inside the renderer.
type ErrorMessage struct {
	SessionID uuid.UUID `json:"session_id"`
	Reason    string    `json:"reason"`
}

func mustEnvelope(event string, payload interface{}) Envelope {
	data, _ := json.Marshal(payload)
	return Envelope{Event: event, Data: data}
}
