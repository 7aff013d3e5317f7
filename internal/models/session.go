package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus tracks the playback session state machine.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionPlaying   SessionStatus = "playing"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionCancelled:
		return true
	}
	return false
}

// PlaybackSession represents "content X is currently assigned to renderer
// module Y" on a display surface. At most one non-terminal session exists per
// surface at any time.
type PlaybackSession struct {
	ID          uuid.UUID     `json:"id"`
	SurfaceID   string        `json:"surface_id"`
	ContentID   uuid.UUID     `json:"content_id"`
	ModuleID    uuid.UUID     `json:"module_id"`
	Forced      bool          `json:"forced"`
	StartedAt   time.Time     `json:"started_at"`
	ExpectedEnd *time.Time    `json:"expected_end,omitempty"`
	Status      SessionStatus `json:"status"`
}

// PlayOutcome is the result a renderer reports for a finished session.
type PlayOutcome string

const (
	OutcomeCompleted PlayOutcome = "completed"
	OutcomeFailed    PlayOutcome = "failed"
	OutcomeCancelled PlayOutcome = "cancelled"
)

// PlayReport is the proof-of-play record produced for every terminal session.
type PlayReport struct {
	SessionID uuid.UUID   `json:"session_id"`
	SurfaceID string      `json:"surface_id"`
	ContentID uuid.UUID   `json:"content_id"`
	ModuleID  uuid.UUID   `json:"module_id"`
	Outcome   PlayOutcome `json:"outcome"`
	StartedAt time.Time   `json:"started_at"`
	EndedAt   time.Time   `json:"ended_at"`
}
