package models

import (
	"time"

	"github.com/google/uuid"
)

// ModuleState is the liveness state of a connected renderer module.
type ModuleState string

const (
	ModuleConnected    ModuleState = "connected"
	ModuleUnresponsive ModuleState = "unresponsive"
	ModuleDisconnected ModuleState = "disconnected"
)

// ModuleHandle describes a renderer module known to the coordinator. The
// coordinator owns handles: created on registration, removed on sustained
// unresponsiveness or disconnect.
type ModuleHandle struct {
	ID            uuid.UUID     `json:"id"`
	Name          string        `json:"name"`
	Kinds         []ContentKind `json:"kinds"`
	State         ModuleState   `json:"state"`
	LastHeartbeat time.Time     `json:"last_heartbeat"`
	ConnectedAt   time.Time     `json:"connected_at"`
}

// Supports reports whether the module can render the given content kind.
func (m *ModuleHandle) Supports(kind ContentKind) bool {
	for _, k := range m.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}
