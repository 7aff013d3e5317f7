package modules

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulseboard/signage/internal/models"
)

var ErrNoCapableModule = errors.New("no connected module supports this content kind")

// Conn is the transport half of a module connection. The WebSocket client
// implements it; tests inject fakes.
type Conn interface {
	Send(env Envelope) error
	Close() error
}

// SessionSink receives demultiplexed module events. The playback session
// manager implements it; it is set after construction to break the
// dependency cycle at wiring time.
type SessionSink interface {
	OnAck(sessionID uuid.UUID)
	OnProgress(sessionID uuid.UUID, positionMS int64)
	OnComplete(sessionID uuid.UUID, outcome models.PlayOutcome)
	OnError(sessionID uuid.UUID, reason string)
	OnModuleLost(moduleID uuid.UUID)
}

type moduleConn struct {
	handle *models.ModuleHandle
	conn   Conn
}

// Hub maintains ModuleHandles for connected renderers, dispatches play
// commands to a capable module, and watches heartbeats.
type Hub struct {
	mu      sync.RWMutex
	modules map[uuid.UUID]*moduleConn
	sink    SessionSink
	logger  *zap.Logger

	heartbeatInterval time.Duration
	heartbeatMisses   int
	now               func() time.Time
}

// NewHub creates a module hub.
func NewHub(heartbeatInterval time.Duration, heartbeatMisses int, logger *zap.Logger) *Hub {
	return &Hub{
		modules:           make(map[uuid.UUID]*moduleConn),
		logger:            logger,
		heartbeatInterval: heartbeatInterval,
		heartbeatMisses:   heartbeatMisses,
		now:               time.Now,
	}
}

// SetSessionSink sets the receiver for module-originated session events.
func (h *Hub) SetSessionSink(sink SessionSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sink = sink
}

// Register adds (or replaces) a module connection. Registration is
// idempotent: re-registering an ID swaps the transport and resets liveness.
func (h *Hub) Register(handle *models.ModuleHandle, conn Conn) {
	h.mu.Lock()
	if prev, ok := h.modules[handle.ID]; ok {
		_ = prev.conn.Close()
	}
	handle.State = models.ModuleConnected
	handle.LastHeartbeat = h.now()
	handle.ConnectedAt = h.now()
	h.modules[handle.ID] = &moduleConn{handle: handle, conn: conn}
	h.mu.Unlock()
	h.logger.Info("module registered",
		zap.String("module_id", handle.ID.String()),
		zap.String("name", handle.Name),
		zap.Any("kinds", handle.Kinds),
	)
}

// Deregister removes a module. Safe to call for unknown IDs. Any session
// assigned to the module is failed via the sink.
func (h *Hub) Deregister(moduleID uuid.UUID) {
	h.mu.Lock()
	mc, ok := h.modules[moduleID]
	if ok {
		delete(h.modules, moduleID)
	}
	sink := h.sink
	h.mu.Unlock()
	if !ok {
		return
	}
	_ = mc.conn.Close()
	h.logger.Info("module deregistered", zap.String("module_id", moduleID.String()))
	if sink != nil {
		sink.OnModuleLost(moduleID)
	}
}

// Dispatch locates a connected module supporting the content kind and sends
// the play command. Returns the chosen module ID. The ack is reported
// asynchronously through the SessionSink.
func (h *Hub) Dispatch(session *models.PlaybackSession, kind models.ContentKind, contentRef string, duration time.Duration) (uuid.UUID, error) {
	h.mu.RLock()
	var chosen *moduleConn
	for _, mc := range h.modules {
		if mc.handle.State != models.ModuleConnected || !mc.handle.Supports(kind) {
			continue
		}
		if chosen == nil || mc.handle.ConnectedAt.Before(chosen.handle.ConnectedAt) {
			chosen = mc
		}
	}
	h.mu.RUnlock()
	if chosen == nil {
		return uuid.Nil, ErrNoCapableModule
	}

	cmd := PlayCommand{
		SessionID:  session.ID,
		ContentRef: contentRef,
		Kind:       string(kind),
		DurationMS: duration.Milliseconds(),
	}
	if err := chosen.conn.Send(mustEnvelope(EventPlay, cmd)); err != nil {
		h.MarkUnresponsive(chosen.handle.ID)
		return uuid.Nil, err
	}
	h.logger.Debug("play dispatched",
		zap.String("session_id", session.ID.String()),
		zap.String("module_id", chosen.handle.ID.String()),
		zap.String("kind", string(kind)),
	)
	return chosen.handle.ID, nil
}

// Stop sends a STOP for a session to the module it runs on. Best effort: a
// dead module simply never delivers it, and liveness tracking catches up.
func (h *Hub) Stop(moduleID, sessionID uuid.UUID) error {
	h.mu.RLock()
	mc, ok := h.modules[moduleID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	return mc.conn.Send(mustEnvelope(EventStop, StopCommand{SessionID: sessionID}))
}

// MarkUnresponsive moves a module to Unresponsive immediately, used when a
// dispatch ack timeout fires before the heartbeat monitor would notice.
func (h *Hub) MarkUnresponsive(moduleID uuid.UUID) {
	h.mu.Lock()
	mc, ok := h.modules[moduleID]
	if ok && mc.handle.State == models.ModuleConnected {
		mc.handle.State = models.ModuleUnresponsive
	}
	h.mu.Unlock()
	if ok {
		h.logger.Warn("module marked unresponsive", zap.String("module_id", moduleID.String()))
	}
}

// HandleModuleMessage demultiplexes a renderer-originated envelope.
func (h *Hub) HandleModuleMessage(moduleID uuid.UUID, env Envelope) {
	h.mu.RLock()
	mc, ok := h.modules[moduleID]
	sink := h.sink
	h.mu.RUnlock()
	if !ok {
		return
	}

	switch env.Event {
	case EventHeartbeat:
		h.mu.Lock()
		mc.handle.LastHeartbeat = h.now()
		// A live heartbeat clears an unresponsive verdict.
		if mc.handle.State == models.ModuleUnresponsive {
			mc.handle.State = models.ModuleConnected
		}
		h.mu.Unlock()
	case EventAck:
		var msg AckMessage
		if json.Unmarshal(env.Data, &msg) == nil && sink != nil {
			sink.OnAck(msg.SessionID)
		}
	case EventProgress:
		var msg ProgressMessage
		if json.Unmarshal(env.Data, &msg) == nil && sink != nil {
			sink.OnProgress(msg.SessionID, msg.PositionMS)
		}
	case EventComplete:
		var msg CompleteMessage
		if json.Unmarshal(env.Data, &msg) == nil && sink != nil {
			outcome := models.OutcomeCompleted
			if msg.Outcome == string(models.OutcomeCancelled) {
				outcome = models.OutcomeCancelled
			}
			sink.OnComplete(msg.SessionID, outcome)
		}
	case EventError:
		var msg ErrorMessage
		if json.Unmarshal(env.Data, &msg) == nil && sink != nil {
			sink.OnError(msg.SessionID, msg.Reason)
		}
	default:
		h.logger.Debug("unknown module event ignored",
			zap.String("module_id", moduleID.String()),
			zap.String("event", env.Event),
		)
	}
}

// CapableKinds returns the set of content kinds some connected module can
// render right now. Items of other kinds are ineligible until a capable
// module reconnects.
func (h *Hub) CapableKinds() map[models.ContentKind]bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[models.ContentKind]bool)
	for _, mc := range h.modules {
		if mc.handle.State != models.ModuleConnected {
			continue
		}
		for _, k := range mc.handle.Kinds {
			out[k] = true
		}
	}
	return out
}

// List returns a copy of all module handles for the status API.
func (h *Hub) List() []models.ModuleHandle {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]models.ModuleHandle, 0, len(h.modules))
	for _, mc := range h.modules {
		out = append(out, *mc.handle)
	}
	return out
}

// Run watches heartbeats until ctx is done. A module missing the configured
// number of consecutive heartbeats becomes Unresponsive and its sessions are
// failed; one that stays silent twice that long is dropped entirely.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

func (h *Hub) sweep() {
	unresponsiveAfter := h.heartbeatInterval * time.Duration(h.heartbeatMisses)
	dropAfter := 2 * unresponsiveAfter
	now := h.now()

	var lost, dropped []uuid.UUID
	h.mu.Lock()
	for id, mc := range h.modules {
		silent := now.Sub(mc.handle.LastHeartbeat)
		switch {
		case silent >= dropAfter:
			mc.handle.State = models.ModuleDisconnected
			_ = mc.conn.Close()
			delete(h.modules, id)
			dropped = append(dropped, id)
		case silent >= unresponsiveAfter && mc.handle.State == models.ModuleConnected:
			mc.handle.State = models.ModuleUnresponsive
			lost = append(lost, id)
		}
	}
	sink := h.sink
	h.mu.Unlock()

	for _, id := range lost {
		h.logger.Warn("module unresponsive, heartbeats missed", zap.String("module_id", id.String()))
		if sink != nil {
			sink.OnModuleLost(id)
		}
	}
	for _, id := range dropped {
		h.logger.Warn("module dropped after sustained silence", zap.String("module_id", id.String()))
		if sink != nil {
			sink.OnModuleLost(id)
		}
	}
}
