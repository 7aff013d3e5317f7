// Package playback owns the per-surface playback state machine:
// Idle → Pending → Playing → {Completed, Failed, Cancelled}.
package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulseboard/signage/internal/catalogue"
	"github.com/pulseboard/signage/internal/models"
)

var ErrSurfaceBusy = errors.New("a session is already pending or playing on this surface")

// Coordinator is the slice of the module hub the session manager needs.
type Coordinator interface {
	Dispatch(session *models.PlaybackSession, kind models.ContentKind, contentRef string, duration time.Duration) (uuid.UUID, error)
	Stop(moduleID, sessionID uuid.UUID) error
	MarkUnresponsive(moduleID uuid.UUID)
}

// Resolver rewrites payload references before dispatch (e.g. s3:// keys to
// presigned URLs). Nil means references pass through untouched.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Reporter receives proof-of-play reports for terminal sessions.
type Reporter interface {
	EnqueuePlayReport(ctx context.Context, report models.PlayReport) error
}

// DoneEvent signals the scheduling loop that a session reached a terminal
// state.
type DoneEvent struct {
	SessionID uuid.UUID
	ContentID uuid.UUID
	Outcome   models.PlayOutcome
	Forced    bool
}

// DoneHandler is invoked outside the manager lock for every terminal
// transition.
type DoneHandler func(DoneEvent)

type activeSession struct {
	session  *models.PlaybackSession
	item     *models.ContentItem
	ackTimer *time.Timer
}

// Manager drives playback sessions for one display surface. At most one
// non-terminal session exists at a time; a new Start is refused while one is
// pending or playing unless it is a forced-play preemption.
type Manager struct {
	mu       sync.Mutex
	current  *activeSession
	coord    Coordinator
	resolver Resolver
	reporter Reporter
	cat      *catalogue.Catalogue
	onDone   DoneHandler

	surfaceID  string
	ackTimeout time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewManager creates a session manager for a surface.
func NewManager(surfaceID string, coord Coordinator, cat *catalogue.Catalogue, ackTimeout time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		coord:      coord,
		cat:        cat,
		surfaceID:  surfaceID,
		ackTimeout: ackTimeout,
		logger:     logger,
		now:        time.Now,
	}
}

// SetResolver sets the optional payload reference resolver.
func (m *Manager) SetResolver(r Resolver) { m.resolver = r }

// SetReporter sets the optional proof-of-play reporter.
func (m *Manager) SetReporter(r Reporter) { m.reporter = r }

// SetDoneHandler sets the terminal-transition callback.
func (m *Manager) SetDoneHandler(fn DoneHandler) { m.onDone = fn }

// Start creates a session for the item and dispatches the play command.
// Forced starts preempt whatever is on screen by cancelling it first; plain
// starts are refused while a session is pending or playing.
func (m *Manager) Start(ctx context.Context, item *models.ContentItem, forced bool) (*models.PlaybackSession, error) {
	ref := item.PayloadRef
	if m.resolver != nil {
		resolved, err := m.resolver.Resolve(ctx, ref)
		if err != nil {
			return nil, err
		}
		ref = resolved
	}

	m.mu.Lock()
	var preempted *DoneEvent
	if m.current != nil && !m.current.session.Status.Terminal() {
		if !forced {
			m.mu.Unlock()
			return nil, ErrSurfaceBusy
		}
		preempted = m.cancelLocked(m.current, models.OutcomeCancelled)
	}

	session := &models.PlaybackSession{
		ID:        uuid.New(),
		SurfaceID: m.surfaceID,
		ContentID: item.ID,
		Forced:    forced,
		StartedAt: m.now(),
		Status:    models.SessionPending,
	}
	moduleID, err := m.coord.Dispatch(session, item.Kind, ref, item.Duration)
	if err != nil {
		m.mu.Unlock()
		m.fire(preempted)
		return nil, err
	}
	session.ModuleID = moduleID

	active := &activeSession{session: session, item: item}
	sessionID := session.ID
	active.ackTimer = time.AfterFunc(m.ackTimeout, func() { m.ackExpired(sessionID) })
	m.current = active
	m.mu.Unlock()

	m.fire(preempted)
	m.logger.Info("session started",
		zap.String("session_id", session.ID.String()),
		zap.String("content_id", item.ID.String()),
		zap.String("module_id", moduleID.String()),
		zap.Bool("forced", forced),
	)
	return session, nil
}

// Current returns a copy of the latest session on the surface, or nil.
func (m *Manager) Current() *models.PlaybackSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	s := *m.current.session
	return &s
}

// Cancel requests early stop of the given session (forced-play preemption or
// removal of the playing item). The session is treated as terminal
// immediately; a late completion report from the renderer is ignored.
func (m *Manager) Cancel(sessionID uuid.UUID) {
	m.mu.Lock()
	var done *DoneEvent
	if a := m.matchLocked(sessionID); a != nil {
		done = m.cancelLocked(a, models.OutcomeCancelled)
	}
	m.mu.Unlock()
	m.fire(done)
}

// FinishByTimer marks a host-timed session (image/web content the renderer
// will not end by itself) as naturally completed and tells the module to
// stop rendering.
func (m *Manager) FinishByTimer(sessionID uuid.UUID) {
	m.mu.Lock()
	var done *DoneEvent
	if a := m.matchLocked(sessionID); a != nil {
		_ = m.coord.Stop(a.session.ModuleID, a.session.ID)
		done = m.finishLocked(a, models.SessionCompleted, models.OutcomeCompleted, true)
	}
	m.mu.Unlock()
	m.fire(done)
}

// OnAck transitions a pending session to Playing.
func (m *Manager) OnAck(sessionID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.matchLocked(sessionID)
	if a == nil || a.session.Status != models.SessionPending {
		return
	}
	a.ackTimer.Stop()
	a.session.Status = models.SessionPlaying
	a.session.StartedAt = m.now()
	if d := m.playDuration(a.item); d > 0 {
		end := a.session.StartedAt.Add(d)
		a.session.ExpectedEnd = &end
	}
	m.logger.Debug("session playing", zap.String("session_id", sessionID.String()))
}

// OnProgress records renderer progress; currently log-only.
func (m *Manager) OnProgress(sessionID uuid.UUID, positionMS int64) {
	m.logger.Debug("session progress",
		zap.String("session_id", sessionID.String()),
		zap.Int64("position_ms", positionMS),
	)
}

// OnComplete handles a renderer completion report.
func (m *Manager) OnComplete(sessionID uuid.UUID, outcome models.PlayOutcome) {
	status := models.SessionCompleted
	if outcome == models.OutcomeCancelled {
		status = models.SessionCancelled
	}
	m.mu.Lock()
	var done *DoneEvent
	if a := m.matchLocked(sessionID); a != nil {
		done = m.finishLocked(a, status, outcome, true)
	}
	m.mu.Unlock()
	m.fire(done)
}

// OnError handles a renderer error report.
func (m *Manager) OnError(sessionID uuid.UUID, reason string) {
	m.logger.Warn("session failed in renderer",
		zap.String("session_id", sessionID.String()),
		zap.String("reason", reason),
	)
	m.mu.Lock()
	var done *DoneEvent
	if a := m.matchLocked(sessionID); a != nil {
		done = m.finishLocked(a, models.SessionFailed, models.OutcomeFailed, false)
	}
	m.mu.Unlock()
	m.fire(done)
}

// OnModuleLost fails the active session if it is assigned to the lost module.
func (m *Manager) OnModuleLost(moduleID uuid.UUID) {
	m.mu.Lock()
	var done *DoneEvent
	if m.current != nil && !m.current.session.Status.Terminal() && m.current.session.ModuleID == moduleID {
		m.logger.Warn("active session lost its module",
			zap.String("session_id", m.current.session.ID.String()),
			zap.String("module_id", moduleID.String()),
		)
		done = m.finishLocked(m.current, models.SessionFailed, models.OutcomeFailed, false)
	}
	m.mu.Unlock()
	m.fire(done)
}

func (m *Manager) ackExpired(sessionID uuid.UUID) {
	m.mu.Lock()
	var done *DoneEvent
	if a := m.matchLocked(sessionID); a != nil && a.session.Status == models.SessionPending {
		m.logger.Warn("play command not acknowledged in time",
			zap.String("session_id", sessionID.String()),
			zap.String("module_id", a.session.ModuleID.String()),
		)
		m.coord.MarkUnresponsive(a.session.ModuleID)
		done = m.finishLocked(a, models.SessionFailed, models.OutcomeFailed, false)
	}
	m.mu.Unlock()
	m.fire(done)
}

// matchLocked returns the active session if it matches the ID and is not yet
// terminal. Late events for superseded sessions fall through to nil.
func (m *Manager) matchLocked(sessionID uuid.UUID) *activeSession {
	if m.current == nil || m.current.session.ID != sessionID || m.current.session.Status.Terminal() {
		return nil
	}
	return m.current
}

// cancelLocked stops and terminates a session as Cancelled.
func (m *Manager) cancelLocked(a *activeSession, outcome models.PlayOutcome) *DoneEvent {
	_ = m.coord.Stop(a.session.ModuleID, a.session.ID)
	return m.finishLocked(a, models.SessionCancelled, outcome, true)
}

// finishLocked applies a terminal status. Cancelled counts toward play
// history like Completed (the content was on screen); Failed does not, so a
// broken item cannot burn down its own fairness penalty.
func (m *Manager) finishLocked(a *activeSession, status models.SessionStatus, outcome models.PlayOutcome, record bool) *DoneEvent {
	if a.ackTimer != nil {
		a.ackTimer.Stop()
	}
	a.session.Status = status
	ended := m.now()

	if record {
		m.cat.RecordPlay(a.session.ContentID, ended)
	}
	if m.reporter != nil {
		report := models.PlayReport{
			SessionID: a.session.ID,
			SurfaceID: a.session.SurfaceID,
			ContentID: a.session.ContentID,
			ModuleID:  a.session.ModuleID,
			Outcome:   outcome,
			StartedAt: a.session.StartedAt,
			EndedAt:   ended,
		}
		if err := m.reporter.EnqueuePlayReport(context.Background(), report); err != nil {
			m.logger.Error("enqueue play report", zap.Error(err))
		}
	}
	m.logger.Info("session finished",
		zap.String("session_id", a.session.ID.String()),
		zap.String("outcome", string(outcome)),
	)
	return &DoneEvent{
		SessionID: a.session.ID,
		ContentID: a.session.ContentID,
		Outcome:   outcome,
		Forced:    a.session.Forced,
	}
}

func (m *Manager) playDuration(item *models.ContentItem) time.Duration {
	return item.Duration
}

func (m *Manager) fire(ev *DoneEvent) {
	if ev != nil && m.onDone != nil {
		m.onDone(*ev)
	}
}
