// Package scheduler runs the top-level control loop: evaluate eligibility,
// draw a winner, start playback, await the outcome, repeat. All scheduling
// decisions happen on one goroutine; catalogue updates, renderer events and
// forced-play triggers arrive through a single ordered event channel.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulseboard/signage/config"
	"github.com/pulseboard/signage/internal/catalogue"
	"github.com/pulseboard/signage/internal/eligibility"
	"github.com/pulseboard/signage/internal/models"
	"github.com/pulseboard/signage/internal/playback"
)

// retryDelay bounds how long the screen can sit on a failed cycle (e.g. no
// capable module at all) before the loop tries again.
const retryDelay = 2 * time.Second

var ErrUnknownForcedContent = errors.New("forced-play content is not in the catalogue")

type eventKind int

const (
	evCatalogue eventKind = iota
	evForced
	evDone
)

type event struct {
	kind   eventKind
	forced *models.ContentItem
	done   playback.DoneEvent
}

// Capabilities reports which content kinds have a live renderer. Items of
// unsupported kinds are skipped until a capable module reconnects.
type Capabilities interface {
	CapableKinds() map[models.ContentKind]bool
}

// Selector draws one winner from an eligibility set.
type Selector interface {
	Select(entries []eligibility.Entry) (*models.ContentItem, bool)
}

// Loop is the scheduling control loop for one display surface.
type Loop struct {
	cat   *catalogue.Catalogue
	eval  *eligibility.Evaluator
	sel   Selector
	mgr   *playback.Manager
	caps  Capabilities
	cfg   config.SchedulingConfig
	clock func() time.Time

	events      chan event
	defaultItem *models.ContentItem
	forcedNext  *models.ContentItem
	retryNext   uuid.UUID
	logger      *zap.Logger
}

// New creates the scheduling loop. The default/filler item is built from
// configuration; config validation has already guaranteed it exists.
func New(cat *catalogue.Catalogue, eval *eligibility.Evaluator, sel Selector, mgr *playback.Manager, caps Capabilities, cfg config.SchedulingConfig, logger *zap.Logger) *Loop {
	l := &Loop{
		cat:    cat,
		eval:   eval,
		sel:    sel,
		mgr:    mgr,
		caps:   caps,
		cfg:    cfg,
		clock:  time.Now,
		events: make(chan event, 128),
		defaultItem: &models.ContentItem{
			ID:         uuid.New(),
			Kind:       models.ContentKind(cfg.DefaultItemKind),
			PayloadRef: cfg.DefaultItemURI,
			Duration:   cfg.DefaultDuration,
		},
		logger: logger,
	}
	cat.SetChangeHandler(l.NotifyCatalogue)
	mgr.SetDoneHandler(l.notifyDone)
	return l
}

// NotifyCatalogue wakes the loop after a snapshot publish. Non-blocking:
// bursts of updates coalesce into however many notifications fit the buffer.
func (l *Loop) NotifyCatalogue() {
	select {
	case l.events <- event{kind: evCatalogue}:
	default:
	}
}

// Forced validates and enqueues a forced-play request. The most recent
// request wins the next scheduling decision regardless of weights.
func (l *Loop) Forced(req models.ForcedPlayRequest) error {
	item := req.Item
	if req.ContentID != uuid.Nil {
		found, ok := l.cat.Snapshot().Item(req.ContentID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownForcedContent, req.ContentID)
		}
		item = found
	}
	if item == nil {
		return errors.New("forced-play request names no content")
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if err := item.Validate(); err != nil {
		return fmt.Errorf("forced-play item rejected: %w", err)
	}
	select {
	case l.events <- event{kind: evForced, forced: item.Clone()}:
		return nil
	case <-time.After(time.Second):
		return errors.New("scheduler event queue saturated")
	}
}

func (l *Loop) notifyDone(ev playback.DoneEvent) {
	select {
	case l.events <- event{kind: evDone, done: ev}:
	default:
		// The loop always drains before starting a new session, so a full
		// buffer here means the process is beyond saving anyway.
		l.logger.Error("dropped session done event", zap.String("session_id", ev.SessionID.String()))
	}
}

// Run drives the scheduling cycle until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("scheduling loop started", zap.String("surface", l.cfg.SurfaceID))
	for {
		if ctx.Err() != nil {
			return
		}

		item, forced := l.next()
		session, err := l.mgr.Start(ctx, item, forced)
		if err != nil {
			if forced {
				l.logger.Warn("forced-play start failed", zap.String("content_id", item.ID.String()), zap.Error(err))
			} else {
				l.logger.Warn("cycle start failed", zap.String("content_id", item.ID.String()), zap.Error(err))
				l.retryNext = uuid.Nil
			}
			if !l.pause(ctx, retryDelay) {
				return
			}
			continue
		}

		if !l.await(ctx, session, item) {
			return
		}
	}
}

// next decides what plays in this cycle: a pending forced item if still
// admissible, otherwise the lottery winner, otherwise the default item.
func (l *Loop) next() (*models.ContentItem, bool) {
	l.drain()
	now := l.clock()
	snap := l.cat.Snapshot()

	if l.forcedNext != nil {
		item := l.forcedNext
		l.forcedNext = nil
		if l.eval.Forced(item, snap, now, l.cfg.ForcedBypassCooldown) {
			return item, true
		}
		l.logger.Warn("forced-play item no longer admissible", zap.String("content_id", item.ID.String()))
	}

	entries := l.eligible(snap, now)

	if l.retryNext != uuid.Nil {
		id := l.retryNext
		l.retryNext = uuid.Nil
		for _, e := range entries {
			if e.Item.ID == id {
				return e.Item, false
			}
		}
	}

	if item, ok := l.sel.Select(entries); ok {
		return item, false
	}
	l.logger.Warn("no eligible content, falling back to default item")
	return l.defaultItem, false
}

// eligible filters the evaluator's output down to kinds a live renderer
// supports.
func (l *Loop) eligible(snap *catalogue.Snapshot, now time.Time) []eligibility.Entry {
	entries := l.eval.Eligible(snap, now)
	caps := l.caps.CapableKinds()
	filtered := entries[:0]
	for _, e := range entries {
		if caps[e.Item.Kind] {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// await suspends until the session reaches a terminal state. The wait is
// cancellable: a forced-play trigger or removal of the playing item preempts
// immediately; the duration timer ends host-timed content.
func (l *Loop) await(ctx context.Context, session *models.PlaybackSession, item *models.ContentItem) bool {
	dur := item.Duration
	if dur <= 0 {
		dur = l.cfg.DefaultDuration
	}
	timer := time.NewTimer(dur)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			l.mgr.Cancel(session.ID)
			return false

		case <-timer.C:
			l.mgr.FinishByTimer(session.ID)
			// The terminal transition arrives as an evDone below.

		case ev := <-l.events:
			switch ev.kind {
			case evDone:
				if ev.done.SessionID != session.ID {
					continue // stale event from a preempted session
				}
				if ev.done.Outcome == models.OutcomeFailed && ev.done.ContentID != l.defaultItem.ID {
					// Retry on another capable module; the failed one is
					// already marked unresponsive.
					l.retryNext = ev.done.ContentID
				}
				return true

			case evForced:
				l.forcedNext = ev.forced
				l.mgr.Cancel(session.ID)

			case evCatalogue:
				if _, ok := l.cat.Snapshot().Item(item.ID); !ok && item.ID != l.defaultItem.ID {
					l.logger.Info("playing item removed from catalogue, preempting",
						zap.String("content_id", item.ID.String()))
					l.mgr.Cancel(session.ID)
				}
			}
		}
	}
}

// drain applies any queued events without blocking, keeping only the most
// recent forced request (the latest is authoritative).
func (l *Loop) drain() {
	for {
		select {
		case ev := <-l.events:
			if ev.kind == evForced {
				l.forcedNext = ev.forced
			}
		default:
			return
		}
	}
}

// pause waits out a retry delay but stays responsive to events. Returns
// false when ctx ended.
func (l *Loop) pause(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case ev := <-l.events:
		if ev.kind == evForced {
			l.forcedNext = ev.forced
		}
		return true
	}
}
