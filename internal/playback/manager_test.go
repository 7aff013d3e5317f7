package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulseboard/signage/internal/catalogue"
	"github.com/pulseboard/signage/internal/models"
)

type fakeCoordinator struct {
	mu           sync.Mutex
	moduleID     uuid.UUID
	dispatchErr  error
	dispatched   []uuid.UUID // session IDs
	stopped      []uuid.UUID
	unresponsive []uuid.UUID
}

func (f *fakeCoordinator) Dispatch(session *models.PlaybackSession, kind models.ContentKind, ref string, d time.Duration) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dispatchErr != nil {
		return uuid.Nil, f.dispatchErr
	}
	f.dispatched = append(f.dispatched, session.ID)
	return f.moduleID, nil
}

func (f *fakeCoordinator) Stop(moduleID, sessionID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, sessionID)
	return nil
}

func (f *fakeCoordinator) MarkUnresponsive(moduleID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unresponsive = append(f.unresponsive, moduleID)
}

func (f *fakeCoordinator) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stopped)
}

type doneRecorder struct {
	mu     sync.Mutex
	events []DoneEvent
}

func (r *doneRecorder) handler(ev DoneEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *doneRecorder) all() []DoneEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]DoneEvent(nil), r.events...)
}

func newTestManager(t *testing.T, coord *fakeCoordinator) (*Manager, *catalogue.Catalogue, *doneRecorder) {
	t.Helper()
	cat := catalogue.New(zap.NewNop())
	m := NewManager("main", coord, cat, time.Hour, zap.NewNop())
	rec := &doneRecorder{}
	m.SetDoneHandler(rec.handler)
	return m, cat, rec
}

func seedItem(t *testing.T, cat *catalogue.Catalogue) *models.ContentItem {
	t.Helper()
	item := &models.ContentItem{
		ID:         uuid.New(),
		Kind:       models.KindImage,
		PayloadRef: "https://cdn/x.png",
		Weight:     1,
		Revision:   1,
	}
	if err := cat.ApplyUpdate(models.CatalogueUpdate{Op: models.OpUpsert, ID: item.ID, Item: item}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return item
}

func TestStartRefusedWhileBusy(t *testing.T) {
	coord := &fakeCoordinator{moduleID: uuid.New()}
	m, cat, _ := newTestManager(t, coord)
	item := seedItem(t, cat)

	if _, err := m.Start(context.Background(), item, false); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if _, err := m.Start(context.Background(), item, false); !errors.Is(err, ErrSurfaceBusy) {
		t.Fatalf("second start = %v, want ErrSurfaceBusy", err)
	}
}

func TestForcedStartPreempts(t *testing.T) {
	coord := &fakeCoordinator{moduleID: uuid.New()}
	m, cat, rec := newTestManager(t, coord)
	item := seedItem(t, cat)

	first, err := m.Start(context.Background(), item, false)
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	second, err := m.Start(context.Background(), item, true)
	if err != nil {
		t.Fatalf("forced start: %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("forced start reused the old session")
	}
	if !second.Forced {
		t.Error("forced session not flagged")
	}
	if coord.stopCount() != 1 {
		t.Errorf("stop sent %d times, want 1 (for the preempted session)", coord.stopCount())
	}

	events := rec.all()
	if len(events) != 1 || events[0].SessionID != first.ID || events[0].Outcome != models.OutcomeCancelled {
		t.Fatalf("done events = %+v, want one Cancelled for the first session", events)
	}
	if got := m.Current(); got == nil || got.ID != second.ID {
		t.Fatal("current session is not the forced one")
	}
}

func TestAckTransitionsToPlaying(t *testing.T) {
	coord := &fakeCoordinator{moduleID: uuid.New()}
	m, cat, _ := newTestManager(t, coord)
	item := seedItem(t, cat)
	item.Duration = 10 * time.Second

	sess, err := m.Start(context.Background(), item, false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if m.Current().Status != models.SessionPending {
		t.Fatal("session not pending before ack")
	}

	m.OnAck(sess.ID)
	cur := m.Current()
	if cur.Status != models.SessionPlaying {
		t.Fatalf("status after ack = %s, want playing", cur.Status)
	}
	if cur.ExpectedEnd == nil {
		t.Error("ExpectedEnd not set for item with a duration hint")
	}

	// A second ack is a no-op.
	m.OnAck(sess.ID)
	if m.Current().Status != models.SessionPlaying {
		t.Error("duplicate ack changed state")
	}
}

func TestAckTimeoutFailsSession(t *testing.T) {
	coord := &fakeCoordinator{moduleID: uuid.New()}
	cat := catalogue.New(zap.NewNop())
	m := NewManager("main", coord, cat, 20*time.Millisecond, zap.NewNop())
	rec := &doneRecorder{}
	m.SetDoneHandler(rec.handler)
	item := seedItem(t, cat)

	sess, err := m.Start(context.Background(), item, false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		if st := m.Current().Status; st == models.SessionFailed {
			break
		}
		select {
		case <-deadline:
			t.Fatal("session never failed after ack timeout")
		case <-time.After(5 * time.Millisecond):
		}
	}

	coord.mu.Lock()
	unresp := len(coord.unresponsive)
	coord.mu.Unlock()
	if unresp != 1 {
		t.Errorf("module marked unresponsive %d times, want 1", unresp)
	}
	events := rec.all()
	if len(events) != 1 || events[0].SessionID != sess.ID || events[0].Outcome != models.OutcomeFailed {
		t.Fatalf("done events = %+v, want one Failed", events)
	}
	// Failed plays do not touch history.
	got, _ := cat.Snapshot().Item(item.ID)
	if got.PlayCount != 0 {
		t.Errorf("PlayCount = %d after failure, want 0", got.PlayCount)
	}
}

func TestCompleteRecordsHistory(t *testing.T) {
	coord := &fakeCoordinator{moduleID: uuid.New()}
	m, cat, rec := newTestManager(t, coord)
	item := seedItem(t, cat)

	sess, _ := m.Start(context.Background(), item, false)
	m.OnAck(sess.ID)
	m.OnComplete(sess.ID, models.OutcomeCompleted)

	got, _ := cat.Snapshot().Item(item.ID)
	if got.PlayCount != 1 {
		t.Errorf("PlayCount = %d, want 1", got.PlayCount)
	}
	if got.LastPlayed == nil {
		t.Error("LastPlayed not set")
	}
	events := rec.all()
	if len(events) != 1 || events[0].Outcome != models.OutcomeCompleted {
		t.Fatalf("done events = %+v, want one Completed", events)
	}

	// Exactly one terminal transition: a late duplicate completion is ignored.
	m.OnComplete(sess.ID, models.OutcomeCompleted)
	if len(rec.all()) != 1 {
		t.Error("duplicate completion produced a second done event")
	}
}

func TestCancelRecordsHistory(t *testing.T) {
	coord := &fakeCoordinator{moduleID: uuid.New()}
	m, cat, rec := newTestManager(t, coord)
	item := seedItem(t, cat)

	sess, _ := m.Start(context.Background(), item, false)
	m.OnAck(sess.ID)
	m.Cancel(sess.ID)

	got, _ := cat.Snapshot().Item(item.ID)
	if got.PlayCount != 1 {
		t.Errorf("PlayCount = %d after cancel, want 1 (content was on screen)", got.PlayCount)
	}
	events := rec.all()
	if len(events) != 1 || events[0].Outcome != models.OutcomeCancelled {
		t.Fatalf("done events = %+v, want one Cancelled", events)
	}
	if coord.stopCount() != 1 {
		t.Errorf("stop sent %d times, want 1", coord.stopCount())
	}
}

func TestFinishByTimer(t *testing.T) {
	coord := &fakeCoordinator{moduleID: uuid.New()}
	m, cat, rec := newTestManager(t, coord)
	item := seedItem(t, cat)

	sess, _ := m.Start(context.Background(), item, false)
	m.OnAck(sess.ID)
	m.FinishByTimer(sess.ID)

	if m.Current().Status != models.SessionCompleted {
		t.Fatalf("status = %s, want completed", m.Current().Status)
	}
	if coord.stopCount() != 1 {
		t.Error("timer finish did not tell the module to stop")
	}
	events := rec.all()
	if len(events) != 1 || events[0].Outcome != models.OutcomeCompleted {
		t.Fatalf("done events = %+v, want one Completed", events)
	}
}

func TestOnModuleLostFailsActiveSession(t *testing.T) {
	moduleID := uuid.New()
	coord := &fakeCoordinator{moduleID: moduleID}
	m, cat, rec := newTestManager(t, coord)
	item := seedItem(t, cat)

	sess, _ := m.Start(context.Background(), item, false)
	m.OnAck(sess.ID)

	// A different module dropping is irrelevant.
	m.OnModuleLost(uuid.New())
	if m.Current().Status != models.SessionPlaying {
		t.Fatal("unrelated module loss touched the session")
	}

	m.OnModuleLost(moduleID)
	if m.Current().Status != models.SessionFailed {
		t.Fatalf("status = %s after module loss, want failed", m.Current().Status)
	}
	events := rec.all()
	if len(events) != 1 || events[0].Outcome != models.OutcomeFailed {
		t.Fatalf("done events = %+v, want one Failed", events)
	}
}

func TestStaleEventsIgnored(t *testing.T) {
	coord := &fakeCoordinator{moduleID: uuid.New()}
	m, cat, rec := newTestManager(t, coord)
	item := seedItem(t, cat)

	first, _ := m.Start(context.Background(), item, false)
	m.OnAck(first.ID)
	second, _ := m.Start(context.Background(), item, true) // preempts first

	// Late events for the cancelled session must not touch the new one.
	m.OnComplete(first.ID, models.OutcomeCompleted)
	m.OnError(first.ID, "decode error")

	if got := m.Current(); got.ID != second.ID || got.Status != models.SessionPending {
		t.Fatalf("current = %s/%s, want pending second session", got.ID, got.Status)
	}
	for _, ev := range rec.all()[1:] {
		if ev.SessionID == first.ID && ev.Outcome != models.OutcomeCancelled {
			t.Errorf("stale event produced extra transition: %+v", ev)
		}
	}
}

func TestDispatchFailurePropagates(t *testing.T) {
	coord := &fakeCoordinator{dispatchErr: errors.New("no capable module")}
	m, cat, rec := newTestManager(t, coord)
	item := seedItem(t, cat)

	if _, err := m.Start(context.Background(), item, false); err == nil {
		t.Fatal("start succeeded despite dispatch failure")
	}
	if m.Current() != nil {
		t.Error("failed start left a current session")
	}
	if len(rec.all()) != 0 {
		t.Error("failed start fired a done event")
	}
}
