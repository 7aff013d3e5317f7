package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulseboard/signage/config"
	"github.com/pulseboard/signage/internal/catalogue"
	"github.com/pulseboard/signage/internal/eligibility"
	"github.com/pulseboard/signage/internal/lottery"
	"github.com/pulseboard/signage/internal/models"
	"github.com/pulseboard/signage/internal/playback"
)

type fakeRenderer struct {
	mu         sync.Mutex
	moduleID   uuid.UUID
	kinds      map[models.ContentKind]bool
	dispatched []string // content refs in dispatch order
}

func (f *fakeRenderer) Dispatch(session *models.PlaybackSession, kind models.ContentKind, ref string, d time.Duration) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, ref)
	return f.moduleID, nil
}

func (f *fakeRenderer) Stop(moduleID, sessionID uuid.UUID) error { return nil }
func (f *fakeRenderer) MarkUnresponsive(moduleID uuid.UUID)      {}

func (f *fakeRenderer) CapableKinds() map[models.ContentKind]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.kinds
}

func (f *fakeRenderer) refs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dispatched...)
}

func testSchedCfg() config.SchedulingConfig {
	return config.SchedulingConfig{
		SurfaceID:            "main",
		CooldownDuration:     time.Minute,
		FairnessDecay:        0.85,
		FairnessWindow:       time.Hour,
		AckTimeout:           time.Hour, // acks are not exercised here
		HeartbeatInterval:    10 * time.Second,
		HeartbeatMisses:      3,
		DefaultDuration:      20 * time.Millisecond,
		DefaultItemURI:       "file:///default.png",
		DefaultItemKind:      "image",
		ForcedBypassCooldown: true,
	}
}

func newTestLoop(t *testing.T, renderer *fakeRenderer) (*Loop, *catalogue.Catalogue, *playback.Manager) {
	t.Helper()
	cfg := testSchedCfg()
	cat := catalogue.New(zap.NewNop())
	mgr := playback.NewManager(cfg.SurfaceID, renderer, cat, cfg.AckTimeout, zap.NewNop())
	eval := eligibility.New(cfg, zap.NewNop())
	sel := lottery.New(rand.NewSource(1))
	loop := New(cat, eval, sel, mgr, renderer, cfg, zap.NewNop())
	return loop, cat, mgr
}

func seed(t *testing.T, cat *catalogue.Catalogue, item *models.ContentItem) {
	t.Helper()
	if err := cat.ApplyUpdate(models.CatalogueUpdate{Op: models.OpUpsert, ID: item.ID, Item: item}); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func waitRefs(t *testing.T, renderer *fakeRenderer, n int) []string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if got := renderer.refs(); len(got) >= n {
			return got
		}
		select {
		case <-deadline:
			t.Fatalf("renderer saw %d dispatches, wanted %d", len(renderer.refs()), n)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestLoopFallsBackToDefaultItem(t *testing.T) {
	renderer := &fakeRenderer{moduleID: uuid.New(), kinds: map[models.ContentKind]bool{models.KindImage: true}}
	loop, _, _ := newTestLoop(t, renderer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	refs := waitRefs(t, renderer, 2)
	for _, ref := range refs[:2] {
		if ref != "file:///default.png" {
			t.Fatalf("empty catalogue dispatched %q, want the default item", ref)
		}
	}
}

func TestLoopPlaysEligibleContent(t *testing.T) {
	renderer := &fakeRenderer{moduleID: uuid.New(), kinds: map[models.ContentKind]bool{models.KindImage: true}}
	loop, cat, _ := newTestLoop(t, renderer)

	seed(t, cat, &models.ContentItem{
		ID: uuid.New(), Kind: models.KindImage, PayloadRef: "https://cdn/a.png",
		Weight: 1, Revision: 1, Duration: 20 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	refs := waitRefs(t, renderer, 3)
	for _, ref := range refs[:3] {
		if ref != "https://cdn/a.png" {
			t.Fatalf("dispatched %q, want the catalogue item", ref)
		}
	}
}

func TestLoopSkipsKindsWithoutRenderer(t *testing.T) {
	// Only an image renderer is connected, so the video item must never play.
	renderer := &fakeRenderer{moduleID: uuid.New(), kinds: map[models.ContentKind]bool{models.KindImage: true}}
	loop, cat, _ := newTestLoop(t, renderer)

	seed(t, cat, &models.ContentItem{
		ID: uuid.New(), Kind: models.KindVideo, PayloadRef: "https://cdn/v.mp4",
		Weight: 100, Revision: 1,
	})
	seed(t, cat, &models.ContentItem{
		ID: uuid.New(), Kind: models.KindImage, PayloadRef: "https://cdn/a.png",
		Weight: 1, Revision: 1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	for _, ref := range waitRefs(t, renderer, 4) {
		if ref == "https://cdn/v.mp4" {
			t.Fatal("video item dispatched with no video renderer connected")
		}
	}
}

func TestForcedPlayWins(t *testing.T) {
	renderer := &fakeRenderer{moduleID: uuid.New(), kinds: map[models.ContentKind]bool{models.KindImage: true}}
	loop, cat, _ := newTestLoop(t, renderer)

	seed(t, cat, &models.ContentItem{
		ID: uuid.New(), Kind: models.KindImage, PayloadRef: "https://cdn/regular.png",
		Weight: 1, Revision: 1,
	})
	special := &models.ContentItem{
		ID: uuid.New(), Kind: models.KindImage, PayloadRef: "https://cdn/special.png",
		Weight: 0, Revision: 1,
	}
	seed(t, cat, special)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	waitRefs(t, renderer, 1)
	if err := loop.Forced(models.ForcedPlayRequest{ContentID: special.ID}); err != nil {
		t.Fatalf("forced: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		found := false
		for _, ref := range renderer.refs() {
			if ref == "https://cdn/special.png" {
				found = true
			}
		}
		if found {
			break
		}
		select {
		case <-deadline:
			t.Fatal("forced item never dispatched")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestForcedUnknownContent(t *testing.T) {
	renderer := &fakeRenderer{moduleID: uuid.New(), kinds: map[models.ContentKind]bool{models.KindImage: true}}
	loop, _, _ := newTestLoop(t, renderer)

	err := loop.Forced(models.ForcedPlayRequest{ContentID: uuid.New()})
	if err == nil {
		t.Fatal("forced play of unknown content accepted")
	}
}

func TestForcedAdHocItemValidated(t *testing.T) {
	renderer := &fakeRenderer{moduleID: uuid.New(), kinds: map[models.ContentKind]bool{models.KindImage: true}}
	loop, _, _ := newTestLoop(t, renderer)

	err := loop.Forced(models.ForcedPlayRequest{
		Item: &models.ContentItem{Kind: "audio", PayloadRef: "x"},
	})
	if err == nil {
		t.Fatal("invalid ad-hoc forced item accepted")
	}

	if err := loop.Forced(models.ForcedPlayRequest{}); err == nil {
		t.Fatal("empty forced request accepted")
	}
}

func TestNextPrefersForcedOverLottery(t *testing.T) {
	renderer := &fakeRenderer{moduleID: uuid.New(), kinds: map[models.ContentKind]bool{models.KindImage: true}}
	loop, cat, _ := newTestLoop(t, renderer)

	seed(t, cat, &models.ContentItem{
		ID: uuid.New(), Kind: models.KindImage, PayloadRef: "https://cdn/regular.png",
		Weight: 10, Revision: 1,
	})
	forced := &models.ContentItem{
		ID: uuid.New(), Kind: models.KindImage, PayloadRef: "https://cdn/forced.png",
		Weight: 0, Revision: 1,
	}
	loop.forcedNext = forced

	item, isForced := loop.next()
	if !isForced || item.ID != forced.ID {
		t.Fatalf("next() = %s forced=%v, want the forced item", item.PayloadRef, isForced)
	}

	// Consumed: the following cycle is a plain lottery pick again.
	item, isForced = loop.next()
	if isForced || item.PayloadRef != "https://cdn/regular.png" {
		t.Fatalf("second next() = %s forced=%v, want the regular item", item.PayloadRef, isForced)
	}
}

func TestNextSuspendedForcedFallsThrough(t *testing.T) {
	renderer := &fakeRenderer{moduleID: uuid.New(), kinds: map[models.ContentKind]bool{models.KindImage: true}}
	loop, _, _ := newTestLoop(t, renderer)

	forced := &models.ContentItem{
		ID: uuid.New(), Kind: models.KindImage, PayloadRef: "https://cdn/forced.png",
		Suspended: true,
	}
	loop.forcedNext = forced

	item, isForced := loop.next()
	if isForced {
		t.Fatal("suspended forced item admitted")
	}
	if item.ID != loop.defaultItem.ID {
		t.Fatalf("next() = %s, want the default item", item.PayloadRef)
	}
}

func TestNextRetriesFailedContent(t *testing.T) {
	renderer := &fakeRenderer{moduleID: uuid.New(), kinds: map[models.ContentKind]bool{models.KindImage: true}}
	loop, cat, _ := newTestLoop(t, renderer)

	a := &models.ContentItem{
		ID: uuid.New(), Kind: models.KindImage, PayloadRef: "https://cdn/a.png",
		Weight: 1, Revision: 1,
	}
	b := &models.ContentItem{
		ID: uuid.New(), Kind: models.KindImage, PayloadRef: "https://cdn/b.png",
		Weight: 1000, Revision: 1,
	}
	seed(t, cat, a)
	seed(t, cat, b)

	loop.retryNext = a.ID
	item, _ := loop.next()
	if item.ID != a.ID {
		t.Fatalf("next() = %s, want the retried item regardless of weights", item.PayloadRef)
	}

	// A retry target that is no longer eligible is dropped silently.
	loop.retryNext = uuid.New()
	if _, forced := loop.next(); forced {
		t.Fatal("stale retry target produced a forced pick")
	}
	if loop.retryNext != uuid.Nil {
		t.Fatal("stale retry target not cleared")
	}
}
