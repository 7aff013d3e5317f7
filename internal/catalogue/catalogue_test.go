package catalogue

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulseboard/signage/internal/models"
)

func testItem(rev int64) *models.ContentItem {
	return &models.ContentItem{
		Kind:       models.KindImage,
		PayloadRef: "s3://bucket/a.png",
		Weight:     1,
		Revision:   rev,
	}
}

func upsert(t *testing.T, c *Catalogue, id uuid.UUID, item *models.ContentItem) {
	t.Helper()
	if err := c.ApplyUpdate(models.CatalogueUpdate{Op: models.OpUpsert, ID: id, Item: item}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
}

func TestApplyUpdateAddRemove(t *testing.T) {
	c := New(zap.NewNop())
	id := uuid.New()

	upsert(t, c, id, testItem(1))
	if c.Snapshot().Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Snapshot().Len())
	}
	if _, ok := c.Snapshot().Item(id); !ok {
		t.Fatal("item missing from snapshot")
	}

	if err := c.ApplyUpdate(models.CatalogueUpdate{Op: models.OpRemove, ID: id}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if c.Snapshot().Len() != 0 {
		t.Fatal("item still present after remove")
	}

	err := c.ApplyUpdate(models.CatalogueUpdate{Op: models.OpRemove, ID: id})
	if !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("remove of unknown item = %v, want ErrItemNotFound", err)
	}
}

func TestApplyUpdateStaleRevision(t *testing.T) {
	c := New(zap.NewNop())
	id := uuid.New()

	upsert(t, c, id, testItem(5))

	// Same revision loses.
	err := c.ApplyUpdate(models.CatalogueUpdate{Op: models.OpUpsert, ID: id, Item: testItem(5)})
	if !errors.Is(err, models.ErrStaleRevision) {
		t.Fatalf("same-revision upsert = %v, want ErrStaleRevision", err)
	}

	// Older revision loses.
	err = c.ApplyUpdate(models.CatalogueUpdate{Op: models.OpUpsert, ID: id, Item: testItem(3)})
	if !errors.Is(err, models.ErrStaleRevision) {
		t.Fatalf("older-revision upsert = %v, want ErrStaleRevision", err)
	}

	// Newer revision wins.
	newer := testItem(6)
	newer.Weight = 9
	upsert(t, c, id, newer)
	got, _ := c.Snapshot().Item(id)
	if got.Weight != 9 || got.Revision != 6 {
		t.Fatalf("item = weight %v rev %d, want weight 9 rev 6", got.Weight, got.Revision)
	}
}

func TestApplyUpdateRejectsInvalid(t *testing.T) {
	c := New(zap.NewNop())
	id := uuid.New()
	upsert(t, c, id, testItem(1))
	before := c.Snapshot()

	bad := testItem(2)
	bad.Weight = -1
	err := c.ApplyUpdate(models.CatalogueUpdate{Op: models.OpUpsert, ID: id, Item: bad})
	if !errors.Is(err, models.ErrNegativeWeight) {
		t.Fatalf("invalid upsert = %v, want ErrNegativeWeight", err)
	}
	if c.Snapshot() != before {
		t.Fatal("rejected update published a new snapshot")
	}
}

func TestModifyPreservesHistory(t *testing.T) {
	c := New(zap.NewNop())
	id := uuid.New()
	upsert(t, c, id, testItem(1))

	played := time.Now()
	c.RecordPlay(id, played)
	c.RecordPlay(id, played.Add(time.Minute))

	upsert(t, c, id, testItem(2))
	got, _ := c.Snapshot().Item(id)
	if got.PlayCount != 2 {
		t.Errorf("PlayCount = %d after modify, want 2", got.PlayCount)
	}
	if got.LastPlayed == nil || !got.LastPlayed.Equal(played.Add(time.Minute)) {
		t.Errorf("LastPlayed = %v after modify, want %v", got.LastPlayed, played.Add(time.Minute))
	}
}

func TestSnapshotIsolation(t *testing.T) {
	c := New(zap.NewNop())
	id := uuid.New()
	upsert(t, c, id, testItem(1))

	old := c.Snapshot()
	oldItem, _ := old.Item(id)

	c.RecordPlay(id, time.Now())

	if oldItem.PlayCount != 0 {
		t.Error("earlier snapshot observed a later play")
	}
	fresh, _ := c.Snapshot().Item(id)
	if fresh.PlayCount != 1 {
		t.Errorf("fresh snapshot PlayCount = %d, want 1", fresh.PlayCount)
	}
	if c.Snapshot().Version <= old.Version {
		t.Error("publish did not advance the snapshot version")
	}
}

func TestSetSuspended(t *testing.T) {
	c := New(zap.NewNop())
	id := uuid.New()
	upsert(t, c, id, testItem(1))

	if err := c.SetSuspended(id, true); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	got, _ := c.Snapshot().Item(id)
	if !got.Suspended {
		t.Fatal("item not suspended in snapshot")
	}

	v := c.Snapshot().Version
	if err := c.SetSuspended(id, true); err != nil {
		t.Fatalf("no-op suspend: %v", err)
	}
	if c.Snapshot().Version != v {
		t.Error("no-op suspend published a snapshot")
	}

	if err := c.SetSuspended(uuid.New(), true); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("suspend unknown = %v, want ErrItemNotFound", err)
	}
}

func TestPruneExpired(t *testing.T) {
	c := New(zap.NewNop())
	now := time.Now()

	gone := testItem(1)
	gone.Windows = []models.Window{{Start: now.Add(-2 * time.Hour), End: now.Add(-time.Hour)}}
	upsert(t, c, uuid.New(), gone)

	alive := testItem(1)
	alive.Windows = []models.Window{{Start: now.Add(-time.Hour), End: now.Add(time.Hour)}}
	aliveID := uuid.New()
	upsert(t, c, aliveID, alive)

	forever := testItem(1)
	foreverID := uuid.New()
	upsert(t, c, foreverID, forever)

	if removed := c.PruneExpired(now); removed != 1 {
		t.Fatalf("PruneExpired = %d, want 1", removed)
	}
	if c.Snapshot().Len() != 2 {
		t.Fatalf("Len = %d after prune, want 2", c.Snapshot().Len())
	}
	if _, ok := c.Snapshot().Item(aliveID); !ok {
		t.Error("windowed item still in validity was pruned")
	}
	if _, ok := c.Snapshot().Item(foreverID); !ok {
		t.Error("windowless item was pruned")
	}
}

func TestChangeHandlerFires(t *testing.T) {
	c := New(zap.NewNop())
	var fired int
	c.SetChangeHandler(func() { fired++ })

	upsert(t, c, uuid.New(), testItem(1))
	if fired != 1 {
		t.Fatalf("handler fired %d times, want 1", fired)
	}
}
