package catalogue

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulseboard/signage/internal/models"
)

var ErrItemNotFound = errors.New("content item not found")

// Snapshot is an immutable, versioned view of the catalogue. Readers receive
// a reference and must never mutate the items; the catalogue hands out deep
// copies so a stale reader cannot observe later updates.
type Snapshot struct {
	Version uint64
	items   map[uuid.UUID]*models.ContentItem
}

// Item returns the item with the given ID, if present.
func (s *Snapshot) Item(id uuid.UUID) (*models.ContentItem, bool) {
	it, ok := s.items[id]
	return it, ok
}

// Items returns all items in the snapshot.
func (s *Snapshot) Items() []*models.ContentItem {
	out := make([]*models.ContentItem, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	return out
}

// Len returns the number of items in the snapshot.
func (s *Snapshot) Len() int { return len(s.items) }

// ChangeHandler is invoked after each published snapshot, outside the
// catalogue lock. The scheduling loop uses it to re-evaluate immediately.
type ChangeHandler func()

// Catalogue holds the live set of schedulable content items and publishes
// immutable snapshots. Updates are serialized; a snapshot is either fully
// pre-update or fully post-update.
type Catalogue struct {
	mu       sync.Mutex
	items    map[uuid.UUID]*models.ContentItem
	snap     atomic.Pointer[Snapshot]
	version  uint64
	logger   *zap.Logger
	onChange ChangeHandler
}

// New creates an empty catalogue.
func New(logger *zap.Logger) *Catalogue {
	c := &Catalogue{
		items:  make(map[uuid.UUID]*models.ContentItem),
		logger: logger,
	}
	c.snap.Store(&Snapshot{Version: 0, items: map[uuid.UUID]*models.ContentItem{}})
	return c
}

// SetChangeHandler sets the callback invoked after each snapshot publish.
func (c *Catalogue) SetChangeHandler(fn ChangeHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// Snapshot returns the latest published snapshot in O(1).
func (c *Catalogue) Snapshot() *Snapshot {
	return c.snap.Load()
}

// ApplyUpdate merges an add/modify/remove event into the live item set and
// publishes a new snapshot. Malformed updates are rejected and leave the
// catalogue unchanged. Redelivered or out-of-order events lose on revision.
func (c *Catalogue) ApplyUpdate(u models.CatalogueUpdate) error {
	c.mu.Lock()
	switch u.Op {
	case models.OpUpsert:
		if u.Item == nil {
			c.mu.Unlock()
			return fmt.Errorf("upsert for %s carries no item", u.ID)
		}
		item := u.Item.Clone()
		item.ID = u.ID
		if err := item.Validate(); err != nil {
			c.mu.Unlock()
			c.logger.Warn("catalogue update rejected", zap.String("item_id", u.ID.String()), zap.Error(err))
			return err
		}
		if prev, ok := c.items[u.ID]; ok {
			if item.Revision <= prev.Revision {
				c.mu.Unlock()
				return fmt.Errorf("%w: item %s rev %d <= %d", models.ErrStaleRevision, u.ID, item.Revision, prev.Revision)
			}
			// History survives a modify; it belongs to the scheduler, not the feed.
			item.PlayCount = prev.PlayCount
			item.LastPlayed = prev.LastPlayed
		}
		c.items[u.ID] = item
	case models.OpRemove:
		if _, ok := c.items[u.ID]; !ok {
			c.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrItemNotFound, u.ID)
		}
		delete(c.items, u.ID)
	default:
		c.mu.Unlock()
		return fmt.Errorf("unknown catalogue update op %q", u.Op)
	}
	c.publishLocked()
	return nil
}

// RecordPlay bumps the play history for an item after a play reached a
// terminal state and publishes a new snapshot so the next eligibility pass
// sees fresh recency data.
func (c *Catalogue) RecordPlay(id uuid.UUID, at time.Time) {
	c.mu.Lock()
	item, ok := c.items[id]
	if !ok {
		// Item was removed while playing; nothing to record.
		c.mu.Unlock()
		return
	}
	item.PlayCount++
	t := at
	item.LastPlayed = &t
	c.publishLocked()
}

// SetSuspended flags an item as suspended (or resumes it) without removing
// it from the catalogue.
func (c *Catalogue) SetSuspended(id uuid.UUID, suspended bool) error {
	c.mu.Lock()
	item, ok := c.items[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	if item.Suspended == suspended {
		c.mu.Unlock()
		return nil
	}
	item.Suspended = suspended
	c.publishLocked()
	return nil
}

// PruneExpired removes items whose validity windows have all ended before
// now. Returns the number of items removed.
func (c *Catalogue) PruneExpired(now time.Time) int {
	c.mu.Lock()
	var removed int
	for id, item := range c.items {
		if item.Expired(now) {
			delete(c.items, id)
			removed++
		}
	}
	if removed == 0 {
		c.mu.Unlock()
		return 0
	}
	c.publishLocked()
	return removed
}

// Load replaces the live set wholesale, used at startup to restore the
// persisted catalogue before the feed takes over.
func (c *Catalogue) Load(items []*models.ContentItem) {
	c.mu.Lock()
	c.items = make(map[uuid.UUID]*models.ContentItem, len(items))
	for _, it := range items {
		c.items[it.ID] = it.Clone()
	}
	c.publishLocked()
}

// publishLocked builds and stores a new immutable snapshot, then releases the
// lock and fires the change handler.
func (c *Catalogue) publishLocked() {
	c.version++
	snap := &Snapshot{
		Version: c.version,
		items:   make(map[uuid.UUID]*models.ContentItem, len(c.items)),
	}
	for id, it := range c.items {
		snap.items[id] = it.Clone()
	}
	c.snap.Store(snap)
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}
