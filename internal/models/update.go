package models

import (
	"errors"

	"github.com/google/uuid"
)

// UpdateOp is the operation carried by a catalogue update event.
type UpdateOp string

const (
	OpUpsert UpdateOp = "upsert"
	OpRemove UpdateOp = "remove"
)

var ErrStaleRevision = errors.New("catalogue update revision is not newer than the stored item")

// CatalogueUpdate is a single add/modify/remove event from the subscription
// feed. The feed delivers at-least-once with a per-item monotonically
// increasing revision; stale revisions lose (last-write-wins per item).
type CatalogueUpdate struct {
	Op   UpdateOp     `json:"op"`
	ID   uuid.UUID    `json:"id"`
	Item *ContentItem `json:"item,omitempty"` // required for upsert
}

// ForcedPlayRequest asks the scheduler to play specific content next,
// preempting whatever is on screen. Either ContentID (an item already in the
// catalogue) or Item (an inline one-shot definition) must be set.
type ForcedPlayRequest struct {
	ContentID uuid.UUID    `json:"content_id,omitempty"`
	Item      *ContentItem `json:"item,omitempty"`
}
