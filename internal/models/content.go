package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ContentKind identifies the renderer family a content item needs.
type ContentKind string

const (
	KindImage ContentKind = "image"
	KindVideo ContentKind = "video"
	KindWeb   ContentKind = "web"
)

var (
	ErrNegativeWeight = errors.New("content item weight must be non-negative")
	ErrInvalidWindow  = errors.New("validity window end must be after start")
	ErrUnknownKind    = errors.New("unknown content kind")
	ErrMissingPayload = errors.New("content item payload reference is required")
)

// ValidKind reports whether k is one of the supported content kinds.
func ValidKind(k ContentKind) bool {
	switch k {
	case KindImage, KindVideo, KindWeb:
		return true
	}
	return false
}

// Window is a half-open validity interval [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// ContentItem is a schedulable unit of content. History fields (PlayCount,
// LastPlayed) are mutated only via the catalogue's RecordPlay after a play
// reaches a terminal state.
type ContentItem struct {
	ID             uuid.UUID     `json:"id"`
	Kind           ContentKind   `json:"kind"`
	PayloadRef     string        `json:"payload_ref"` // URI or path, opaque to the scheduler
	Weight         float64       `json:"weight"`
	Duration       time.Duration `json:"duration,omitempty"` // 0 means renderer decides / indefinite
	Windows        []Window      `json:"windows,omitempty"`  // empty means always valid
	ExclusivityTag string        `json:"exclusivity_tag,omitempty"`
	Suspended      bool          `json:"suspended"`
	Revision       int64         `json:"revision"`

	PlayCount  int        `json:"play_count"`
	LastPlayed *time.Time `json:"last_played,omitempty"`
}

// Validate checks the item invariants. Items failing validation are rejected
// at the catalogue boundary and never enter a snapshot.
func (c *ContentItem) Validate() error {
	if c.PayloadRef == "" {
		return ErrMissingPayload
	}
	if !ValidKind(c.Kind) {
		return fmt.Errorf("%w: %q", ErrUnknownKind, c.Kind)
	}
	if c.Weight < 0 {
		return fmt.Errorf("%w: %v", ErrNegativeWeight, c.Weight)
	}
	for _, w := range c.Windows {
		if !w.End.After(w.Start) {
			return fmt.Errorf("%w: [%s, %s)", ErrInvalidWindow, w.Start, w.End)
		}
	}
	return nil
}

// ValidAt reports whether the item has no windows or at least one window
// containing t.
func (c *ContentItem) ValidAt(t time.Time) bool {
	if len(c.Windows) == 0 {
		return true
	}
	for _, w := range c.Windows {
		if w.Contains(t) {
			return true
		}
	}
	return false
}

// Expired reports whether every validity window ended before t. Items with no
// windows never expire.
func (c *ContentItem) Expired(t time.Time) bool {
	if len(c.Windows) == 0 {
		return false
	}
	for _, w := range c.Windows {
		if t.Before(w.End) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy so snapshot readers never share mutable state
// with the live catalogue.
func (c *ContentItem) Clone() *ContentItem {
	cp := *c
	if c.Windows != nil {
		cp.Windows = append([]Window(nil), c.Windows...)
	}
	if c.LastPlayed != nil {
		t := *c.LastPlayed
		cp.LastPlayed = &t
	}
	return &cp
}
