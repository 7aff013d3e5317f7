// Package lottery implements weighted random content selection. Each
// eligible item holds a contiguous sub-interval of [0, totalWeight)
// proportional to its effective weight; a uniform draw picks the winner.
package lottery

import (
	"math/rand"

	"github.com/pulseboard/signage/internal/eligibility"
	"github.com/pulseboard/signage/internal/models"
)

// Selector draws a winner from an eligibility set. The random source is
// injected so tests can fix the sequence and assert the exact winner.
// Selectors are not safe for concurrent use; the scheduling loop owns one.
type Selector struct {
	rnd *rand.Rand
}

// New creates a selector backed by the given source.
func New(src rand.Source) *Selector {
	return &Selector{rnd: rand.New(src)}
}

// Select picks one item from the set. Returns false when the set is empty.
// If every effective weight is zero the draw degrades to uniform-random over
// the set.
func (s *Selector) Select(entries []eligibility.Entry) (*models.ContentItem, bool) {
	if len(entries) == 0 {
		return nil, false
	}

	var total float64
	for _, e := range entries {
		total += e.EffectiveWeight
	}
	if total <= 0 {
		return entries[s.rnd.Intn(len(entries))].Item, true
	}

	draw := s.rnd.Float64() * total
	for _, e := range entries {
		draw -= e.EffectiveWeight
		if draw < 0 {
			return e.Item, true
		}
	}
	// Float accumulation can leave the draw a hair past the last interval.
	return entries[len(entries)-1].Item, true
}
