package eligibility

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/pulseboard/signage/config"
	"github.com/pulseboard/signage/internal/catalogue"
	"github.com/pulseboard/signage/internal/models"
)

// Fairness multipliers are clamped so a pathological history can never fully
// zero an item out or let it swamp the draw.
const (
	minFairness = 0.05
	maxFairness = 20.0
)

// Entry pairs an eligible content item with its effective weight.
type Entry struct {
	Item            *models.ContentItem
	EffectiveWeight float64
}

// Evaluator computes the set of items eligible for display at a point in
// time. It is a pure function of the snapshot and clock; all state lives in
// the snapshot's history fields.
type Evaluator struct {
	cooldown       time.Duration
	fairnessDecay  float64
	fairnessWindow time.Duration
	logger         *zap.Logger
}

// New creates an evaluator from the scheduling configuration.
func New(cfg config.SchedulingConfig, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		cooldown:       cfg.CooldownDuration,
		fairnessDecay:  cfg.FairnessDecay,
		fairnessWindow: cfg.FairnessWindow,
		logger:         logger,
	}
}

// Eligible returns every item eligible at now, paired with its effective
// weight. An item qualifies iff it is inside a validity window (or has
// none), is not suspended, and is not within the exclusivity cool-down of a
// same-tagged peer. The returned slice is freshly allocated each call.
func (e *Evaluator) Eligible(snap *catalogue.Snapshot, now time.Time) []Entry {
	items := snap.Items()

	var candidates []*models.ContentItem
	for _, item := range items {
		if item.Suspended || !item.ValidAt(now) {
			continue
		}
		if e.inCooldown(item, items, now) {
			continue
		}
		candidates = append(candidates, item)
	}
	if len(candidates) == 0 {
		return nil
	}

	// Peer-relative fairness: effective weight decays for items played more
	// often than the mean of their eligible peers, and grows for the
	// under-played, so low-weight items cannot starve.
	var total int
	for _, item := range candidates {
		total += item.PlayCount
	}
	mean := float64(total) / float64(len(candidates))

	entries := make([]Entry, 0, len(candidates))
	for _, item := range candidates {
		entries = append(entries, Entry{
			Item:            item,
			EffectiveWeight: item.Weight * e.fairness(item, mean, now),
		})
	}
	return entries
}

// Forced reports whether a forced-play item may run at now. Forced items skip
// weight-based selection entirely; only hard constraints apply, and the
// cool-down check is policy-controlled.
func (e *Evaluator) Forced(item *models.ContentItem, snap *catalogue.Snapshot, now time.Time, bypassCooldown bool) bool {
	if item.Suspended || !item.ValidAt(now) {
		return false
	}
	if bypassCooldown {
		return true
	}
	return !e.inCooldown(item, snap.Items(), now)
}

func (e *Evaluator) inCooldown(item *models.ContentItem, all []*models.ContentItem, now time.Time) bool {
	if item.ExclusivityTag == "" || e.cooldown <= 0 {
		return false
	}
	for _, peer := range all {
		if peer.ID == item.ID || peer.ExclusivityTag != item.ExclusivityTag {
			continue
		}
		if peer.LastPlayed != nil && now.Sub(*peer.LastPlayed) < e.cooldown {
			return true
		}
	}
	return false
}

// fairness returns the leaky-bucket style multiplier for an item: decay^excess
// where excess is the item's play count over the peer mean. Items that have
// not played within the fairness window are never penalised below 1.
func (e *Evaluator) fairness(item *models.ContentItem, meanPlays float64, now time.Time) float64 {
	excess := float64(item.PlayCount) - meanPlays
	mult := math.Pow(e.fairnessDecay, excess)
	if item.LastPlayed == nil || now.Sub(*item.LastPlayed) > e.fairnessWindow {
		if mult < 1 {
			mult = 1
		}
	}
	return math.Min(math.Max(mult, minFairness), maxFairness)
}
