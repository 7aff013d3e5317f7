package catalogue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pulseboard/signage/internal/models"
)

// ChannelUpdates is the Redis pub/sub channel carrying catalogue update
// events from the content management plane.
const ChannelUpdates = "signage:catalogue"

// Feed subscribes to the catalogue update channel and applies each event to
// the live catalogue. Delivery is at-least-once; revision checks in the
// catalogue make redelivery and reordering safe.
type Feed struct {
	client *redis.Client
	cat    *Catalogue
	repo   *Repository
	logger *zap.Logger
}

// NewFeed creates a catalogue update feed.
func NewFeed(client *redis.Client, cat *Catalogue, repo *Repository, logger *zap.Logger) *Feed {
	return &Feed{client: client, cat: cat, repo: repo, logger: logger}
}

// Run subscribes and processes events until ctx is done.
func (f *Feed) Run(ctx context.Context) error {
	pubsub := f.client.Subscribe(ctx, ChannelUpdates)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", ChannelUpdates, err)
	}
	f.logger.Info("catalogue feed subscribed", zap.String("channel", ChannelUpdates))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			f.handle(ctx, []byte(msg.Payload))
		}
	}
}

func (f *Feed) handle(ctx context.Context, payload []byte) {
	var u models.CatalogueUpdate
	if err := json.Unmarshal(payload, &u); err != nil {
		f.logger.Warn("catalogue feed: malformed event dropped", zap.Error(err))
		return
	}
	if u.Item != nil {
		u.Item.ID = u.ID
	}
	if err := f.cat.ApplyUpdate(u); err != nil {
		if errors.Is(err, models.ErrStaleRevision) {
			f.logger.Debug("catalogue feed: stale revision ignored", zap.String("item_id", u.ID.String()))
			return
		}
		f.logger.Warn("catalogue feed: update rejected", zap.String("item_id", u.ID.String()), zap.Error(err))
		return
	}
	switch u.Op {
	case models.OpUpsert:
		if err := f.repo.Upsert(ctx, u.Item); err != nil {
			f.logger.Error("catalogue feed: persist item", zap.String("item_id", u.ID.String()), zap.Error(err))
		}
	case models.OpRemove:
		if err := f.repo.Delete(ctx, u.ID); err != nil {
			f.logger.Error("catalogue feed: delete item", zap.String("item_id", u.ID.String()), zap.Error(err))
		}
	}
}
