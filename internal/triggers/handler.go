// Package triggers receives forced-play requests, either over the HTTP
// control API or through the Redis trigger channel used by touch overlays
// and sensor gateways.
package triggers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pulseboard/signage/internal/models"
	"github.com/pulseboard/signage/internal/scheduler"
	"github.com/pulseboard/signage/pkg/response"
)

// ChannelTriggers is the Redis pub/sub channel carrying forced-play events.
const ChannelTriggers = "signage:triggers"

// ForceRequest is the body for POST /triggers/play. Either a catalogue item
// ID or a complete ad-hoc item must be given.
type ForceRequest struct {
	ContentID string              `json:"content_id"`
	Item      *models.ContentItem `json:"item"`
}

// Handler exposes the forced-play control endpoint.
type Handler struct {
	loop   *scheduler.Loop
	logger *zap.Logger
}

// NewHandler creates a triggers handler.
func NewHandler(loop *scheduler.Loop, logger *zap.Logger) *Handler {
	return &Handler{loop: loop, logger: logger}
}

// Force handles POST /triggers/play (operator).
func (h *Handler) Force(c *gin.Context) {
	var req ForceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	fp := models.ForcedPlayRequest{Item: req.Item}
	if req.ContentID != "" {
		id, err := uuid.Parse(req.ContentID)
		if err != nil {
			response.BadRequest(c, "invalid content id")
			return
		}
		fp.ContentID = id
	}

	if err := h.loop.Forced(fp); err != nil {
		if errors.Is(err, scheduler.ErrUnknownForcedContent) {
			response.NotFound(c, err.Error())
			return
		}
		response.BadRequest(c, err.Error())
		return
	}
	h.logger.Info("forced play accepted",
		zap.String("content_id", req.ContentID),
		zap.Bool("ad_hoc", req.Item != nil))
	response.Accepted(c, gin.H{"status": "queued"})
}

// Feed subscribes to the trigger channel and forwards forced-play events to
// the scheduling loop.
type Feed struct {
	client *redis.Client
	loop   *scheduler.Loop
	logger *zap.Logger
}

// NewFeed creates a trigger feed.
func NewFeed(client *redis.Client, loop *scheduler.Loop, logger *zap.Logger) *Feed {
	return &Feed{client: client, loop: loop, logger: logger}
}

// Run subscribes and processes trigger events until ctx is done.
func (f *Feed) Run(ctx context.Context) error {
	pubsub := f.client.Subscribe(ctx, ChannelTriggers)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", ChannelTriggers, err)
	}
	f.logger.Info("trigger feed subscribed", zap.String("channel", ChannelTriggers))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			f.handle([]byte(msg.Payload))
		}
	}
}

type triggerEvent struct {
	ContentID uuid.UUID           `json:"content_id"`
	Item      *models.ContentItem `json:"item"`
	FiredAt   time.Time           `json:"fired_at"`
}

func (f *Feed) handle(payload []byte) {
	var ev triggerEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		f.logger.Warn("trigger feed: malformed event dropped", zap.Error(err))
		return
	}
	if err := f.loop.Forced(models.ForcedPlayRequest{ContentID: ev.ContentID, Item: ev.Item}); err != nil {
		f.logger.Warn("trigger feed: forced play rejected",
			zap.String("content_id", ev.ContentID.String()), zap.Error(err))
		return
	}
	f.logger.Info("trigger feed: forced play queued", zap.String("content_id", ev.ContentID.String()))
}
