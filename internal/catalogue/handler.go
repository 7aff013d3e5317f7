package catalogue

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulseboard/signage/internal/models"
	"github.com/pulseboard/signage/pkg/response"
)

// UpsertRequest is the body for PUT /content/:id.
type UpsertRequest struct {
	Kind           string          `json:"kind" binding:"required"`
	PayloadRef     string          `json:"payload_ref" binding:"required"`
	Weight         float64         `json:"weight"`
	DurationMS     int64           `json:"duration_ms"`
	Windows        []models.Window `json:"windows"`
	ExclusivityTag string          `json:"exclusivity_tag"`
	Revision       int64           `json:"revision" binding:"required"`
}

// Handler handles the catalogue update feed and inspection endpoints.
type Handler struct {
	cat    *Catalogue
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a catalogue handler.
func NewHandler(cat *Catalogue, repo *Repository, logger *zap.Logger) *Handler {
	return &Handler{cat: cat, repo: repo, logger: logger}
}

// List handles GET /content.
func (h *Handler) List(c *gin.Context) {
	snap := h.cat.Snapshot()
	response.OK(c, gin.H{"version": snap.Version, "items": snap.Items()})
}

// Get handles GET /content/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid content id")
		return
	}
	item, ok := h.cat.Snapshot().Item(id)
	if !ok {
		response.NotFound(c, "content item not found")
		return
	}
	response.OK(c, item)
}

// Upsert handles PUT /content/:id (admin). The body is one catalogue update
// event; stale revisions are refused so redelivered events stay harmless.
func (h *Handler) Upsert(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid content id")
		return
	}
	var req UpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	item := &models.ContentItem{
		ID:             id,
		Kind:           models.ContentKind(req.Kind),
		PayloadRef:     req.PayloadRef,
		Weight:         req.Weight,
		Duration:       time.Duration(req.DurationMS) * time.Millisecond,
		Windows:        req.Windows,
		ExclusivityTag: req.ExclusivityTag,
		Revision:       req.Revision,
	}
	if err := h.cat.ApplyUpdate(models.CatalogueUpdate{Op: models.OpUpsert, ID: id, Item: item}); err != nil {
		response.Conflict(c, err.Error())
		return
	}
	if err := h.repo.Upsert(c.Request.Context(), item); err != nil {
		h.logger.Error("persist content item", zap.String("item_id", id.String()), zap.Error(err))
	}
	response.OK(c, item)
}

// Delete handles DELETE /content/:id (admin).
func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid content id")
		return
	}
	if err := h.cat.ApplyUpdate(models.CatalogueUpdate{Op: models.OpRemove, ID: id}); err != nil {
		response.NotFound(c, "content item not found")
		return
	}
	if err := h.repo.Delete(c.Request.Context(), id); err != nil {
		h.logger.Error("delete content item", zap.String("item_id", id.String()), zap.Error(err))
	}
	response.NoContent(c)
}

// Suspend handles POST /content/:id/suspend and /content/:id/resume (admin).
func (h *Handler) Suspend(suspended bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			response.BadRequest(c, "invalid content id")
			return
		}
		if err := h.cat.SetSuspended(id, suspended); err != nil {
			response.NotFound(c, "content item not found")
			return
		}
		if err := h.repo.SetSuspended(c.Request.Context(), id, suspended); err != nil {
			h.logger.Error("persist suspension", zap.String("item_id", id.String()), zap.Error(err))
		}
		response.OK(c, gin.H{"id": id, "suspended": suspended})
	}
}
