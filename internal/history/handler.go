package history

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pulseboard/signage/pkg/response"
)

const defaultLimit = 100

// Handler serves proof-of-play inspection endpoints.
type Handler struct {
	repo      *Repository
	surfaceID string
}

// NewHandler creates a history handler bound to this scheduler's surface.
func NewHandler(repo *Repository, surfaceID string) *Handler {
	return &Handler{repo: repo, surfaceID: surfaceID}
}

// Recent handles GET /history.
func (h *Handler) Recent(c *gin.Context) {
	list, err := h.repo.Recent(c.Request.Context(), h.surfaceID, limit(c))
	if err != nil {
		response.Internal(c, "failed to list play history")
		return
	}
	response.OK(c, list)
}

// ByContent handles GET /history/content/:id.
func (h *Handler) ByContent(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid content id")
		return
	}
	list, err := h.repo.ListByContent(c.Request.Context(), id, limit(c))
	if err != nil {
		response.Internal(c, "failed to list play history")
		return
	}
	response.OK(c, list)
}

func limit(c *gin.Context) int {
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return defaultLimit
}
