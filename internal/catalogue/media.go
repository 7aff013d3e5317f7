package catalogue

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulseboard/signage/pkg/response"
	"github.com/pulseboard/signage/pkg/storage"
)

// UploadURLRequest is the body for POST /content/media/upload-url.
type UploadURLRequest struct {
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type"`
}

// MediaHandler issues pre-signed upload URLs for content payloads and removes
// payload objects when content is retired. Operators upload directly to S3;
// the resulting s3:// reference goes into the item's payload_ref.
type MediaHandler struct {
	s3     *storage.S3
	logger *zap.Logger
}

// NewMediaHandler creates a media handler.
func NewMediaHandler(s3 *storage.S3, logger *zap.Logger) *MediaHandler {
	return &MediaHandler{s3: s3, logger: logger}
}

// UploadURL handles POST /content/media/upload-url (admin).
func (h *MediaHandler) UploadURL(c *gin.Context) {
	var req UploadURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if !storage.ValidateMediaFileType(req.ContentType, req.Filename) {
		response.BadRequest(c, "unsupported media type")
		return
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = storage.ContentTypeForFilename(req.Filename)
	}

	key := storage.MediaKey(uuid.New().String(), req.Filename)
	url, err := h.s3.GeneratePresignedUploadURL(c.Request.Context(), h.s3.ContentBucket(), key, contentType, h.s3.PresignExpire())
	if err != nil {
		h.logger.Error("presign media upload", zap.String("key", key), zap.Error(err))
		response.Internal(c, "failed to generate upload url")
		return
	}
	response.OK(c, gin.H{
		"upload_url":     url,
		"payload_ref":    "s3://" + h.s3.ContentBucket() + "/" + key,
		"content_type":   contentType,
		"expires_in_sec": int(h.s3.PresignExpire().Seconds()),
		"max_size_bytes": storage.MaxMediaFileSize,
	})
}

// Delete handles DELETE /content/media (admin). The payload_ref query names
// the object to remove; only refs inside the content bucket are accepted.
func (h *MediaHandler) Delete(c *gin.Context) {
	ref := c.Query("payload_ref")
	prefix := "s3://" + h.s3.ContentBucket() + "/"
	if !strings.HasPrefix(ref, prefix) {
		response.BadRequest(c, "payload_ref must point into the content bucket")
		return
	}
	key := strings.TrimPrefix(ref, prefix)
	if _, err := h.s3.HeadObject(c.Request.Context(), h.s3.ContentBucket(), key); err != nil {
		response.NotFound(c, "payload object not found")
		return
	}
	if err := h.s3.DeleteMedia(c.Request.Context(), key); err != nil {
		h.logger.Error("delete media object", zap.String("key", key), zap.Error(err))
		response.Internal(c, "failed to delete payload object")
		return
	}
	h.logger.Info("media object deleted", zap.String("key", key))
	response.NoContent(c)
}
