package httpHandler

import (
	"net/http"
	"time"

	"signage-fleet/entities"
	"signage-fleet/usecases"

	"github.com/gin-gonic/gin"
)

type ContentHandler struct {
	useCase *usecases.ContentUseCase
}

func NewContentHandler(useCase *usecases.ContentUseCase) *ContentHandler {
	return &ContentHandler{useCase: useCase}
}

type createContentReq struct {
	DeviceID        string               `json:"device_id" binding:"required"`
	Title           string               `json:"title" binding:"required"`
	Type            entities.ContentType `json:"type" binding:"required"`
	URL             string               `json:"url"`
	DurationSeconds int                  `json:"duration_seconds"`
	Priority        int                  `json:"priority"`
	ActiveFrom      time.Time            `json:"active_from" binding:"required"`
	ActiveUntil     *time.Time           `json:"active_until"`
	Enabled         *bool                `json:"enabled"`
}

// CreateContent handles POST /api/v1/content
func (h *ContentHandler) CreateContent(c *gin.Context) {
	var req createContentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	item := entities.ContentItem{
		DeviceID:        req.DeviceID,
		Title:           req.Title,
		Type:            req.Type,
		URL:             req.URL,
		DurationSeconds: req.DurationSeconds,
		Priority:        req.Priority,
		ActiveFrom:      req.ActiveFrom,
		ActiveUntil:     req.ActiveUntil,
		Enabled:         req.Enabled == nil || *req.Enabled,
	}
	if err := h.useCase.CreateContent(c.Request.Context(), &item); err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Content created successfully",
		"data":    item,
	})
}

// GetDeviceContent handles GET /api/v1/devices/:id/content
func (h *ContentHandler) GetDeviceContent(c *gin.Context) {
	items, err := h.useCase.ContentForDevice(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":  items,
		"count": len(items),
	})
}
