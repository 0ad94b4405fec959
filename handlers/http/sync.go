package httpHandler

import (
	"errors"
	"io"
	"net/http"
	"time"

	"signage-fleet/entities"
	"signage-fleet/usecases"

	"github.com/gin-gonic/gin"
)

type SyncHandler struct {
	useCase *usecases.SyncUseCase
	now     func() time.Time
}

func NewSyncHandler(useCase *usecases.SyncUseCase, now func() time.Time) *SyncHandler {
	if now == nil {
		now = time.Now
	}
	return &SyncHandler{useCase: useCase, now: now}
}

// reportReq is the network metadata a device attaches to sync and heartbeat.
// Fields may also come as query parameters.
type reportReq struct {
	IP              string                 `json:"ip" form:"ip"`
	SoftwareVersion string                 `json:"software_version" form:"software_version"`
	SystemInfo      string                 `json:"system_info" form:"system_info"`
	State           entities.DeclaredState `json:"state" form:"state"`
}

// contentDescriptor is what a device needs to render one playlist entry.
type contentDescriptor struct {
	ID              string               `json:"id"`
	Title           string               `json:"title"`
	URL             string               `json:"url"`
	Type            entities.ContentType `json:"type"`
	DurationSeconds int                  `json:"duration_seconds"`
	Priority        int                  `json:"priority"`
	Order           int                  `json:"order"`
}

func bindReport(c *gin.Context) (usecases.Report, error) {
	var req reportReq
	if err := c.ShouldBindQuery(&req); err != nil {
		return usecases.Report{}, err
	}
	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			return usecases.Report{}, err
		}
	}
	if req.IP == "" {
		req.IP = c.ClientIP()
	}
	return usecases.Report{
		IP:              req.IP,
		SoftwareVersion: req.SoftwareVersion,
		SystemInfo:      req.SystemInfo,
		State:           req.State,
	}, nil
}

// Sync handles POST /api/v1/sync/:deviceId
func (h *SyncHandler) Sync(c *gin.Context) {
	report, err := bindReport(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.useCase.Sync(c.Request.Context(), c.Param("deviceId"), report, h.now())
	if err != nil {
		RespondError(c, err)
		return
	}

	content := make([]contentDescriptor, 0, len(res.Content))
	for i, it := range res.Content {
		content = append(content, contentDescriptor{
			ID:              it.ID,
			Title:           it.Title,
			URL:             it.URL,
			Type:            it.Type,
			DurationSeconds: it.DurationSeconds,
			Priority:        it.Priority,
			Order:           i,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"device_id":         res.DeviceID,
		"content":           content,
		"count":             len(content),
		"desired":           res.Desired,
		"connectivity":      res.Connectivity,
		"heartbeat_applied": res.HeartbeatApplied,
		"server_time":       res.ServerTime,
	})
}

// Heartbeat handles POST /api/v1/heartbeat/:deviceId
func (h *SyncHandler) Heartbeat(c *gin.Context) {
	report, err := bindReport(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	summary, err := h.useCase.Heartbeat(c.Request.Context(), c.Param("deviceId"), report, h.now())
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// ReportPlayback handles POST /api/v1/playback/:contentId?device_id=...
func (h *SyncHandler) ReportPlayback(c *gin.Context) {
	deviceID := c.Query("device_id")
	if deviceID == "" {
		deviceID = c.Query("deviceId")
	}

	if err := h.useCase.ReportPlayback(c.Request.Context(), c.Param("contentId"), deviceID, h.now()); err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}
