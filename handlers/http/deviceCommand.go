package httpHandler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"signage-fleet/entities"
	"signage-fleet/usecases"

	"github.com/gin-gonic/gin"
)

type CommandHandler struct {
	cmdUC *usecases.CommandsUseCase
	now   func() time.Time
}

func NewCommandHandler(uc *usecases.CommandsUseCase, now func() time.Time) *CommandHandler {
	if now == nil {
		now = time.Now
	}
	return &CommandHandler{cmdUC: uc, now: now}
}

type dispatchReq struct {
	CommandType string          `json:"command_type" binding:"required"`
	Parameters  json.RawMessage `json:"parameters"`
}

// POST /api/v1/command/:deviceId
// Records the intended state; the device applies it on its next poll.
func (h *CommandHandler) Dispatch(c *gin.Context) {
	var req dispatchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	cmd, err := entities.ParseCommand(req.CommandType, req.Parameters)
	if err != nil {
		RespondError(c, err)
		return
	}

	res, err := h.cmdUC.Dispatch(c.Request.Context(), c.Param("deviceId"), cmd, h.now())
	if err != nil {
		RespondError(c, err)
		return
	}

	// 202: accepted for delivery, not executed
	c.JSON(http.StatusAccepted, res)
}

// GET /api/v1/devices/:id/commands?limit=...
func (h *CommandHandler) GetDeviceCommands(c *gin.Context) {
	limit := 0
	if l := c.Query("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}

	recs, err := h.cmdUC.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commands": recs, "count": len(recs)})
}
