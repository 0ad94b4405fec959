package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"signage-fleet/entities"
	httpHandler "signage-fleet/handlers/http"
	"signage-fleet/usecases"
	"signage-fleet/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WebSocket message envelopes
type incomingMessage struct {
	Type string `json:"type"` // heartbeat | playback | sync
}

type heartbeatPayload struct {
	IP              string                 `json:"ip"`
	SoftwareVersion string                 `json:"software_version"`
	SystemInfo      string                 `json:"system_info"`
	State           entities.DeclaredState `json:"state"`
}

type playbackPayload struct {
	ContentID string `json:"content_id"`
}

type reply struct {
	Type  string `json:"type"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// WSHandler serves the optional device socket. Frames go through the same
// sync use case as the HTTP endpoints.
type WSHandler struct {
	mgr     *ws.Manager
	useCase *usecases.SyncUseCase
	now     func() time.Time
	lg      zerolog.Logger
}

func NewWSHandler(mgr *ws.Manager, uc *usecases.SyncUseCase, now func() time.Time, lg zerolog.Logger) *WSHandler {
	if now == nil {
		now = time.Now
	}
	return &WSHandler{mgr: mgr, useCase: uc, now: now, lg: lg.With().Str("component", "ws").Logger()}
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// HandleDeviceWS upgrades to websocket and reads messages from device
// GET /ws?id=<device_id>
func (h *WSHandler) HandleDeviceWS(c *gin.Context) {
	deviceID := c.Query("id")
	if deviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing device id", "code": "invalid_argument"})
		return
	}

	// connecting counts as a heartbeat and resolves the device up front
	if _, err := h.useCase.Heartbeat(c.Request.Context(), deviceID, usecases.Report{IP: c.ClientIP()}, h.now()); err != nil {
		httpHandler.RespondError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.lg.Warn().Err(err).Str("device_id", deviceID).Msg("websocket upgrade failed")
		return
	}
	h.mgr.Register(deviceID, conn)
	h.lg.Info().Str("device_id", deviceID).Msg("device connected")

	defer func() {
		h.mgr.Unregister(deviceID, conn)
		h.lg.Info().Str("device_id", deviceID).Msg("device disconnected")
	}()

	for {
		mt, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.lg.Debug().Err(err).Str("device_id", deviceID).Msg("read error")
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		h.reply(deviceID, h.handleFrame(c, deviceID, message))
	}
}

func (h *WSHandler) handleFrame(c *gin.Context, deviceID string, message []byte) reply {
	var base incomingMessage
	if err := json.Unmarshal(message, &base); err != nil {
		return reply{Type: "error", Error: "invalid json", Code: "invalid_argument"}
	}
	ctx := c.Request.Context()

	switch base.Type {
	case "heartbeat", "sync":
		var p heartbeatPayload
		if err := json.Unmarshal(message, &p); err != nil {
			return reply{Type: base.Type, Error: err.Error(), Code: "invalid_argument"}
		}
		report := usecases.Report{IP: p.IP, SoftwareVersion: p.SoftwareVersion, SystemInfo: p.SystemInfo, State: p.State}
		if report.IP == "" {
			report.IP = c.ClientIP()
		}
		var (
			data any
			err  error
		)
		if base.Type == "sync" {
			data, err = h.useCase.Sync(ctx, deviceID, report, h.now())
		} else {
			data, err = h.useCase.Heartbeat(ctx, deviceID, report, h.now())
		}
		if err != nil {
			return errorReply(base.Type, err)
		}
		return reply{Type: base.Type, OK: true, Data: data}

	case "playback":
		var p playbackPayload
		if err := json.Unmarshal(message, &p); err != nil {
			return reply{Type: base.Type, Error: err.Error(), Code: "invalid_argument"}
		}
		if err := h.useCase.ReportPlayback(ctx, p.ContentID, deviceID, h.now()); err != nil {
			return errorReply(base.Type, err)
		}
		return reply{Type: base.Type, OK: true}
	}
	return reply{Type: "error", Error: "unknown message type " + base.Type, Code: "invalid_argument"}
}

func errorReply(typ string, err error) reply {
	_, code := httpHandler.StatusFor(err)
	return reply{Type: typ, Error: err.Error(), Code: code}
}

func (h *WSHandler) reply(deviceID string, r reply) {
	b, err := json.Marshal(r)
	if err != nil {
		h.lg.Error().Err(err).Msg("marshal reply")
		return
	}
	if err := h.mgr.SendToDevice(deviceID, b); err != nil {
		h.lg.Debug().Err(err).Str("device_id", deviceID).Msg("reply not delivered")
	}
}

// GetConnectedDevices GET /api/v1/devices/connected
func (h *WSHandler) GetConnectedDevices(c *gin.Context) {
	ids := h.mgr.List()
	c.JSON(http.StatusOK, gin.H{"devices": ids, "count": len(ids)})
}
