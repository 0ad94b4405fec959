package httpHandler

import (
	"net/http"
	"strings"
	"time"

	"signage-fleet/entities"
	"signage-fleet/usecases"

	"github.com/gin-gonic/gin"
)

type DeviceHandler struct {
	useCase *usecases.RegistryUseCase
	now     func() time.Time
}

func NewDeviceHandler(useCase *usecases.RegistryUseCase, now func() time.Time) *DeviceHandler {
	if now == nil {
		now = time.Now
	}
	return &DeviceHandler{
		useCase: useCase,
		now:     now,
	}
}

type registerReq struct {
	DeviceID string `json:"device_id" binding:"required"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

// deviceView is a device record plus its effective connectivity.
type deviceView struct {
	entities.Device
	Connectivity entities.Connectivity `json:"connectivity"`
}

func (h *DeviceHandler) view(d *entities.Device, now time.Time) deviceView {
	return deviceView{Device: *d, Connectivity: h.useCase.Connectivity(d, now)}
}

// RegisterDevice handles POST /api/v1/devices
func (h *DeviceHandler) RegisterDevice(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	now := h.now()
	device, err := h.useCase.Register(c.Request.Context(), req.DeviceID, entities.DeviceMetadata{Name: req.Name, Location: req.Location}, now)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Device registered successfully",
		"data":    h.view(device, now),
	})
}

// GetDevice handles GET /api/v1/device/:deviceId and GET /api/v1/devices/:id
func (h *DeviceHandler) GetDevice(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		id = c.Param("deviceId")
	}

	device, err := h.useCase.Get(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": h.view(device, h.now()),
	})
}

// GetAllDevices handles GET /api/v1/devices, optionally filtered by
// ?connectivity= and ?state=.
func (h *DeviceHandler) GetAllDevices(c *gin.Context) {
	devices, err := h.useCase.List(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}

	conn := entities.Connectivity(strings.ToUpper(c.Query("connectivity")))
	state := entities.DeclaredState(strings.ToUpper(c.Query("state")))
	now := h.now()
	views := make([]deviceView, 0, len(devices))
	for i := range devices {
		v := h.view(&devices[i], now)
		if conn != "" && v.Connectivity != conn {
			continue
		}
		if state != "" && v.DeclaredState != state {
			continue
		}
		views = append(views, v)
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  views,
		"count": len(views),
	})
}

// UpdateDevice handles PUT /api/v1/devices/:id
func (h *DeviceHandler) UpdateDevice(c *gin.Context) {
	id := c.Param("id")

	var meta entities.DeviceMetadata
	if err := c.ShouldBindJSON(&meta); err != nil {
		badRequest(c, err)
		return
	}

	device, err := h.useCase.UpdateMetadata(c.Request.Context(), id, meta)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Device updated successfully",
		"data":    h.view(device, h.now()),
	})
}

// RetireDevice handles POST /api/v1/devices/:id/retire
func (h *DeviceHandler) RetireDevice(c *gin.Context) {
	id := c.Param("id")

	device, err := h.useCase.Retire(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Device retired",
		"data":    h.view(device, h.now()),
	})
}
