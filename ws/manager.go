package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"signage-fleet/events"
	"signage-fleet/metrics"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

var ErrNotConnected = errors.New("device not connected")

// conn serializes writes; gorilla connections allow one concurrent writer.
type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *conn) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// Manager keeps track of active device websocket connections. The sockets are
// an optional nudge channel; devices still pull their state through sync.
type Manager struct {
	mu          sync.RWMutex
	connections map[string]*conn // deviceID -> conn
}

func NewManager() *Manager {
	return &Manager{connections: make(map[string]*conn)}
}

// Register registers a device connection, replacing any existing one.
func (m *Manager) Register(deviceID string, ws *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.connections[deviceID]; ok {
		if old.ws == ws {
			return
		}
		_ = old.ws.Close()
	} else {
		metrics.WebsocketConnections.Inc()
	}
	m.connections[deviceID] = &conn{ws: ws}
}

// Unregister removes ws if it is still the device's current connection. A
// newer connection that replaced it stays registered.
func (m *Manager) Unregister(deviceID string, ws *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.connections[deviceID]; ok && c.ws == ws {
		_ = c.ws.Close()
		delete(m.connections, deviceID)
		metrics.WebsocketConnections.Dec()
	}
}

// SendToDevice sends a text message to a device if connected.
func (m *Manager) SendToDevice(deviceID string, payload []byte) error {
	m.mu.RLock()
	c, ok := m.connections[deviceID]
	m.mu.RUnlock()
	if !ok {
		return ErrNotConnected
	}
	return c.write(payload)
}

// IsConnected returns whether a device is currently connected.
func (m *Manager) IsConnected(deviceID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.connections[deviceID]
	return ok
}

// List returns the connected device IDs, sorted.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.connections))
	for id := range m.connections {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SyncHint is pushed to a connected device when its desired state changed.
// It carries no state itself; the device reacts by syncing early.
type SyncHint struct {
	Type      string         `json:"type"` // always "sync"
	Reason    events.Kind    `json:"reason"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Publish implements events.Publisher by nudging the target device. Devices
// without a socket are skipped silently; they see the change on their next poll.
func (m *Manager) Publish(_ context.Context, ev events.Event) error {
	if ev.Kind != events.KindCommandDispatched || !m.IsConnected(ev.DeviceID) {
		return nil
	}
	b, err := json.Marshal(SyncHint{Type: "sync", Reason: ev.Kind, Timestamp: ev.Timestamp, Data: ev.Data})
	if err != nil {
		return err
	}
	if err := m.SendToDevice(ev.DeviceID, b); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}
