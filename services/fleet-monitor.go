package services

import (
	"context"
	"sync"
	"time"

	"signage-fleet/entities"
	"signage-fleet/events"
	"signage-fleet/metrics"
	"signage-fleet/usecases"

	"github.com/rs/zerolog"
)

// FleetMonitor periodically evaluates the effective connectivity of every
// device, exports the counts and announces transitions. It never changes a
// device's declared state.
type FleetMonitor struct {
	registry *usecases.RegistryUseCase
	events   events.Publisher
	interval time.Duration
	now      func() time.Time
	lg       zerolog.Logger

	mu   sync.Mutex
	last map[string]entities.Connectivity
}

func NewFleetMonitor(registry *usecases.RegistryUseCase, pub events.Publisher, interval time.Duration, lg zerolog.Logger) *FleetMonitor {
	if pub == nil {
		pub = events.Nop{}
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &FleetMonitor{
		registry: registry,
		events:   pub,
		interval: interval,
		now:      time.Now,
		lg:       lg.With().Str("component", "fleet-monitor").Logger(),
		last:     make(map[string]entities.Connectivity),
	}
}

// Start runs the monitor until ctx is cancelled.
func (m *FleetMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	go func() {
		defer ticker.Stop()
		m.Check(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Check(ctx)
			}
		}
	}()
}

// Check takes one snapshot and returns the connectivity counts. Retired
// devices are left out.
func (m *FleetMonitor) Check(ctx context.Context) map[entities.Connectivity]int {
	devices, err := m.registry.List(ctx)
	if err != nil {
		m.lg.Warn().Err(err).Msg("fleet snapshot failed")
		return nil
	}

	now := m.now()
	counts := map[entities.Connectivity]int{}
	seen := make(map[string]bool, len(devices))

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range devices {
		d := &devices[i]
		if d.DeclaredState == entities.StateRetired {
			continue
		}
		conn := m.registry.Connectivity(d, now)
		counts[conn]++
		seen[d.DeviceID] = true

		prev, known := m.last[d.DeviceID]
		m.last[d.DeviceID] = conn
		if !known || prev == conn {
			continue
		}
		ev := m.lg.Info()
		if conn == entities.ConnectivityDead {
			ev = m.lg.Warn()
		}
		ev.Str("device_id", d.DeviceID).Str("from", string(prev)).Str("to", string(conn)).
			Str("declared_state", string(d.DeclaredState)).Msg("connectivity changed")
		if err := m.events.Publish(ctx, events.Event{
			Kind:      events.KindConnectivity,
			DeviceID:  d.DeviceID,
			Timestamp: now.UTC(),
			Data: map[string]any{
				"from":           prev,
				"to":             conn,
				"declared_state": d.DeclaredState,
				"last_seen_at":   d.LastSeenAt,
			},
		}); err != nil {
			m.lg.Warn().Err(err).Str("device_id", d.DeviceID).Msg("connectivity event publish failed")
		}
	}
	for id := range m.last {
		if !seen[id] {
			delete(m.last, id)
		}
	}

	metrics.SetFleetConnectivity(counts)
	return counts
}
