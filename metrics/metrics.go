package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"signage-fleet/entities"
)

var (
	SyncRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_sync_requests_total",
			Help: "Device sync requests by outcome",
		},
		[]string{"result"}, // ok, unknown_device, error
	)

	Heartbeats = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_heartbeats_total",
			Help: "Heartbeats by outcome; stale heartbeats were discarded as out of order",
		},
		[]string{"result"}, // applied, stale
	)

	CommandsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_commands_dispatched_total",
			Help: "Administrative commands by type and outcome",
		},
		[]string{"command", "result"}, // accepted, noop, invalid_transition, invalid_command, not_found, error
	)

	PlaybackReports = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleet_playback_reports_total",
			Help: "Playback reports applied (at-least-once)",
		},
	)

	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"route"},
	)

	DevicesByConnectivity = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleet_devices",
			Help: "Registered devices by effective connectivity",
		},
		[]string{"connectivity"},
	)

	WebsocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleet_websocket_connections",
			Help: "Open device websocket connections",
		},
	)
)

// SetFleetConnectivity publishes one snapshot of fleet connectivity counts.
func SetFleetConnectivity(counts map[entities.Connectivity]int) {
	for _, c := range []entities.Connectivity{entities.ConnectivityLive, entities.ConnectivityStale, entities.ConnectivityDead} {
		DevicesByConnectivity.WithLabelValues(string(c)).Set(float64(counts[c]))
	}
}
