// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "murk_connections_total",
		Help: "Connections accepted since start.",
	})
	ConnectionsCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "murk_connections_current",
		Help: "Currently open connections.",
	})
	RoomsCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "murk_rooms_current",
		Help: "Active rooms.",
	})
	FramesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "murk_frames_received_total",
		Help: "Frames read from clients.",
	})
	FramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "murk_frames_sent_total",
		Help: "Frames written to clients.",
	})
	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "murk_decode_errors_total",
		Help: "Frames that failed to decode.",
	})
	ProtocolErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "murk_protocol_errors_total",
		Help: "Well-formed frames rejected for arriving in the wrong state.",
	})
	BroadcastsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "murk_broadcasts_dropped_total",
		Help: "Broadcast frames dropped or coalesced on full outbound queues.",
	})
	NPCDeaths = promauto.NewCounter(prometheus.CounterOpts{
		Name: "murk_npc_deaths_total",
		Help: "Accepted NPC consumption events.",
	})
	HostMigrations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "murk_host_migrations_total",
		Help: "Host re-elections after a host disconnect.",
	})
	MapChanges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "murk_map_changes_total",
		Help: "World seed regenerations.",
	})
)

// Handler serves the Prometheus exposition endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
