package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// LiveConnections is the number of registered device push connections.
	LiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "adfleet_live_connections",
			Help: "Number of devices with a registered push connection.",
		},
	)

	// Observers is the number of attached admin observer streams.
	Observers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "adfleet_observers",
			Help: "Number of admin observer streams.",
		},
		[]string{"scope"}, // scope: device/fleet
	)

	// StatusTransitions counts device status changes broadcast by the registry.
	StatusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adfleet_status_transitions_total",
			Help: "Device status changes, by new status and cause.",
		},
		[]string{"status", "reason"},
	)

	// IngressDecisions counts how inbound heartbeat/impression updates were classified.
	IngressDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adfleet_ingress_decisions_total",
			Help: "Ingress status updates by decision (connected/fast_start/suppressed).",
		},
		[]string{"decision"},
	)

	// Sends counts push sends by outcome.
	Sends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adfleet_push_sends_total",
			Help: "Push sends to devices by event type and outcome.",
		},
		[]string{"event", "outcome"}, // outcome: delivered/no_connection/dropped/closed
	)

	// ManifestResponses counts manifest endpoint responses by status code.
	ManifestResponses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adfleet_manifest_responses_total",
			Help: "Manifest responses by HTTP status code.",
		},
		[]string{"code"},
	)

	// ManifestBuildLatency measures manifest assembly time including store reads.
	ManifestBuildLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "adfleet_manifest_build_seconds",
			Help:    "Latency of manifest builds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// PlaybackSessions is the number of running vehicle playback sessions.
	PlaybackSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "adfleet_playback_sessions",
			Help: "Number of vehicles with a running synchronized playback session.",
		},
	)

	// PlayCommands counts play_video broadcasts.
	PlayCommands = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adfleet_play_commands_total",
			Help: "Number of play_video commands scheduled.",
		},
	)

	// PipelineFlushes counts status pipeline flushes and the updates they carried.
	PipelineFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adfleet_status_pipeline_updates_total",
			Help: "Buffered device status updates by result (written/failed/dropped).",
		},
		[]string{"result"},
	)
)

// Registry holds every hub collector. It is served on /metrics.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		LiveConnections,
		Observers,
		StatusTransitions,
		IngressDecisions,
		Sends,
		ManifestResponses,
		ManifestBuildLatency,
		PlaybackSessions,
		PlayCommands,
		PipelineFlushes,
	)
}
