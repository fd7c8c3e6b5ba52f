package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every domrelay collector plus the Go and process collectors.
var Registry = prometheus.NewRegistry()

var (
	// CommandsEnqueued counts accepted commands by type.
	CommandsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "domrelay_commands_enqueued_total",
			Help: "Total number of commands accepted into the store.",
		},
		[]string{"type"},
	)

	// CommandClaims counts claim attempts by outcome: claimed or conflict.
	CommandClaims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "domrelay_command_claims_total",
			Help: "Total number of claim attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// CommandCompletions counts completions by resulting status, including stale ones.
	CommandCompletions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "domrelay_command_completions_total",
			Help: "Total number of completion reports by outcome (done/failed/stale).",
		},
		[]string{"outcome"},
	)

	// CommandsExpired counts rows failed by the TTL reaper.
	CommandsExpired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "domrelay_commands_expired_total",
			Help: "Total number of commands failed by the expiry reaper.",
		},
		[]string{"from"},
	)

	// Verdicts counts verifier outputs by status.
	Verdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "domrelay_verdicts_total",
			Help: "Total number of verifier verdicts by status.",
		},
		[]string{"status"},
	)

	// HealAttempts counts auto-heal actions by error type and whether they healed.
	HealAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "domrelay_heal_attempts_total",
			Help: "Total number of auto-heal attempts.",
		},
		[]string{"error_type", "healed"},
	)

	// Notifications counts push notifications by backend and outcome.
	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "domrelay_notifications_total",
			Help: "Total number of push notifications by backend and outcome.",
		},
		[]string{"backend", "outcome"},
	)

	// RequestLatency records HTTP handler latency by route and status code.
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "domrelay_http_request_duration_seconds",
			Help:    "Latency of HTTP API requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "code"},
	)

	// DevicesOnline tracks the number of devices currently marked online.
	DevicesOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "domrelay_devices_online",
			Help: "Number of devices currently marked online.",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		CommandsEnqueued,
		CommandClaims,
		CommandCompletions,
		CommandsExpired,
		Verdicts,
		HealAttempts,
		Notifications,
		RequestLatency,
		DevicesOnline,
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
