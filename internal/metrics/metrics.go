// Package metrics exposes the gateway's prometheus instrumentation and the
// on-disk system snapshot writer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Gateway metrics
	ConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "openclaw_connections_active",
			Help: "Number of open gateway connections",
		},
	)

	HandshakesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openclaw_handshakes_total",
			Help: "Total connection handshakes by outcome",
		},
		[]string{"outcome"},
	)

	// RPC metrics
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openclaw_rpc_requests_total",
			Help: "Total RPC requests by method and error code",
		},
		[]string{"method", "code"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "openclaw_rpc_request_duration_seconds",
			Help:    "RPC request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	QuotaDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openclaw_quota_denials_total",
			Help: "Total quota denials by reason",
		},
		[]string{"reason"},
	)

	// Terminal metrics
	TerminalsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "openclaw_terminals_active",
			Help: "Number of live PTY sessions",
		},
	)

	TerminalsSpawned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "openclaw_terminals_spawned_total",
			Help: "Total PTY sessions spawned",
		},
	)

	// Scheduler metrics
	CronRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openclaw_cron_runs_total",
			Help: "Total cron job runs by status",
		},
		[]string{"status"},
	)

	TenantsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "openclaw_tenants_total",
			Help: "Number of registered tenants",
		},
	)

	// Backup metrics
	BackupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openclaw_backups_total",
			Help: "Total backup operations by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(ConnectionsActive)
	prometheus.MustRegister(HandshakesTotal)
	prometheus.MustRegister(RPCRequestsTotal)
	prometheus.MustRegister(RPCRequestDuration)
	prometheus.MustRegister(QuotaDenialsTotal)
	prometheus.MustRegister(TerminalsActive)
	prometheus.MustRegister(TerminalsSpawned)
	prometheus.MustRegister(CronRunsTotal)
	prometheus.MustRegister(TenantsTotal)
	prometheus.MustRegister(BackupsTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
