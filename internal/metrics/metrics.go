// Package metrics exposes the server's Prometheus instrumentation,
// grounded on andy6609-Multithreading-chat-server's internal/chat
// metrics: a connected-sessions gauge and per-type counters.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ConnectedSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "msim_connected_sessions",
		Help: "Number of currently connected, authenticated sessions",
	})

	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "msim_requests_total",
		Help: "Total requests processed by dispatcher type code",
	}, []string{"type"})

	AuthOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "msim_auth_outcomes_total",
		Help: "Total auth-phase outcomes by operation and result",
	}, []string{"operation", "outcome"})
)

func init() {
	prometheus.MustRegister(ConnectedSessions)
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(AuthOutcomesTotal)
}
