// Package obs holds the Prometheus collectors shared by the authorization and token layers.
package obs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the server's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry  *prometheus.Registry
	decisions *prometheus.CounterVec
	tokenOps  *prometheus.CounterVec
	rpcTotal  *prometheus.CounterVec
	rpcDur    *prometheus.HistogramVec
}

// NewMetrics creates collectors registered in a dedicated registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Authorization decisions by operation alias and outcome.",
		}, []string{"operation", "decision"}),
		tokenOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "token_operations_total",
			Help: "Token engine operations by kind and result.",
		}, []string{"op", "result"}),
		rpcTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grpc_server_handled_total",
			Help: "Total number of RPCs completed on the server.",
		}, []string{"method", "code"}),
		rpcDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grpc_server_handling_seconds",
			Help:    "RPC latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
	m.registry.MustRegister(m.decisions, m.tokenOps, m.rpcTotal, m.rpcDur)
	return m
}

// Handler exposes the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Decision records one authorization outcome.
func (m *Metrics) Decision(operation string, allowed bool) {
	if m == nil {
		return
	}
	d := "deny"
	if allowed {
		d = "allow"
	}
	m.decisions.WithLabelValues(operation, d).Inc()
}

// TokenOp records one token engine operation.
func (m *Metrics) TokenOp(op, result string) {
	if m == nil {
		return
	}
	m.tokenOps.WithLabelValues(op, result).Inc()
}

// RPC records a completed RPC.
func (m *Metrics) RPC(method, code string, dur time.Duration) {
	if m == nil {
		return
	}
	m.rpcTotal.WithLabelValues(method, code).Inc()
	m.rpcDur.WithLabelValues(method).Observe(dur.Seconds())
}
