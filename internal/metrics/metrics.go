// ABOUTME: Prometheus collectors for the ACP engine: outgoing calls, reverse calls, frames, updates
// ABOUTME: A nil *Collector is valid and records nothing, so tests and embedders can skip metrics

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for outgoing requests.
const (
	OutcomeOK          = "ok"
	OutcomeRemoteError = "remote_error"
	OutcomeTimeout     = "timeout"
	OutcomeCancelled   = "cancelled"
	OutcomeClosed      = "closed"
)

// Collector groups every engine metric registered against one registry.
type Collector struct {
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Pending         prometheus.Gauge
	ReverseCalls    *prometheus.CounterVec
	Frames          *prometheus.CounterVec
	SessionUpdates  *prometheus.CounterVec
	Turns           *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the engine collectors with reg. A nil reg uses a fresh
// private registry.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	c := &Collector{
		Requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acp_requests_total",
				Help: "Outgoing JSON-RPC requests by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "acp_request_duration_seconds",
				Help:    "Time from sending a request to its resolution",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"method"},
		),
		Pending: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "acp_pending_calls",
				Help: "Outgoing requests awaiting a response",
			},
		),
		ReverseCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acp_reverse_calls_total",
				Help: "Calls made by the agent into the host, by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		Frames: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acp_frames_total",
				Help: "Inbound frames by classification",
			},
			[]string{"kind"},
		),
		SessionUpdates: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acp_session_updates_total",
				Help: "session/update notifications by sessionUpdate kind",
			},
			[]string{"kind"},
		),
		Turns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acp_turns_total",
				Help: "Completed prompt turns by stop reason",
			},
			[]string{"stop_reason"},
		),
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		c.gatherer = g
	}
	return c
}

// CallStarted bumps the pending gauge.
func (c *Collector) CallStarted() {
	if c == nil {
		return
	}
	c.Pending.Inc()
}

// CallFinished records the resolution of one outgoing request.
func (c *Collector) CallFinished(method, outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.Pending.Dec()
	c.Requests.WithLabelValues(method, outcome).Inc()
	c.RequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// ReverseCall records one answered agent-to-host call.
func (c *Collector) ReverseCall(method, outcome string) {
	if c == nil {
		return
	}
	c.ReverseCalls.WithLabelValues(method, outcome).Inc()
}

// Frame counts one inbound frame of the given kind ("call", "notification",
// "response", "malformed", "oversized").
func (c *Collector) Frame(kind string) {
	if c == nil {
		return
	}
	c.Frames.WithLabelValues(kind).Inc()
}

// SessionUpdate counts one session/update notification.
func (c *Collector) SessionUpdate(kind string) {
	if c == nil {
		return
	}
	c.SessionUpdates.WithLabelValues(kind).Inc()
}

// TurnFinished counts one completed turn.
func (c *Collector) TurnFinished(stopReason string) {
	if c == nil {
		return
	}
	if stopReason == "" {
		stopReason = "error"
	}
	c.Turns.WithLabelValues(stopReason).Inc()
}

// Handler serves the registry this collector was registered with, or the
// default gatherer when that registry cannot be gathered.
func (c *Collector) Handler() http.Handler {
	if c == nil || c.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
