// Package telemetry exposes prometheus metrics for the gossip node.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gossipd"

// Metrics holds the collectors for one node. A nil *Metrics is valid and
// records nothing, so callers never need to check.
type Metrics struct {
	Members        prometheus.Gauge
	Merges         prometheus.Counter
	Admissions     *prometheus.CounterVec
	Evictions      prometheus.Counter
	SelfHeartbeats prometheus.Counter
	Sent           *prometheus.CounterVec
	Received       *prometheus.CounterVec
	DecodeErrors   prometheus.Counter

	buildInfo *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	startTime := time.Now()

	m := &Metrics{
		Members: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "members",
			Help:      "Current number of entries in the membership view, self included.",
		}),
		Merges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merges_total",
			Help:      "Total number of remote views merged.",
		}),
		Admissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "join_decisions_total",
				Help:      "Unknown peers seen in remote views, by decision.",
			},
			[]string{"result"}, // admitted | rejected
		),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Total number of peers removed by sweep.",
		}),
		SelfHeartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "self_heartbeats_total",
			Help:      "Total number of sender entries advanced on receipt.",
		}),
		Sent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "Gossip datagrams sent, by result.",
			},
			[]string{"result"}, // ok | error | too_large
		),
		Received: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_received_total",
				Help:      "Gossip datagrams received, by message kind.",
			},
			[]string{"kind"},
		),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Datagrams dropped because they could not be decoded.",
		}),
		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "build_info",
				Help:      "Build info (constant 1, labeled by version and instance).",
			},
			[]string{"version", "instance"},
		),
	}

	uptime := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)

	reg.MustRegister(m.Members, m.Merges, m.Admissions, m.Evictions, m.SelfHeartbeats,
		m.Sent, m.Received, m.DecodeErrors, m.buildInfo, uptime)
	return m
}

// Handler exposes the metrics gathered by g.
// Mount it with mux.Handle("/metrics", telemetry.Handler(reg)).
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup.
func (m *Metrics) SetBuildInfo(version, instance string) {
	if m == nil {
		return
	}
	m.buildInfo.WithLabelValues(version, instance).Set(1)
}

// ObserveMerge records the outcome of one merge.
func (m *Metrics) ObserveMerge(admitted, rejected, bumped, evicted int) {
	if m == nil {
		return
	}
	m.Merges.Inc()
	m.Admissions.WithLabelValues("admitted").Add(float64(admitted))
	m.Admissions.WithLabelValues("rejected").Add(float64(rejected))
	m.SelfHeartbeats.Add(float64(bumped))
	m.Evictions.Add(float64(evicted))
}

// ObserveSweep records peers evicted by a standalone sweep.
func (m *Metrics) ObserveSweep(evicted int) {
	if m == nil {
		return
	}
	m.Evictions.Add(float64(evicted))
}

// SetMembers records the current view size.
func (m *Metrics) SetMembers(n int) {
	if m == nil {
		return
	}
	m.Members.Set(float64(n))
}

// MessageSent records one send attempt.
func (m *Metrics) MessageSent(result string) {
	if m == nil {
		return
	}
	m.Sent.WithLabelValues(result).Inc()
}

// MessageReceived records one decoded datagram.
func (m *Metrics) MessageReceived(kind string) {
	if m == nil {
		return
	}
	m.Received.WithLabelValues(kind).Inc()
}

// DecodeError records one dropped datagram.
func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.DecodeErrors.Inc()
}
