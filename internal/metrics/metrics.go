// Package metrics defines the Prometheus collectors for the ledger server
// and the client sync controller.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tripledger"

// Server holds the RPC collectors of the authoritative store.
type Server struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewServer registers server collectors with reg.
func NewServer(reg prometheus.Registerer) *Server {
	f := promauto.With(reg)
	return &Server{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "RPCs handled, by procedure and result code.",
		}, []string{"procedure", "code"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "duration_seconds",
			Help:      "RPC handling latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"procedure"}),
	}
}

// Sync holds the collectors of the client sync controller.
type Sync struct {
	OutboxDepth    prometheus.Gauge
	Online         prometheus.Gauge
	Applied        prometheus.Counter
	Dropped        prometheus.Counter
	Passes         prometheus.Counter
	TransientStops prometheus.Counter
}

// NewSync registers sync collectors with reg. A nil reg leaves them
// unregistered, which is what tests usually want.
func NewSync(reg prometheus.Registerer) *Sync {
	f := promauto.With(reg)
	return &Sync{
		OutboxDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "outbox_depth",
			Help:      "Pending actions waiting to be replayed.",
		}),
		Online: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "online",
			Help:      "1 when the controller believes the store is reachable.",
		}),
		Applied: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "actions_applied_total",
			Help:      "Pending actions confirmed by the store.",
		}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "actions_dropped_total",
			Help:      "Pending actions permanently rejected by the store.",
		}),
		Passes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "drain_passes_total",
			Help:      "Outbox drain passes started.",
		}),
		TransientStops: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "transient_stops_total",
			Help:      "Drain passes stopped early by a transient failure.",
		}),
	}
}
