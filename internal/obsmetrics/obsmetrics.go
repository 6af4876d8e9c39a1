// Package obsmetrics exposes the Prometheus metrics the synchronizer and
// runtime are instrumented with, built with promauto the way the teacher's
// internal/monitoring package builds its metrics — only the metric set is
// specific to the sync domain instead of the teacher's blockchain/memory
// domain.
package obsmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every counter/gauge/histogram the core reports.
type Metrics struct {
	MessagesSent        prometheus.CounterVec
	MessagesReceived    prometheus.CounterVec
	SyncResponsesByKind prometheus.CounterVec
	PermissionDenials   prometheus.CounterVec
	ActiveChannels      prometheus.Gauge
	EphemeralSetOps     prometheus.Counter
	EphemeralDeleteOps  prometheus.Counter
	ReducerDispatch     prometheus.Histogram
	CommandExecLatency  prometheus.Histogram
	ChannelRemovals     prometheus.Counter
}

// New registers and returns a fresh Metrics set against the default
// registerer. Call New once per process; constructing it twice panics on
// duplicate registration, matching promauto's behavior.
func New() *Metrics {
	return &Metrics{
		MessagesSent: *promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "driftsync_messages_sent_total",
			Help: "Total number of protocol messages sent, by message kind.",
		}, []string{"kind"}),
		MessagesReceived: *promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "driftsync_messages_received_total",
			Help: "Total number of protocol messages received, by message kind.",
		}, []string{"kind"}),
		SyncResponsesByKind: *promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "driftsync_sync_responses_total",
			Help: "Total number of sync-response transmissions emitted, by transmission kind.",
		}, []string{"transmission"}),
		PermissionDenials: *promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "driftsync_permission_denials_total",
			Help: "Total number of operations dropped by a permission predicate, by rule name.",
		}, []string{"rule"}),
		ActiveChannels: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "driftsync_active_channels",
			Help: "Number of channels currently registered with the runtime.",
		}),
		EphemeralSetOps: promauto.NewCounter(prometheus.CounterOpts{
			Name: "driftsync_ephemeral_set_ops_total",
			Help: "Total number of local ephemeral store Set operations reported to the runtime.",
		}),
		EphemeralDeleteOps: promauto.NewCounter(prometheus.CounterOpts{
			Name: "driftsync_ephemeral_delete_ops_total",
			Help: "Total number of local ephemeral store Delete operations reported to the runtime.",
		}),
		ReducerDispatch: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "driftsync_reducer_dispatch_seconds",
			Help:    "Time taken for a single reducer Dispatch call.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		CommandExecLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "driftsync_command_exec_seconds",
			Help:    "Time taken for the runtime to execute one emitted command.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		ChannelRemovals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "driftsync_channel_removals_total",
			Help: "Total number of channels removed.",
		}),
	}
}
