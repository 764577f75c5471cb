package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Sync engine metrics. They live in their own package so that stream, queue
// and services can record without importing each other.
var (
	EventsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_stream_events_total",
		Help: "Frames read from the engine event stream, by classification",
	}, []string{"class"})

	EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_stream_events_dropped_total",
		Help: "Business events dropped before reaching a queue, by reason",
	}, []string{"reason"})

	QueuePublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_queue_published_total",
		Help: "SyncEvents published to a durable queue",
	}, []string{"queue", "outcome"})

	QueueSettled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_queue_settled_total",
		Help: "Consumed messages by settlement (ack, nack, requeue)",
	}, []string{"queue", "settlement"})

	ApplyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_apply_total",
		Help: "Entity changes applied to the legacy system",
	}, []string{"domain", "op", "result"})

	ReconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_reconcile_total",
		Help: "Reconciliation sweeps by outcome",
	}, []string{"domain", "outcome"})

	ReconcileDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sync_reconcile_duration_seconds",
		Help:    "Duration of completed reconciliation sweeps",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"domain"})

	ReconnectAttempts = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sync_reconnect_attempts",
		Help: "Consecutive failed connection attempts",
	}, []string{"connection"})
)

func all() []prometheus.Collector {
	return []prometheus.Collector{
		EventsReceived, EventsDropped, QueuePublished, QueueSettled,
		ApplyTotal, ReconcileTotal, ReconcileDuration, ReconnectAttempts,
	}
}

// Register registers every metric on reg (default registerer if nil).
// Registering twice is not an error.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range all() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}
