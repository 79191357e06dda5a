package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldbook_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fieldbook_db_tx_seconds",
			Help:    "Duration of booking transactions including retries",
			Buckets: prometheus.DefBuckets,
		},
	)

	TxRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldbook_tx_retries_total",
			Help: "Transactions retried after a serialization failure",
		},
	)

	BookingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldbook_bookings_total",
			Help: "Booking attempts by result",
		},
		[]string{"result"},
	)

	SweepTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldbook_sweep_transitions_total",
			Help: "Transitions applied by the schedule updater",
		},
		[]string{"kind"},
	)

	SlotsGenerated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldbook_slots_generated_total",
			Help: "Available slots created ahead of time",
		},
	)

	OutboxLag = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fieldbook_outbox_lag_seconds",
			Help: "Age of the oldest event relayed in the last batch",
		},
	)

	RabbitPublishRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldbook_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldbook_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)

var registerOnce sync.Once

func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RequestsTotal, DBTxDuration, TxRetries, BookingsTotal, SweepTransitions,
			SlotsGenerated, OutboxLag, RabbitPublishRetries, RateLimitExceeded,
		)
	})
}
