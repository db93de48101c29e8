package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	// Gateway callbacks by outcome
	CallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_callbacks_total",
			Help: "Gateway callbacks processed",
		},
		[]string{"outcome"}, // settled|failed|duplicate|orphan|late
	)

	// Settlement sweeper
	IntentsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_intents_expired_total",
			Help: "Payment intents expired by the sweeper",
		},
	)

	// Aggregator
	DriftCorrections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregate_drift_corrections_total",
			Help: "Derived totals that differed from the ledger and were corrected",
		},
		[]string{"entity"}, // campaign|pledge
	)
	OverpaysFlagged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pledge_overpays_flagged_total",
			Help: "Pledges whose verified contributions exceed the pledged amount",
		},
	)

	// Recompute queue
	WorkerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_queue_depth",
			Help: "Current worker queue depth",
		},
	)
)

// handler for the /metrics endpoint
var Handler = promhttp.Handler

func Init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(CallbacksTotal)
	prometheus.MustRegister(IntentsExpired)
	prometheus.MustRegister(DriftCorrections)
	prometheus.MustRegister(OverpaysFlagged)
	prometheus.MustRegister(WorkerQueueDepth)
}
