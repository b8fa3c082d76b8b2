package loyalty

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loyalty",
		Name:      "operations_total",
		Help:      "Ledger operations by outcome.",
	}, []string{"op", "result"})

	pointsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loyalty",
		Name:      "points_total",
		Help:      "Absolute points moved by transaction kind.",
	}, []string{"kind"})

	conflictRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "loyalty",
		Name:      "conflict_retries_total",
		Help:      "Mutations retried after a version conflict.",
	})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "loyalty",
		Name:      "operation_duration_seconds",
		Help:      "Ledger operation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})
)

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsBusinessError(err):
		return "rejected"
	default:
		return "error"
	}
}

func observePoints(t Transaction) {
	amount := t.Amount
	if amount < 0 {
		amount = -amount
	}
	pointsTotal.WithLabelValues(string(t.Kind)).Add(float64(amount))
}
