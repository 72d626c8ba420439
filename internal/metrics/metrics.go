// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ResultOK         = "ok"
	ResultValidation = "validation"
	ResultError      = "error"
)

var (
	PersistTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orden_persist_total",
		Help: "Order persists by coleccion and result",
	}, []string{"coleccion", "result"})

	PersistDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orden_persist_duration_seconds",
		Help:    "Duration of order persists",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"coleccion"})

	LeadMovesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orden_lead_moves_total",
		Help: "Kanban stage changes by result",
	}, []string{"result"})

	HubSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orden_hub_subscribers",
		Help: "Current number of realtime subscribers",
	})

	HubDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orden_hub_dropped_total",
		Help: "Realtime events dropped because a subscriber buffer was full",
	})

	ReconcilerRefetches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orden_reconciler_refetch_total",
		Help: "Full re-fetches after a failed persist",
	})
)
