package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	flowsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flotilla",
		Name:      "flows_started_total",
		Help:      "Flows started since process launch",
	})

	flowsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flotilla",
		Name:      "flows_completed_total",
		Help:      "Flows reaching a terminal status, by status",
	}, []string{"status"})

	nodesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flotilla",
		Name:      "nodes_executed_total",
		Help:      "Node executions reaching a terminal status",
	}, []string{"kind", "status"})

	nodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "flotilla",
		Name:      "node_duration_seconds",
		Help:      "Wall time from node start to terminal status",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"kind"})

	activeActors = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "flotilla",
		Name:      "active_flow_actors",
		Help:      "Flow actors currently resident",
	})
)
