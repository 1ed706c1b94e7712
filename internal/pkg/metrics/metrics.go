package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExecutionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nodeflow_executions_started_total",
		Help: "Executions started, by trigger type",
	}, []string{"trigger_type"})

	ExecutionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nodeflow_executions_finished_total",
		Help: "Executions reaching a terminal status",
	}, []string{"status"})

	ExecutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nodeflow_execution_duration_seconds",
		Help:    "Wall time from start to terminal status",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	})

	NodeExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nodeflow_node_executions_total",
		Help: "Node executions by type and outcome",
	}, []string{"node_type", "outcome"})

	NodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nodeflow_node_duration_seconds",
		Help:    "Node handler execution time",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
	}, []string{"node_type"})

	WorkersBusy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nodeflow_workers_busy",
		Help: "Workers currently executing a node",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nodeflow_events_dropped_total",
		Help: "Events dropped due to subscriber backpressure",
	})

	ExecutionsArchived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nodeflow_executions_archived_total",
		Help: "Executions moved to the archive",
	})
)

func ObserveNode(nodeType string, d time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	NodeExecutions.WithLabelValues(nodeType, outcome).Inc()
	NodeDuration.WithLabelValues(nodeType).Observe(d.Seconds())
}
