package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowatch_poll_cycles_total",
			Help: "Total number of per-node poll cycles",
		},
		[]string{"function"},
	)

	storeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowatch_store_errors_total",
			Help: "Total number of swallowed object-store errors",
		},
		[]string{"function"},
	)

	logLinesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowatch_log_lines_total",
			Help: "Total number of log lines observed",
		},
		[]string{"function"},
	)

	statusTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowatch_status_transitions_total",
			Help: "Total number of function status transitions",
		},
		[]string{"status"},
	)

	activePollers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowatch_active_pollers",
			Help: "Number of currently running log pollers",
		},
	)
)

func recordPollCycle(function string) {
	pollCyclesTotal.WithLabelValues(function).Inc()
}

func recordStoreError(function string) {
	storeErrorsTotal.WithLabelValues(function).Inc()
}

func recordLogLines(function string, n int) {
	logLinesTotal.WithLabelValues(function).Add(float64(n))
}

func recordStatusTransition(status FunctionStatus) {
	statusTransitionsTotal.WithLabelValues(string(status)).Inc()
}

func pollerStarted() {
	activePollers.Inc()
}

func pollerStopped() {
	activePollers.Dec()
}
