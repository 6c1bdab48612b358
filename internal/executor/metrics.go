package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	execDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "codexam",
		Subsystem: "executor",
		Name:      "execution_duration_seconds",
		Help:      "Duration of sandboxed program runs",
		Buckets:   prometheus.DefBuckets,
	}, []string{"backend"})

	execTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codexam",
		Subsystem: "executor",
		Name:      "execution_timeouts_total",
		Help:      "Number of runs that hit the time budget",
	}, []string{"backend"})

	execFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codexam",
		Subsystem: "executor",
		Name:      "execution_failures_total",
		Help:      "Number of runs that could not be started",
	}, []string{"backend"})
)
