// Package metrics exposes the orchestrator's prometheus collectors. They are
// registered on the default registry and served by the app's health server
// under /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsSubmitted counts unit-job submissions to the execution backend,
	// by program kind.
	JobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hubflow",
		Name:      "jobs_submitted_total",
		Help:      "Unit jobs submitted to the execution backend.",
	}, []string{"kind"})

	// JobRestarts counts restarts triggered by the error-handler chain.
	JobRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hubflow",
		Name:      "job_restarts_total",
		Help:      "Unit jobs restarted by an error handler.",
	}, []string{"kind"})

	// LoopIterations counts completed iterations of the self-consistent
	// convergence loop.
	LoopIterations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hubflow",
		Name:      "loop_iterations_total",
		Help:      "Completed self-consistency iterations.",
	})
)
