package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	testsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "testoor",
		Subsystem: "executor",
		Name:      "tests_completed_total",
		Help:      "Tests finished, labeled by terminal status.",
	}, []string{"status"})

	runsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "testoor",
		Subsystem: "executor",
		Name:      "runs_completed_total",
		Help:      "Runs finished, labeled by terminal status.",
	}, []string{"status"})
)
