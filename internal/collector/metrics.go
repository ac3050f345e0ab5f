package collector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal counts collection cycles by outcome
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "actions_ledger",
			Subsystem: "collector",
			Name:      "cycles_total",
			Help:      "Total number of collection cycles",
		},
		[]string{"result"},
	)

	// CycleDuration records how long collection cycles take
	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "actions_ledger",
			Subsystem: "collector",
			Name:      "cycle_duration_seconds",
			Help:      "Collection cycle duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	// RunsProcessedTotal counts processed runs by outcome
	RunsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "actions_ledger",
			Subsystem: "collector",
			Name:      "runs_processed_total",
			Help:      "Total number of runs handled by the run processor",
		},
		[]string{"result"},
	)

	// FilesExtractedTotal counts extracted artifact files by type
	FilesExtractedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "actions_ledger",
			Subsystem: "collector",
			Name:      "files_extracted_total",
			Help:      "Total number of files extracted from artifacts",
		},
		[]string{"file_type"},
	)

	// WorkflowFailuresTotal counts workflows whose processing failed within a cycle
	WorkflowFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "actions_ledger",
			Subsystem: "collector",
			Name:      "workflow_failures_total",
			Help:      "Total number of per-workflow failures isolated by the collector",
		},
	)

	// Busy is 1 while a cycle is executing
	Busy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "actions_ledger",
			Subsystem: "collector",
			Name:      "busy",
			Help:      "Whether a collection cycle is currently executing",
		},
	)
)
