package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "processing_jobs_total",
		Help: "Processing job events by outcome (queued, retried, COMPLETED, FAILED).",
	}, []string{"outcome"})

	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "processing_job_duration_seconds",
		Help:    "Wall time of one processing attempt.",
		Buckets: []float64{0.5, 1, 5, 15, 60, 300, 900, 1800},
	})

	sweepRemovals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retention_sweep_removed_total",
		Help: "Rows removed by retention sweeps.",
	}, []string{"table"})
)
