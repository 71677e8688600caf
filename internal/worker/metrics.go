package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	entriesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_entries_processed_total",
		Help: "The total number of entries processed and acknowledged",
	})
	entriesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_entries_failed_total",
		Help: "The total number of entries that failed every attempt, by error policy",
	}, []string{"policy"})
	entriesClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_entries_claimed_total",
		Help: "The total number of idle entries claimed from other consumers",
	})
	pollsEmpty = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_polls_empty_total",
		Help: "The total number of polls that timed out without entries",
	})
	processingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "worker_processing_duration_seconds",
		Help:    "Time taken to process one entry, retries included",
		Buckets: []float64{0.005, 0.05, 0.1, 0.5, 1, 2, 5},
	})
)
