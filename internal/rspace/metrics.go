package rspace

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// The source label carries the metrics source prefix configured on the
// space, so several spaces in one process stay distinguishable.

var (
	commProduceCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rspace_comm_produce_total",
		Help: "the number of produce operations that committed a communication",
	}, []string{"source"})
	commConsumeCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rspace_comm_consume_total",
		Help: "the number of consume operations that committed a communication",
	}, []string{"source"})

	produceDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rspace_comm_produce_duration_seconds",
		Help:    "the length of time produce operations took, matched or not",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})
	consumeDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rspace_comm_consume_duration_seconds",
		Help:    "the length of time consume operations took, matched or not",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})

	resetCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rspace_reset_total",
		Help: "the number of times the space was rebound to a history root",
	}, []string{"source"})
	revertCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rspace_revert_soft_checkpoint_total",
		Help: "the number of times the space was reverted to a soft checkpoint",
	}, []string{"source"})
)
