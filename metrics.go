package blockstm

import "github.com/prometheus/client_golang/prometheus"

var (
	executionCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "blockstm",
			Subsystem: "executor",
			Name:      "executions_total",
			Help:      "Counter of transaction incarnations executed.",
		})

	validationCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "blockstm",
			Subsystem: "executor",
			Name:      "validations_total",
			Help:      "Counter of read set validations.",
		})

	abortCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "blockstm",
			Subsystem: "executor",
			Name:      "aborts_total",
			Help:      "Counter of incarnations aborted by a failed validation.",
		})

	dependencyCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "blockstm",
			Subsystem: "executor",
			Name:      "dependencies_total",
			Help:      "Counter of executions suspended on an estimate.",
		})

	fallbackCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "blockstm",
			Subsystem: "executor",
			Name:      "sequential_fallbacks_total",
			Help:      "Counter of blocks handed to sequential execution.",
		})

	blockDurationHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "blockstm",
			Subsystem: "executor",
			Name:      "block_duration_seconds",
			Help:      "Bucketed histogram of block execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"mode"})
)

func init() {
	prometheus.MustRegister(executionCounter)
	prometheus.MustRegister(validationCounter)
	prometheus.MustRegister(abortCounter)
	prometheus.MustRegister(dependencyCounter)
	prometheus.MustRegister(fallbackCounter)
	prometheus.MustRegister(blockDurationHistogram)
}
