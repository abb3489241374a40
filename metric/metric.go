package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespaceWitness     = "witness"
	namespaceTxProcessor = "txprocessor"
)

var (
	// WitnessesBuilt witness count per operation type
	WitnessesBuilt = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespaceWitness,
			Name:      "built_total",
			Help:      "",
		}, []string{"op_type"})

	// WitnessErrors failed witness count per operation type
	WitnessErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespaceWitness,
			Name:      "errors_total",
			Help:      "",
		}, []string{"op_type"})

	// BatchesProcessed processed batch count
	BatchesProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespaceTxProcessor,
			Name:      "batches_total",
			Help:      "",
		})

	// LastBatchNum last processed batch
	LastBatchNum = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespaceTxProcessor,
			Name:      "last_batch_num",
			Help:      "",
		})

	// UsedChunks chunks of the last batch used by operations that are not
	// noop
	UsedChunks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespaceTxProcessor,
			Name:      "used_chunks",
			Help:      "",
		})

	// ProcessDuration duration of each step of the batch processing
	ProcessDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespaceTxProcessor,
			Name:      "process_duration",
			Help:      "",
		}, []string{"step"})
)

func init() {
	prometheus.MustRegister(WitnessesBuilt)
	prometheus.MustRegister(WitnessErrors)
	prometheus.MustRegister(BatchesProcessed)
	prometheus.MustRegister(LastBatchNum)
	prometheus.MustRegister(UsedChunks)
	prometheus.MustRegister(ProcessDuration)
}

// MeasureDuration measure the method execution duration
// and save it into a histogram metric
func MeasureDuration(histogram *prometheus.HistogramVec, start time.Time, lvs ...string) {
	duration := time.Since(start)
	histogram.WithLabelValues(lvs...).Observe(float64(duration.Milliseconds()))
}
