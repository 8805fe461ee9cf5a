package sourcemux

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	prometheus.MustRegister(recordsEmitted)
	prometheus.MustRegister(outputWatermark)
	prometheus.MustRegister(localReaders)
	prometheus.MustRegister(marksFinalized)
	prometheus.MustRegister(snapshotBytes)
}

var (
	recordsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sourcemux_records_emitted_total",
			Help: "Records emitted by a source instance",
		},
		[]string{"instance"},
	)

	outputWatermark = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sourcemux_output_watermark_seconds",
			Help: "Last watermark emitted by a source instance as unix seconds",
		},
		[]string{"instance"},
	)

	localReaders = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sourcemux_local_readers",
			Help: "Partitions read by a source instance",
		},
		[]string{"instance"},
	)

	marksFinalized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sourcemux_checkpoint_marks_finalized_total",
			Help: "Checkpoint marks finalized by a source instance",
		},
		[]string{"instance"},
	)

	snapshotBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sourcemux_snapshot_bytes",
			Help:    "Size of the persisted state of source instance snapshots",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		},
		[]string{"instance"},
	)
)

// instanceMetrics are the metric series of one instance index.
type instanceMetrics struct {
	records   prometheus.Counter
	watermark prometheus.Gauge
	readers   prometheus.Gauge
	finalized prometheus.Counter
	snapshot  prometheus.Observer
}

func newInstanceMetrics(index int) *instanceMetrics {
	label := strconv.Itoa(index)
	return &instanceMetrics{
		records:   recordsEmitted.WithLabelValues(label),
		watermark: outputWatermark.WithLabelValues(label),
		readers:   localReaders.WithLabelValues(label),
		finalized: marksFinalized.WithLabelValues(label),
		snapshot:  snapshotBytes.WithLabelValues(label),
	}
}
