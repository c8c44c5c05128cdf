package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Consumer metrics
	MessagesConsumed   *prometheus.CounterVec
	OffsetCommits      *prometheus.CounterVec
	Rebalances         *prometheus.CounterVec
	RebalanceDuration  *prometheus.HistogramVec
	PartitionsAssigned *prometheus.GaugeVec

	// Window metrics
	RecordsIngested    *prometheus.CounterVec
	LateRecordsDropped *prometheus.CounterVec
	WindowsClosed      prometheus.Counter
	WindowsEmitted     prometheus.Counter
	WindowsQuarantined *prometheus.CounterVec
	WindowsTracked     prometheus.Gauge
	Watermark          prometheus.Gauge

	// Sink metrics
	ShardsWritten      *prometheus.CounterVec
	ShardWriteFailures *prometheus.CounterVec
	ShardSize          *prometheus.HistogramVec
	EncodeDuration     *prometheus.HistogramVec
	CommitDuration     *prometheus.HistogramVec
	StorageErrors      *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		// Consumer metrics
		MessagesConsumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_messages_consumed_total",
				Help: "Total number of messages consumed from Kafka",
			},
			[]string{"topic", "partition"},
		),
		OffsetCommits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_offset_commit_total",
				Help: "Total number of offset commits",
			},
			[]string{"topic", "partition", "status"},
		),
		Rebalances: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_rebalance_total",
				Help: "Total number of consumer group rebalances",
			},
			[]string{"group"},
		),
		RebalanceDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kafka_rebalance_duration_seconds",
				Help:    "Duration of consumer group rebalances",
				Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"group"},
		),
		PartitionsAssigned: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kafka_partitions_assigned",
				Help: "Number of partitions currently assigned to this consumer",
			},
			[]string{"topic"},
		),

		// Window metrics
		RecordsIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "records_ingested_total",
				Help: "Total number of records assigned to a window",
			},
			[]string{"topic", "partition"},
		),
		LateRecordsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "late_records_dropped_total",
				Help: "Total number of records dropped for arriving past the lateness grace",
			},
			[]string{"topic"},
		),
		WindowsClosed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "windows_closed_total",
				Help: "Total number of windows closed by watermark advancement",
			},
		),
		WindowsEmitted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "windows_emitted_total",
				Help: "Total number of windows whose output files were all committed",
			},
		),
		WindowsQuarantined: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "windows_quarantined_total",
				Help: "Total number of windows quarantined for data errors",
			},
			[]string{"reason"},
		),
		WindowsTracked: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "windows_tracked",
				Help: "Number of windows currently buffered or awaiting emission",
			},
		),
		Watermark: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "watermark_timestamp_seconds",
				Help: "Current watermark as seconds since the Unix epoch",
			},
		),

		// Sink metrics
		ShardsWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shards_written_total",
				Help: "Total number of shard files written to storage",
			},
			[]string{"format", "status"},
		),
		ShardWriteFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shard_write_failures_total",
				Help: "Total number of shard writes that exhausted retries",
			},
			[]string{"format"},
		),
		ShardSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shard_size_bytes",
				Help:    "Size of encoded shard files",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KB to 256MB
			},
			[]string{"format"},
		),
		EncodeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "encode_duration_seconds",
				Help:    "Duration of shard encoding operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format"},
		),
		CommitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "commit_duration_seconds",
				Help:    "Duration of shard commit operations including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
		StorageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storage_errors_total",
				Help: "Total number of storage errors",
			},
			[]string{"backend", "operation"},
		),
	}
}

// IncMessagesConsumed increments messages consumed counter.
func (m *Metrics) IncMessagesConsumed(topic string, partition int32) {
	m.MessagesConsumed.WithLabelValues(topic, fmt.Sprintf("%d", partition)).Inc()
}

// IncRebalances increments rebalances counter.
func (m *Metrics) IncRebalances(groupID string) {
	m.Rebalances.WithLabelValues(groupID).Inc()
}

// IncOffsetCommits increments offset commits counter.
func (m *Metrics) IncOffsetCommits(topic string, partition int32, status string) {
	m.OffsetCommits.WithLabelValues(topic, fmt.Sprintf("%d", partition), status).Inc()
}

// ObserveRebalanceDuration observes rebalance duration.
func (m *Metrics) ObserveRebalanceDuration(groupID string, duration float64) {
	m.RebalanceDuration.WithLabelValues(groupID).Observe(duration)
}

// SetPartitionsAssigned sets partitions assigned gauge.
func (m *Metrics) SetPartitionsAssigned(topic string, count float64) {
	m.PartitionsAssigned.WithLabelValues(topic).Set(count)
}

// IncRecordsIngested increments records ingested counter.
func (m *Metrics) IncRecordsIngested(topic string, partition int32) {
	m.RecordsIngested.WithLabelValues(topic, fmt.Sprintf("%d", partition)).Inc()
}

// IncLateRecordsDropped increments late records dropped counter.
func (m *Metrics) IncLateRecordsDropped(topic string) {
	m.LateRecordsDropped.WithLabelValues(topic).Inc()
}

// IncWindowsClosed increments windows closed counter.
func (m *Metrics) IncWindowsClosed() {
	m.WindowsClosed.Inc()
}

// IncWindowsEmitted increments windows emitted counter.
func (m *Metrics) IncWindowsEmitted() {
	m.WindowsEmitted.Inc()
}

// IncWindowsQuarantined increments windows quarantined counter.
func (m *Metrics) IncWindowsQuarantined(reason string) {
	m.WindowsQuarantined.WithLabelValues(reason).Inc()
}

// SetWindowsTracked sets the tracked windows gauge.
func (m *Metrics) SetWindowsTracked(count float64) {
	m.WindowsTracked.Set(count)
}

// SetWatermark sets the watermark gauge.
func (m *Metrics) SetWatermark(unixSeconds float64) {
	m.Watermark.Set(unixSeconds)
}

// IncShardsWritten increments shards written counter.
func (m *Metrics) IncShardsWritten(format string, status string) {
	m.ShardsWritten.WithLabelValues(format, status).Inc()
}

// IncShardWriteFailures increments shard write failures counter.
func (m *Metrics) IncShardWriteFailures(format string) {
	m.ShardWriteFailures.WithLabelValues(format).Inc()
}

// ObserveShardSize observes encoded shard size.
func (m *Metrics) ObserveShardSize(format string, sizeBytes float64) {
	m.ShardSize.WithLabelValues(format).Observe(sizeBytes)
}

// ObserveEncodeDuration observes shard encoding duration.
func (m *Metrics) ObserveEncodeDuration(format string, seconds float64) {
	m.EncodeDuration.WithLabelValues(format).Observe(seconds)
}

// ObserveCommitDuration observes shard commit duration.
func (m *Metrics) ObserveCommitDuration(backend string, seconds float64) {
	m.CommitDuration.WithLabelValues(backend).Observe(seconds)
}

// IncStorageErrors increments storage errors counter.
func (m *Metrics) IncStorageErrors(backend string, operation string) {
	m.StorageErrors.WithLabelValues(backend, operation).Inc()
}
