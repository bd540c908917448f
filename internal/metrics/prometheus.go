package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for a groove node. Every recording
// helper is safe to call on a nil *Metrics.
type Metrics struct {
	// Column engine metrics
	PageReadsTotal       prometheus.Counter
	PageReadDuration     prometheus.Histogram
	RangeReadsTotal      prometheus.Counter
	RangeReadPages       prometheus.Histogram
	MergeWritesTotal     prometheus.Counter
	MergeWriteDuration   prometheus.Histogram
	MergeWriteRows       prometheus.Histogram
	PagesReplacedTotal   prometheus.Counter
	PutDataFailedColumns prometheus.Counter

	// Backend metrics
	TransactionsTotal *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	CacheEvictionsTotal prometheus.Counter
	CacheSizeBytes      prometheus.Gauge
	CacheEntriesTotal   prometheus.Gauge

	// Dataset file metrics
	DatasetPagesWritten prometheus.Counter
	DatasetBytesWritten prometheus.Counter
	DatasetsMounted     prometheus.Gauge

	// Shipping metrics
	ShipBytesTotal *prometheus.CounterVec
	ShipDuration   *prometheus.HistogramVec

	// System metrics
	DiskUsageBytes     prometheus.Gauge
	DiskAvailableBytes prometheus.Gauge
	DiskUsagePercent   prometheus.Gauge
	MemoryUsageBytes   prometheus.Gauge
	GoroutinesTotal    prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default registerer
func NewMetrics(nodeID string) *Metrics {
	return NewMetricsWithRegistry(nodeID, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates and registers all metrics with reg
func NewMetricsWithRegistry(nodeID string, reg prometheus.Registerer) *Metrics {
	labels := prometheus.Labels{"node_id": nodeID}
	factory := promauto.With(reg)

	return &Metrics{
		PageReadsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "groove",
			Subsystem:   "column",
			Name:        "page_reads_total",
			Help:        "Total number of pages fetched and decoded",
			ConstLabels: labels,
		}),
		PageReadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "groove",
			Subsystem:   "column",
			Name:        "page_read_duration_seconds",
			Help:        "Histogram of point read durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		RangeReadsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "groove",
			Subsystem:   "column",
			Name:        "range_reads_total",
			Help:        "Total number of range reads",
			ConstLabels: labels,
		}),
		RangeReadPages: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "groove",
			Subsystem:   "column",
			Name:        "range_read_pages",
			Help:        "Histogram of pages walked per range read",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 10),
		}),
		MergeWritesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "groove",
			Subsystem:   "column",
			Name:        "merge_writes_total",
			Help:        "Total number of committed merge-writes",
			ConstLabels: labels,
		}),
		MergeWriteDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "groove",
			Subsystem:   "column",
			Name:        "merge_write_duration_seconds",
			Help:        "Histogram of merge-write durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		MergeWriteRows: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "groove",
			Subsystem:   "column",
			Name:        "merge_write_rows",
			Help:        "Histogram of rows in merged pages",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(16, 4, 8), // 16 to 256K rows
		}),
		PagesReplacedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "groove",
			Subsystem:   "column",
			Name:        "pages_replaced_total",
			Help:        "Total number of pages removed by merge-writes",
			ConstLabels: labels,
		}),
		PutDataFailedColumns: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "groove",
			Subsystem:   "database",
			Name:        "put_data_failed_columns_total",
			Help:        "Total number of frame columns rejected by PutData",
			ConstLabels: labels,
		}),

		TransactionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "groove",
			Subsystem:   "store",
			Name:        "transactions_total",
			Help:        "Total number of page store transactions by outcome",
			ConstLabels: labels,
		}, []string{"status"}),

		CacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "groove",
			Subsystem:   "cache",
			Name:        "hits_total",
			Help:        "Total number of page cache hits",
			ConstLabels: labels,
		}),
		CacheMissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "groove",
			Subsystem:   "cache",
			Name:        "misses_total",
			Help:        "Total number of page cache misses",
			ConstLabels: labels,
		}),
		CacheEvictionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "groove",
			Subsystem:   "cache",
			Name:        "evictions_total",
			Help:        "Total number of page cache evictions",
			ConstLabels: labels,
		}),
		CacheSizeBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "groove",
			Subsystem:   "cache",
			Name:        "size_bytes",
			Help:        "Current page cache size in bytes",
			ConstLabels: labels,
		}),
		CacheEntriesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "groove",
			Subsystem:   "cache",
			Name:        "entries_total",
			Help:        "Current number of cached pages",
			ConstLabels: labels,
		}),

		DatasetPagesWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "groove",
			Subsystem:   "dataset",
			Name:        "pages_written_total",
			Help:        "Total number of pages written to dataset files",
			ConstLabels: labels,
		}),
		DatasetBytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "groove",
			Subsystem:   "dataset",
			Name:        "bytes_written_total",
			Help:        "Total number of bytes written to dataset files",
			ConstLabels: labels,
		}),
		DatasetsMounted: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "groove",
			Subsystem:   "dataset",
			Name:        "mounted",
			Help:        "Number of mounted dataset files",
			ConstLabels: labels,
		}),

		ShipBytesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "groove",
			Subsystem:   "ship",
			Name:        "bytes_total",
			Help:        "Total number of compressed bytes shipped by direction",
			ConstLabels: labels,
		}, []string{"direction"}),
		ShipDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "groove",
			Subsystem:   "ship",
			Name:        "duration_seconds",
			Help:        "Histogram of export and import durations",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"direction"}),

		DiskUsageBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "groove",
			Subsystem:   "system",
			Name:        "disk_usage_bytes",
			Help:        "Current disk usage in bytes",
			ConstLabels: labels,
		}),
		DiskAvailableBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "groove",
			Subsystem:   "system",
			Name:        "disk_available_bytes",
			Help:        "Current available disk space in bytes",
			ConstLabels: labels,
		}),
		DiskUsagePercent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "groove",
			Subsystem:   "system",
			Name:        "disk_usage_percent",
			Help:        "Current disk usage percentage",
			ConstLabels: labels,
		}),
		MemoryUsageBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "groove",
			Subsystem:   "system",
			Name:        "memory_usage_bytes",
			Help:        "Current memory usage in bytes",
			ConstLabels: labels,
		}),
		GoroutinesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "groove",
			Subsystem:   "system",
			Name:        "goroutines_total",
			Help:        "Current number of goroutines",
			ConstLabels: labels,
		}),
	}
}

// RecordPageRead records a point read
func (m *Metrics) RecordPageRead(duration float64) {
	if m == nil {
		return
	}
	m.PageReadsTotal.Inc()
	m.PageReadDuration.Observe(duration)
}

// RecordRangeRead records a range read and the pages it walked
func (m *Metrics) RecordRangeRead(pages int) {
	if m == nil {
		return
	}
	m.RangeReadsTotal.Inc()
	m.RangeReadPages.Observe(float64(pages))
	m.PageReadsTotal.Add(float64(pages))
}

// RecordMergeWrite records a committed merge-write
func (m *Metrics) RecordMergeWrite(duration float64, rows, replaced int) {
	if m == nil {
		return
	}
	m.MergeWritesTotal.Inc()
	m.MergeWriteDuration.Observe(duration)
	m.MergeWriteRows.Observe(float64(rows))
	m.PagesReplacedTotal.Add(float64(replaced))
}

// RecordFailedColumns records columns rejected by PutData
func (m *Metrics) RecordFailedColumns(n int) {
	if m == nil || n == 0 {
		return
	}
	m.PutDataFailedColumns.Add(float64(n))
}

// RecordTransaction records the outcome of a page store transaction
func (m *Metrics) RecordTransaction(err error) {
	if m == nil {
		return
	}
	status := "applied"
	if err != nil {
		status = "failed"
	}
	m.TransactionsTotal.WithLabelValues(status).Inc()
}

// RecordCacheHit records a cache hit
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

// RecordCacheMiss records a cache miss
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.CacheMissesTotal.Inc()
}

// RecordCacheEviction records a cache eviction
func (m *Metrics) RecordCacheEviction() {
	if m == nil {
		return
	}
	m.CacheEvictionsTotal.Inc()
}

// UpdateCacheSize updates cache size metrics
func (m *Metrics) UpdateCacheSize(bytes int64, entries int64) {
	if m == nil {
		return
	}
	m.CacheSizeBytes.Set(float64(bytes))
	m.CacheEntriesTotal.Set(float64(entries))
}

// RecordDatasetWrite records a finished dataset file
func (m *Metrics) RecordDatasetWrite(pages int, bytes int64) {
	if m == nil {
		return
	}
	m.DatasetPagesWritten.Add(float64(pages))
	m.DatasetBytesWritten.Add(float64(bytes))
}

// SetDatasetsMounted updates the mounted dataset gauge
func (m *Metrics) SetDatasetsMounted(n int) {
	if m == nil {
		return
	}
	m.DatasetsMounted.Set(float64(n))
}

// RecordShip records an export or import
func (m *Metrics) RecordShip(direction string, bytes int64, duration float64) {
	if m == nil {
		return
	}
	m.ShipBytesTotal.WithLabelValues(direction).Add(float64(bytes))
	m.ShipDuration.WithLabelValues(direction).Observe(duration)
}

// UpdateSystemStats updates system-level statistics
func (m *Metrics) UpdateSystemStats(diskUsage, diskAvailable, memoryUsage int64, goroutines int) {
	if m == nil {
		return
	}
	m.DiskUsageBytes.Set(float64(diskUsage))
	m.DiskAvailableBytes.Set(float64(diskAvailable))
	if diskUsage+diskAvailable > 0 {
		m.DiskUsagePercent.Set(float64(diskUsage) / float64(diskUsage+diskAvailable) * 100)
	}
	m.MemoryUsageBytes.Set(float64(memoryUsage))
	m.GoroutinesTotal.Set(float64(goroutines))
}
