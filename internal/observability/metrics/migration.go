// Package metrics provides prometheus collectors for the migration engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MigrationMetrics contains Prometheus metrics for the migration pipeline.
type MigrationMetrics struct {
	registry *prometheus.Registry

	recordsProcessedTotal   *prometheus.CounterVec
	recordsQuarantinedTotal *prometheus.CounterVec
	recordsSkippedTotal     *prometheus.CounterVec
	recordsLoadedTotal      *prometheus.CounterVec
	recordsFailedTotal      *prometheus.CounterVec
	duplicatesMergedTotal   *prometheus.CounterVec

	batchesTotal       *prometheus.CounterVec
	batchDuration      *prometheus.HistogramVec
	batchRetriesTotal  *prometheus.CounterVec
	danglingRefsTotal  *prometheus.CounterVec
	phaseDuration      *prometheus.HistogramVec
	currentPhaseGauge  prometheus.Gauge
	enrichedDocsTotal  prometheus.Counter
	enrichWarningTotal prometheus.Counter

	collectors []prometheus.Collector
}

// NewMigrationMetrics creates and registers new migration metrics.
func NewMigrationMetrics(registry *prometheus.Registry) (*MigrationMetrics, error) {
	m := &MigrationMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MigrationMetrics) initMetrics() {
	m.recordsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinsync_records_processed_total",
			Help: "Total source records read, by entity type",
		},
		[]string{"entity_type"},
	)
	m.recordsQuarantinedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinsync_records_quarantined_total",
			Help: "Total records quarantined by validation, by entity type",
		},
		[]string{"entity_type"},
	)
	m.recordsSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinsync_records_skipped_total",
			Help: "Total records skipped during transformation, by entity type",
		},
		[]string{"entity_type"},
	)
	m.recordsLoadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinsync_records_loaded_total",
			Help: "Total rows upserted into the target, by entity type",
		},
		[]string{"entity_type"},
	)
	m.recordsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinsync_records_failed_total",
			Help: "Total records whose target write failed after retries, by entity type",
		},
		[]string{"entity_type"},
	)
	m.duplicatesMergedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinsync_duplicates_merged_total",
			Help: "Total duplicate identities merged, by match tier",
		},
		[]string{"tier"},
	)
	m.batchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinsync_batches_total",
			Help: "Total batches by entity type and outcome",
		},
		[]string{"entity_type", "status"},
	)
	m.batchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clinsync_batch_duration_seconds",
			Help:    "Batch processing time by entity type",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"entity_type"},
	)
	m.batchRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinsync_batch_retries_total",
			Help: "Total batch retries by entity type",
		},
		[]string{"entity_type"},
	)
	m.danglingRefsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinsync_dangling_references_total",
			Help: "Total references downgraded to NULL, by entity type",
		},
		[]string{"entity_type"},
	)
	m.phaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clinsync_phase_duration_seconds",
			Help:    "Time spent in each migration phase",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"phase"},
	)
	m.currentPhaseGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "clinsync_current_phase",
			Help: "Ordinal of the phase the run is currently in",
		},
	)
	m.enrichedDocsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clinsync_enriched_documents_total",
			Help: "Total documents indexed into the knowledge base",
		},
	)
	m.enrichWarningTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clinsync_enrichment_warnings_total",
			Help: "Total documents that failed enrichment",
		},
	)

	m.collectors = []prometheus.Collector{
		m.recordsProcessedTotal,
		m.recordsQuarantinedTotal,
		m.recordsSkippedTotal,
		m.recordsLoadedTotal,
		m.recordsFailedTotal,
		m.duplicatesMergedTotal,
		m.batchesTotal,
		m.batchDuration,
		m.batchRetriesTotal,
		m.danglingRefsTotal,
		m.phaseDuration,
		m.currentPhaseGauge,
		m.enrichedDocsTotal,
		m.enrichWarningTotal,
	}
}

// Describe implements prometheus.Collector.
func (m *MigrationMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *MigrationMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordProcessed adds to the processed counter for an entity type.
func (m *MigrationMetrics) RecordProcessed(entityType string, count int) {
	m.recordsProcessedTotal.WithLabelValues(entityType).Add(float64(count))
}

// RecordQuarantined adds to the quarantined counter for an entity type.
func (m *MigrationMetrics) RecordQuarantined(entityType string, count int) {
	m.recordsQuarantinedTotal.WithLabelValues(entityType).Add(float64(count))
}

// RecordSkipped adds to the transform-skip counter for an entity type.
func (m *MigrationMetrics) RecordSkipped(entityType string, count int) {
	m.recordsSkippedTotal.WithLabelValues(entityType).Add(float64(count))
}

// RecordLoaded adds to the loaded counter for an entity type.
func (m *MigrationMetrics) RecordLoaded(entityType string, count int) {
	m.recordsLoadedTotal.WithLabelValues(entityType).Add(float64(count))
}

// RecordWriteFailed adds to the write-failure counter for an entity type.
func (m *MigrationMetrics) RecordWriteFailed(entityType string, count int) {
	m.recordsFailedTotal.WithLabelValues(entityType).Add(float64(count))
}

// RecordMerge counts one duplicate merge at the given tier.
func (m *MigrationMetrics) RecordMerge(tier string) {
	m.duplicatesMergedTotal.WithLabelValues(tier).Inc()
}

// RecordBatch counts one finished batch and observes its duration.
func (m *MigrationMetrics) RecordBatch(entityType, status string, duration time.Duration) {
	m.batchesTotal.WithLabelValues(entityType, status).Inc()
	m.batchDuration.WithLabelValues(entityType).Observe(duration.Seconds())
}

// RecordBatchRetry counts one batch retry.
func (m *MigrationMetrics) RecordBatchRetry(entityType string) {
	m.batchRetriesTotal.WithLabelValues(entityType).Inc()
}

// RecordDanglingRef counts one reference downgraded to NULL.
func (m *MigrationMetrics) RecordDanglingRef(entityType string) {
	m.danglingRefsTotal.WithLabelValues(entityType).Inc()
}

// RecordPhase observes the duration of one completed phase.
func (m *MigrationMetrics) RecordPhase(phase string, duration time.Duration) {
	m.phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// SetCurrentPhase records the ordinal of the running phase.
func (m *MigrationMetrics) SetCurrentPhase(ordinal int) {
	m.currentPhaseGauge.Set(float64(ordinal))
}

// RecordEnriched adds to the enriched-document counter.
func (m *MigrationMetrics) RecordEnriched(count int) {
	m.enrichedDocsTotal.Add(float64(count))
}

// RecordEnrichWarnings adds to the enrichment-warning counter.
func (m *MigrationMetrics) RecordEnrichWarnings(count int) {
	m.enrichWarningTotal.Add(float64(count))
}
