package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// IngestMetrics counts the ingestion pipeline's work: messages and bytes
// archived, dedup hits, skips, and per-item processing latency.
type IngestMetrics struct {
	ingestedMessages prometheus.Counter
	ingestedBytes    prometheus.Counter
	dedupHits        prometheus.Counter
	skippedItems     *prometheus.CounterVec
	bucketUsedRatio  prometheus.Gauge
	processing       prometheus.Histogram
}

// NewIngestMetrics creates the ingestion collectors.
//
// Returns nil if metrics are not enabled (InitRegistry not called); the nil
// receiver is safe to use.
func NewIngestMetrics() *IngestMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &IngestMetrics{
		ingestedMessages: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "telarch_ingested_messages_total",
			Help: "Total number of messages fully archived",
		}),
		ingestedBytes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "telarch_ingested_bytes_total",
			Help: "Total bytes uploaded to the archive bucket",
		}),
		dedupHits: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "telarch_dedup_hits_total",
			Help: "Total media items skipped because identical content was already archived",
		}),
		skippedItems: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "telarch_skipped_items_total",
			Help: "Total media items skipped, by reason",
		}, []string{"reason"}),
		bucketUsedRatio: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "telarch_bucket_used_ratio",
			Help: "Fraction of the configured bucket quota in use (0.0-1.0)",
		}),
		processing: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name: "telarch_processing_seconds",
			Help: "Wall time to fully process one inbound message or album",
			Buckets: []float64{
				0.05, // metadata-only paths
				0.25,
				1,
				5, // typical photo/video downloads
				15,
				60,
				300, // large album near the bot API limit
			},
		}),
	}
}

// RecordMessage counts one fully archived message or album.
func (m *IngestMetrics) RecordMessage() {
	if m == nil {
		return
	}
	m.ingestedMessages.Inc()
}

// RecordBytes counts bytes uploaded to the bucket.
func (m *IngestMetrics) RecordBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.ingestedBytes.Add(float64(n))
}

// RecordDedupHit counts a media item skipped as a duplicate.
func (m *IngestMetrics) RecordDedupHit() {
	if m == nil {
		return
	}
	m.dedupHits.Inc()
}

// RecordSkip counts a skipped item by reason ("no_media",
// "exceeds_bot_limit", "exceeds_cfg_limit", ...).
func (m *IngestMetrics) RecordSkip(reason string) {
	if m == nil {
		return
	}
	m.skippedItems.WithLabelValues(reason).Inc()
}

// SetBucketUsedRatio publishes the latest quota measurement.
func (m *IngestMetrics) SetBucketUsedRatio(ratio float64) {
	if m == nil {
		return
	}
	m.bucketUsedRatio.Set(ratio)
}

// ObserveProcessing records the wall time of one pipeline run.
func (m *IngestMetrics) ObserveProcessing(d time.Duration) {
	if m == nil {
		return
	}
	m.processing.Observe(d.Seconds())
}
