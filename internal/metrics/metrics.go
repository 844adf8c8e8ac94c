// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

// Package metrics provides Prometheus instrumentation for the enrichment
// pipeline: batch throughput, per-step latency, cache efficiency, retry
// queue depth, clustering runs, and model backend health.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline metrics
	PipelineBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "signalpipe_batch_duration_seconds",
			Help:    "Duration of pipeline batch runs in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	PipelineActivitiesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalpipe_activities_processed_total",
			Help: "Total activities processed, by outcome",
		},
		[]string{"outcome"}, // succeeded, retried, failed, skipped
	)

	PipelineStepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signalpipe_step_duration_seconds",
			Help:    "Per-activity step duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	PipelineStepErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalpipe_step_errors_total",
			Help: "Total per-step errors",
		},
		[]string{"step", "category"},
	)

	// Embedding cache metrics
	EmbeddingCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "signalpipe_embedding_cache_hits_total",
			Help: "Total embedding cache hits",
		},
	)

	EmbeddingCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "signalpipe_embedding_cache_misses_total",
			Help: "Total embedding cache misses",
		},
	)

	EmbeddingCacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "signalpipe_embedding_cache_invalidations_total",
			Help: "Total corrupt embedding cache entries invalidated and recomputed",
		},
	)

	EmbeddingBackendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "signalpipe_embedding_backend_duration_seconds",
			Help:    "Embedding model backend call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Dedup metrics
	DedupDuplicatesFlagged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "signalpipe_duplicates_flagged_total",
			Help: "Total activities flagged as near-duplicates",
		},
	)

	DedupCandidatesCompared = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "signalpipe_dedup_candidates_compared",
			Help:    "LSH candidates compared per lookup",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)

	// Classification metrics
	ClassifyFamilyDegraded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalpipe_classify_family_degraded_total",
			Help: "Total classifications where a label family degraded to empty output",
		},
		[]string{"family"},
	)

	// Retry queue metrics
	RetryQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signalpipe_retry_queue_depth",
			Help: "Current number of entries in the retry queue",
		},
	)

	RetryQueueEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalpipe_retry_queue_entries_total",
			Help: "Total entries added to the retry queue, by error category",
		},
		[]string{"category"},
	)

	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalpipe_retry_attempts_total",
			Help: "Total retry attempts, by result",
		},
		[]string{"result"}, // success, failure, exhausted
	)

	// Clustering metrics
	ClusteringRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalpipe_clustering_runs_total",
			Help: "Total clustering runs, by outcome",
		},
		[]string{"outcome"}, // published, failed, deferred
	)

	ClusteringDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "signalpipe_clustering_duration_seconds",
			Help:    "Clustering run duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)

	ClustersPublished = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signalpipe_clusters_published",
			Help: "Cluster count from the most recent successful clustering run",
		},
	)

	// Index metrics
	IndexUpserts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "signalpipe_index_upserts_total",
			Help: "Total signal documents upserted into the search index",
		},
	)

	// HTTP API metrics
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signalpipe_api_request_duration_seconds",
			Help:    "HTTP API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signalpipe_api_active_requests",
			Help: "Number of HTTP API requests currently in flight",
		},
	)
)

// ObserveStep records a step duration sample.
func ObserveStep(step string, start time.Time) {
	PipelineStepDuration.WithLabelValues(step).Observe(time.Since(start).Seconds())
}

// RecordStepError records a per-step error by category.
func RecordStepError(step, category string) {
	PipelineStepErrors.WithLabelValues(step, category).Inc()
}

// RecordOutcome records a per-activity pipeline outcome.
func RecordOutcome(outcome string) {
	PipelineActivitiesProcessed.WithLabelValues(outcome).Inc()
}

// TrackActiveRequest adjusts the in-flight HTTP request gauge.
func TrackActiveRequest(start bool) {
	if start {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordAPIRequest records one completed HTTP API request.
func RecordAPIRequest(method, path, status string, duration time.Duration) {
	APIRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
