// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

// Package api provides the HTTP control surface using Chi router: pipeline
// triggering and status, retry queue management, signal and cluster reads,
// search, health, and Prometheus metrics.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tomtom215/signalpipe/internal/middleware"
	"github.com/tomtom215/signalpipe/internal/models"
	"github.com/tomtom215/signalpipe/internal/pipeline"
)

// PipelineControl is the orchestrator surface the handlers need.
type PipelineControl interface {
	TriggerBatch(size int) (string, bool)
	CancelRun() bool
	CancelRunByID(runID string) bool
	Run(runID string) (pipeline.RunRecord, bool)
	Status() pipeline.Status
	UpdateSchedule(cron string) error
	Cron() string
	RetryStats() pipeline.RetryStats
	RetryEntries() []pipeline.RetryEntry
	RetryEntry(activityID string) *pipeline.RetryEntry
	DropRetry(activityID string) bool
	RetryNow(ctx context.Context, activityID string) (string, error)
	CleanupRetries() int
}

// ClusterRunner triggers an on-demand clustering pass.
type ClusterRunner interface {
	Run(ctx context.Context) error
}

// SignalReader is the read-side store surface.
type SignalReader interface {
	GetSignal(ctx context.Context, activityID string) (*models.EnrichedSignal, error)
	Clusters(ctx context.Context, tenantID string) ([]models.Cluster, error)
	Tenants(ctx context.Context) ([]string, error)
	FailedActivities(ctx context.Context, limit int) (map[string]string, error)
	Ping(ctx context.Context) error
}

// Searcher runs lexical search over the signal index.
type Searcher interface {
	Search(ctx context.Context, tenantID, query string, limit int) ([]string, error)
}

// Router wires handlers and middleware into an http.Handler.
type Router struct {
	pipeline PipelineControl
	clusters ClusterRunner
	signals  SignalReader
	searcher Searcher
	logger   zerolog.Logger
}

// NewRouter creates the control API router. The searcher may be nil when
// indexing is disabled; search endpoints then return 503.
func NewRouter(pc PipelineControl, cr ClusterRunner, sr SignalReader, searcher Searcher, logger zerolog.Logger) *Router {
	return &Router{
		pipeline: pc,
		clusters: cr,
		signals:  sr,
		searcher: searcher,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// Setup configures all HTTP routes.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/live", router.HealthLive)
		r.Get("/ready", router.HealthReady)
	})
	// Probe-friendly alias.
	r.Get("/healthz", router.HealthLive)

	r.Route("/api/v1/pipeline", func(r chi.Router) {
		r.Use(middleware.PrometheusMetrics)

		r.Post("/trigger", router.PipelineTrigger)
		r.Post("/cancel", router.PipelineCancel)
		r.Get("/status", router.PipelineStatus)
		r.Get("/failed", router.FailedActivities)
		r.Get("/schedule", router.ScheduleGet)
		r.Put("/schedule", router.ScheduleUpdate)
		r.Route("/runs/{id}", func(r chi.Router) {
			r.Get("/", router.RunGet)
			r.Delete("/", router.RunCancel)
		})
	})

	r.Route("/api/v1/retries", func(r chi.Router) {
		r.Use(middleware.PrometheusMetrics)

		r.Get("/", router.RetryList)
		r.Get("/stats", router.RetryStats)
		r.Post("/cleanup", router.RetryCleanup)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", router.RetryGet)
			r.Delete("/", router.RetryDrop)
			r.Post("/retry", router.RetryNow)
		})
	})

	r.Route("/api/v1/signals", func(r chi.Router) {
		r.Use(middleware.PrometheusMetrics)
		r.Use(middleware.Compression)

		r.Get("/{id}", router.SignalGet)
	})

	r.Route("/api/v1/search", func(r chi.Router) {
		r.Use(middleware.PrometheusMetrics)
		r.Use(middleware.Compression)

		r.Get("/", router.Search)
	})

	r.Route("/api/v1/clusters", func(r chi.Router) {
		r.Use(middleware.PrometheusMetrics)
		r.Use(middleware.Compression)

		r.Get("/", router.ClusterList)
		r.Post("/run", router.ClusterRun)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
