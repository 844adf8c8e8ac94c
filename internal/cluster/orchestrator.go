// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/signalpipe/internal/cache"
	"github.com/tomtom215/signalpipe/internal/metrics"
	"github.com/tomtom215/signalpipe/internal/models"
)

// SignalSource is the storage surface the orchestrator clusters over. The
// DuckDB store implements it.
type SignalSource interface {
	// Tenants lists tenant ids with enriched signals.
	Tenants(ctx context.Context) ([]string, error)

	// ClusterableSignals returns the tenant's non-duplicate signals that
	// carry an embedding and were created after the cutoff, the clustering
	// input set.
	ClusterableSignals(ctx context.Context, tenantID string, since time.Time) ([]models.EnrichedSignal, error)

	// ReplaceClusters atomically swaps the tenant's cluster set and
	// signal assignments. Either everything is published or nothing is.
	ReplaceClusters(ctx context.Context, tenantID string, clusters []models.Cluster, assignments map[string]int) error
}

// Index receives the new assignments after a cluster set is published. The
// search index implements it.
type Index interface {
	UpdateClusterID(ctx context.Context, activityID string, clusterID int) error
}

// Config tunes the clustering pass.
type Config struct {
	// Epsilon is the DBSCAN neighborhood radius in cosine distance.
	Epsilon float64

	// MinClusterSize is the DBSCAN density threshold.
	MinClusterSize int

	// Window bounds how far back signals are collected for clustering.
	Window time.Duration

	// LockTTL bounds how long a crashed run can hold a tenant lock.
	LockTTL time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Epsilon:        0.25,
		MinClusterSize: 3,
		Window:         30 * 24 * time.Hour,
		LockTTL:        10 * time.Minute,
	}
}

// Outcome classifies one tenant's clustering pass.
type Outcome string

// Per-tenant outcomes.
const (
	OutcomePublished Outcome = "published"
	OutcomeDeferred  Outcome = "deferred"
	OutcomeFailed    Outcome = "failed"
	OutcomeEmpty     Outcome = "empty"
)

// Orchestrator runs periodic clustering passes. Each pass covers every
// tenant independently: one tenant failing or being locked never blocks
// the others.
type Orchestrator struct {
	cfg     Config
	source  SignalSource
	locks   cache.Store
	index   Index
	logger  zerolog.Logger
	ownerID string
}

// NewOrchestrator creates a clustering orchestrator. A nil index disables
// search-index propagation.
func NewOrchestrator(cfg Config, source SignalSource, locks cache.Store, index Index, logger zerolog.Logger) *Orchestrator {
	def := DefaultConfig()
	if cfg.Epsilon <= 0 || cfg.Epsilon >= 2 {
		cfg.Epsilon = def.Epsilon
	}
	if cfg.MinClusterSize < 2 {
		cfg.MinClusterSize = def.MinClusterSize
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	return &Orchestrator{
		cfg:     cfg,
		source:  source,
		locks:   locks,
		index:   index,
		logger:  logger.With().Str("component", "cluster").Logger(),
		ownerID: uuid.NewString(),
	}
}

// Run executes one clustering pass over all tenants. Per-tenant errors are
// logged and counted, not propagated; Run only fails when the tenant list
// itself cannot be read.
func (o *Orchestrator) Run(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.ClusteringDuration.Observe(time.Since(start).Seconds())
	}()

	tenants, err := o.source.Tenants(ctx)
	if err != nil {
		metrics.ClusteringRuns.WithLabelValues(string(OutcomeFailed)).Inc()
		return fmt.Errorf("list tenants: %w", err)
	}

	for _, tenantID := range tenants {
		if err := ctx.Err(); err != nil {
			return err
		}
		outcome := o.runTenant(ctx, tenantID)
		metrics.ClusteringRuns.WithLabelValues(string(outcome)).Inc()
	}
	return nil
}

// runTenant clusters a single tenant under its lock.
func (o *Orchestrator) runTenant(ctx context.Context, tenantID string) Outcome {
	acquired, err := cache.AcquireClusterLock(ctx, o.locks, tenantID, o.ownerID, o.cfg.LockTTL)
	if err != nil {
		o.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("clustering lock acquisition failed")
		return OutcomeFailed
	}
	if !acquired {
		o.logger.Info().Str("tenant_id", tenantID).Msg("clustering already in flight, deferring")
		return OutcomeDeferred
	}
	defer func() {
		if err := cache.ReleaseClusterLock(ctx, o.locks, tenantID); err != nil {
			o.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("clustering lock release failed")
		}
	}()

	since := time.Now().UTC().Add(-o.cfg.Window)
	signals, err := o.source.ClusterableSignals(ctx, tenantID, since)
	if err != nil {
		o.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("clusterable signal fetch failed")
		return OutcomeFailed
	}
	if len(signals) == 0 {
		return OutcomeEmpty
	}

	clusters, assignments := o.cluster(tenantID, signals)

	// All-or-nothing: the prior cluster set stays live on failure.
	if err := o.source.ReplaceClusters(ctx, tenantID, clusters, assignments); err != nil {
		o.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("cluster publication failed, prior set retained")
		return OutcomeFailed
	}

	o.propagateToIndex(ctx, tenantID, assignments)

	metrics.ClustersPublished.Set(float64(len(clusters)))
	o.logger.Info().
		Str("tenant_id", tenantID).
		Int("signals", len(signals)).
		Int("clusters", len(clusters)).
		Msg("cluster set published")
	return OutcomePublished
}

// propagateToIndex rewrites the cluster id on each tenant's indexed
// document. The cluster set is already committed at this point, so index
// failures are logged, not propagated: the next published pass converges
// the index again.
func (o *Orchestrator) propagateToIndex(ctx context.Context, tenantID string, assignments map[string]int) {
	if o.index == nil {
		return
	}
	for activityID, clusterID := range assignments {
		if err := o.index.UpdateClusterID(ctx, activityID, clusterID); err != nil {
			o.logger.Warn().Err(err).
				Str("tenant_id", tenantID).
				Str("activity_id", activityID).
				Msg("search index cluster update failed")
		}
	}
}

// cluster runs DBSCAN over the signals' embeddings and materializes the
// cluster set. Outliers are assigned the sentinel id, never a cluster.
func (o *Orchestrator) cluster(tenantID string, signals []models.EnrichedSignal) ([]models.Cluster, map[string]int) {
	points := make([][]float32, len(signals))
	for i := range signals {
		points[i] = signals[i].Embedding
	}

	labels := DBSCAN(points, o.cfg.Epsilon, o.cfg.MinClusterSize)

	assignments := make(map[string]int, len(signals))
	memberPoints := make(map[int][][]float32)
	memberIDs := make(map[int][]string)
	for i, label := range labels {
		assignments[signals[i].ActivityID] = label
		if label == Noise {
			continue
		}
		memberPoints[label] = append(memberPoints[label], points[i])
		memberIDs[label] = append(memberIDs[label], signals[i].ActivityID)
	}

	now := time.Now().UTC()
	clusters := make([]models.Cluster, 0, len(memberPoints))
	for id := 0; id < len(memberPoints); id++ {
		clusters = append(clusters, models.Cluster{
			ID:              id,
			TenantID:        tenantID,
			Centroid:        centroid(memberPoints[id]),
			MemberSignalIDs: memberIDs[id],
			CreatedAt:       now,
		})
	}
	return clusters, assignments
}
