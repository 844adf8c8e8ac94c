// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

// Package main is the entry point for the Signalpipe server.
//
// Signalpipe turns raw community activity (forum posts, chat messages,
// issue comments) into de-duplicated, classified, scored, and clustered
// signals that product teams can triage.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: defaults, optional YAML file, environment variables (Koanf v2)
//  2. Store: DuckDB holding activities, enriched signals, clusters, and the search index
//  3. Cache: BadgerDB for embedding reuse, processing claims, and clustering locks
//  4. Enrichment services: embedding, classification, identity resolution, scoring
//  5. Pipeline orchestrator: the batch state machine plus its retry queue
//  6. Clustering orchestrator: periodic per-tenant DBSCAN passes
//  7. HTTP server: the control API plus Prometheus metrics
//
// All long-running services are supervised by a Suture tree; a crashing
// pipeline worker restarts without taking the control API down.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (SIGNALPIPE_ prefix, e.g. SIGNALPIPE_PIPELINE_CRON)
//   - Config file (config.yaml, or CONFIG_PATH)
//   - Built-in defaults
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM:
//   - The in-flight batch stops dispatching new activities
//   - The HTTP server drains in-flight requests (10s timeout)
//   - The store is checkpointed and closed, then the cache
//
// # Example Usage
//
// Local development with in-memory cache:
//
//	export SIGNALPIPE_DATABASE_PATH=./signalpipe.duckdb
//	export SIGNALPIPE_CACHE_IN_MEMORY=true
//	export SIGNALPIPE_LOGGING_FORMAT=console
//	./signalpipe
//
// Production:
//
//	export SIGNALPIPE_DATABASE_PATH=/data/signalpipe.duckdb
//	export SIGNALPIPE_CACHE_PATH=/data/signalcache
//	export SIGNALPIPE_CLASSIFY_ARTIFACT_DIR=/data/models
//	./signalpipe
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/signalpipe/internal/api"
	"github.com/tomtom215/signalpipe/internal/cache"
	"github.com/tomtom215/signalpipe/internal/classify"
	"github.com/tomtom215/signalpipe/internal/cluster"
	"github.com/tomtom215/signalpipe/internal/config"
	"github.com/tomtom215/signalpipe/internal/dedup"
	"github.com/tomtom215/signalpipe/internal/embedding"
	"github.com/tomtom215/signalpipe/internal/identity"
	"github.com/tomtom215/signalpipe/internal/indexing"
	"github.com/tomtom215/signalpipe/internal/logging"
	"github.com/tomtom215/signalpipe/internal/pipeline"
	"github.com/tomtom215/signalpipe/internal/scoring"
	"github.com/tomtom215/signalpipe/internal/store"
	"github.com/tomtom215/signalpipe/internal/supervisor"
)

//nolint:gocyclo // Main initialization function with sequential setup steps
func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		// Use default logger for config errors (config not yet available)
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logger := logging.Logger()

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Str("cron", cfg.Pipeline.Cron).
		Bool("clustering", cfg.Clustering.Enabled).
		Msg("Starting Signalpipe")

	st, err := store.New(&cfg.Database, logger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize store")
	}

	cacheStore, err := cache.NewBadgerStore(cache.BadgerOptions{
		Path:     cfg.Cache.Path,
		InMemory: cfg.Cache.InMemory,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open cache")
	}

	// Enrichment services. The hashing embedder is the built-in backend;
	// it is deterministic, local, and needs no credentials.
	embedSvc, err := embedding.NewService(embedding.Config{
		Dimensions:              cfg.Embedding.Dimensions,
		CacheTTL:                cfg.Cache.EmbeddingTTL,
		QuantizePrecision:       cfg.Embedding.QuantizePrecision,
		BackendTimeout:          cfg.Embedding.BackendTimeout,
		RateLimitPerSecond:      cfg.Embedding.RateLimitPerSecond,
		BreakerFailureThreshold: cfg.Embedding.BreakerFailureThreshold,
		BreakerOpenTimeout:      cfg.Embedding.BreakerOpenTimeout,
	}, cacheStore, embedding.NewHashingEmbedder(cfg.Embedding.Dimensions), logger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create embedding service")
	}

	classifySvc := classify.NewService(
		classify.Config{RefreshInterval: cfg.Classify.RefreshInterval},
		artifactStore(cfg.Classify.ArtifactDir),
		logger,
	)

	resolver := identity.NewResolver(
		identity.Config{FuzzyThreshold: cfg.Identity.FuzzyThreshold},
		st, logger,
	)

	scorer := scoring.NewEngine(scoring.Config{
		VelocityHalfLife: cfg.Scoring.VelocityHalfLife,
	})

	signatures := dedup.NewEngine(dedup.Config{
		ShingleSize: cfg.Dedup.ShingleSize,
		NumHashes:   cfg.Dedup.NumHashes,
	})
	lsh := dedup.NewLSHIndex(dedup.LSHConfig{
		Bands:            cfg.Dedup.Bands,
		RowsPerBand:      cfg.Dedup.RowsPerBand,
		SimilarityCutoff: cfg.Dedup.SimilarityCutoff,
	})
	if err := seedDedupIndex(context.Background(), st, lsh, cfg.Scoring.LookbackWindow); err != nil {
		logging.Warn().Err(err).Msg("Dedup index seeding failed, starting cold")
	}

	indexer := indexing.NewService(st.Conn(), logger)

	retryCfg := pipeline.DefaultRetryConfig()
	retryCfg.MaxRetries = cfg.Pipeline.MaxRetries
	retryCfg.MaxEntries = cfg.Pipeline.RetryQueueSize
	retryCfg.InitialBackoff = cfg.Pipeline.InitialBackoff
	retryCfg.MaxBackoff = cfg.Pipeline.MaxBackoff

	orch, err := pipeline.NewOrchestrator(pipeline.Config{
		Cron:           cfg.Pipeline.Cron,
		BatchSize:      cfg.Pipeline.BatchSize,
		Workers:        cfg.Pipeline.Workers,
		StepTimeout:    cfg.Pipeline.StepTimeout,
		ClaimTTL:       cfg.Cache.ClaimTTL,
		LookbackWindow: cfg.Scoring.LookbackWindow,
		RetryInterval:  cfg.Pipeline.RetryInterval,
		Retry:          retryCfg,
	}, st, embedSvc, classifySvc, resolver, scorer, indexer, cacheStore, signatures, lsh, logger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create pipeline orchestrator")
	}

	clusterOrch := cluster.NewOrchestrator(cluster.Config{
		Epsilon:        cfg.Clustering.Epsilon,
		MinClusterSize: cfg.Clustering.MinClusterSize,
		Window:         cfg.Clustering.Window,
		LockTTL:        cfg.Cache.ClusterLockTTL,
	}, st, cacheStore, indexer, logger)

	router := api.NewRouter(orch, clusterOrch, st, indexer, logger)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	// Supervisor tree. The slog adapter bridges zerolog to sutureslog.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddPipelineService(supervisor.RunFunc{Name: "scheduler", Fn: orch.RunScheduler})
	tree.AddPipelineService(supervisor.RunFunc{Name: "retry-worker", Fn: orch.RunRetryWorker})
	if cfg.Clustering.Enabled {
		tree.AddPipelineService(supervisor.NewClusteringService(clusterOrch, cfg.Clustering.Interval))
	}
	tree.AddAPIService(supervisor.NewHTTPService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP control API service added")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Drain the error channel; it closes when the supervisor has stopped.
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	if err := st.Checkpoint(); err != nil {
		logging.Warn().Err(err).Msg("Store checkpoint failed during shutdown")
	}
	if err := st.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing store")
	}
	if err := cacheStore.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing cache")
	}

	logging.Info().Msg("Signalpipe stopped gracefully")
}

// artifactStore returns the directory-backed artifact store when the
// configured directory exists, otherwise the compiled-in artifacts so a
// fresh deployment classifies out of the box.
func artifactStore(dir string) classify.ArtifactStore {
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return classify.NewDirArtifactStore(dir)
	}
	logging.Warn().Str("dir", dir).Msg("Artifact directory missing, using built-in classification artifacts")
	return classify.NewStaticArtifactStore(classify.BuiltinArtifacts()...)
}

// seedDedupIndex rebuilds the in-memory LSH index from persisted signal
// signatures so restarts keep flagging near-duplicates of recent
// activity. Only originals are indexed; duplicates never become
// duplicate targets themselves.
func seedDedupIndex(ctx context.Context, st *store.Store, lsh *dedup.LSHIndex, lookback time.Duration) error {
	tenants, err := st.Tenants(ctx)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}

	since := time.Now().Add(-lookback)
	seeded := 0
	for _, tenant := range tenants {
		signals, err := st.RecentSignals(ctx, tenant, since)
		if err != nil {
			return fmt.Errorf("fetch signals for tenant %s: %w", tenant, err)
		}
		for i := range signals {
			sig := &signals[i]
			if sig.IsDuplicate() || sig.Signature.IsZero() {
				continue
			}
			lsh.Add(sig.ActivityID, sig.Signature)
			seeded++
		}
	}
	logging.Info().Int("signatures", seeded).Int("tenants", len(tenants)).Msg("Dedup index seeded")
	return nil
}
