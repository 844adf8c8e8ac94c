// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

// Package config defines the typed configuration for every pipeline
// component. Configuration is loaded once at startup (defaults, then an
// optional YAML file, then environment variables), validated, and never
// mutated at runtime.
package config

import (
	"time"
)

// Config is the root configuration object.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Cache      CacheConfig      `koanf:"cache"`
	Embedding  EmbeddingConfig  `koanf:"embedding"`
	Dedup      DedupConfig      `koanf:"dedup"`
	Classify   ClassifyConfig   `koanf:"classify"`
	Scoring    ScoringConfig    `koanf:"scoring"`
	Identity   IdentityConfig   `koanf:"identity"`
	Clustering ClusteringConfig `koanf:"clustering"`
	Pipeline   PipelineConfig   `koanf:"pipeline"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// DatabaseConfig configures the DuckDB store holding activities, enriched
// signals, clusters, and the search index.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = runtime.NumCPU()
}

// CacheConfig configures the badger-backed cache store.
type CacheConfig struct {
	Path string `koanf:"path"`
	// InMemory runs badger without disk persistence. Used by tests and
	// ephemeral deployments.
	InMemory bool `koanf:"in_memory"`
	// EmbeddingTTL is how long cached embeddings stay valid.
	EmbeddingTTL time.Duration `koanf:"embedding_ttl"`
	// ClaimTTL bounds how long a per-activity processing claim is held.
	ClaimTTL time.Duration `koanf:"claim_ttl"`
	// ClusterLockTTL bounds how long a tenant clustering lock is held.
	ClusterLockTTL time.Duration `koanf:"cluster_lock_ttl"`
}

// EmbeddingConfig configures the embedding service.
type EmbeddingConfig struct {
	// Dimensions is the expected embedding vector dimensionality. Cached
	// vectors with a different shape are treated as corrupt.
	Dimensions int `koanf:"dimensions"`
	// QuantizePrecision rounds embedding components to this precision
	// before caching (e.g. 1e-4).
	QuantizePrecision float64 `koanf:"quantize_precision"`
	// BackendTimeout is the per-call timeout on the embedding backend.
	BackendTimeout time.Duration `koanf:"backend_timeout"`
	// RateLimitPerSecond caps backend calls. 0 disables limiting.
	RateLimitPerSecond float64 `koanf:"rate_limit_per_second"`
	// BreakerFailureThreshold trips the circuit breaker after this many
	// consecutive backend failures.
	BreakerFailureThreshold uint32 `koanf:"breaker_failure_threshold"`
	// BreakerOpenTimeout is how long the breaker stays open before probing.
	BreakerOpenTimeout time.Duration `koanf:"breaker_open_timeout"`
}

// DedupConfig configures MinHash signature generation and LSH bucketing.
// The duplicate threshold and banding parameters are operationally tuned;
// the defaults are a starting point, not a guaranteed-correct constant.
type DedupConfig struct {
	ShingleSize int `koanf:"shingle_size"`
	NumHashes   int `koanf:"num_hashes"`
	// Bands and RowsPerBand control LSH banding. Bands*RowsPerBand must
	// equal NumHashes.
	Bands       int `koanf:"bands"`
	RowsPerBand int `koanf:"rows_per_band"`
	// SimilarityCutoff is the estimated-Jaccard cutoff above which two
	// signatures are considered duplicates.
	SimilarityCutoff float64 `koanf:"similarity_cutoff"`
}

// ClassifyConfig configures the classification service.
type ClassifyConfig struct {
	// ArtifactDir holds versioned model artifact JSON files, one per
	// label family.
	ArtifactDir string `koanf:"artifact_dir"`
	// RefreshInterval is how often model artifacts are reloaded.
	RefreshInterval time.Duration `koanf:"refresh_interval"`
}

// ScoringConfig configures the scoring engine.
type ScoringConfig struct {
	// LookbackWindow bounds the signal history considered by velocity and
	// cross-platform scoring.
	LookbackWindow time.Duration `koanf:"lookback_window"`
	// VelocityHalfLife controls exponential decay of thread activity.
	VelocityHalfLife time.Duration `koanf:"velocity_half_life"`
}

// IdentityConfig configures identity resolution.
type IdentityConfig struct {
	// FuzzyThreshold is the minimum trigram similarity for a fuzzy
	// identity match.
	FuzzyThreshold float64 `koanf:"fuzzy_threshold"`
}

// ClusteringConfig configures the clustering orchestrator.
type ClusteringConfig struct {
	Enabled bool `koanf:"enabled"`
	// Interval is the cadence between clustering passes.
	Interval time.Duration `koanf:"interval"`
	// Window bounds how far back signals are collected for clustering.
	Window time.Duration `koanf:"window"`
	// Epsilon is the maximum cosine distance between density-reachable
	// points.
	Epsilon float64 `koanf:"epsilon"`
	// MinClusterSize is the DBSCAN minimum neighborhood size.
	MinClusterSize int `koanf:"min_cluster_size"`
}

// PipelineConfig configures the batch orchestrator.
type PipelineConfig struct {
	// Cron is the recurring cadence in 5-field cron syntax.
	Cron string `koanf:"cron"`
	// BatchSize is the number of unprocessed activities pulled per run.
	BatchSize int `koanf:"batch_size"`
	// Workers bounds per-step parallelism inside a run.
	Workers int `koanf:"workers"`
	// StepTimeout is the per-step, per-activity timeout.
	StepTimeout time.Duration `koanf:"step_timeout"`
	// MaxRetries bounds per-activity retry attempts.
	MaxRetries int `koanf:"max_retries"`
	// InitialBackoff and MaxBackoff bound the exponential retry backoff.
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff"`
	// RetryInterval is how often the retry worker drains due entries.
	RetryInterval time.Duration `koanf:"retry_interval"`
	// RetryQueueSize caps retry queue entries; oldest are evicted beyond it.
	RetryQueueSize int `koanf:"retry_queue_size"`
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    3861,
			Timeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:      "/data/signalpipe.duckdb",
			MaxMemory: "2GB",
			Threads:   0,
		},
		Cache: CacheConfig{
			Path:           "/data/signalcache",
			InMemory:       false,
			EmbeddingTTL:   7 * 24 * time.Hour,
			ClaimTTL:       5 * time.Minute,
			ClusterLockTTL: 15 * time.Minute,
		},
		Embedding: EmbeddingConfig{
			Dimensions:              256,
			QuantizePrecision:       1e-4,
			BackendTimeout:          10 * time.Second,
			RateLimitPerSecond:      20,
			BreakerFailureThreshold: 5,
			BreakerOpenTimeout:      30 * time.Second,
		},
		Dedup: DedupConfig{
			ShingleSize:      3,
			NumHashes:        64,
			Bands:            16,
			RowsPerBand:      4,
			SimilarityCutoff: 0.85,
		},
		Classify: ClassifyConfig{
			ArtifactDir:     "/data/models",
			RefreshInterval: 7 * 24 * time.Hour,
		},
		Scoring: ScoringConfig{
			LookbackWindow:   7 * 24 * time.Hour,
			VelocityHalfLife: 24 * time.Hour,
		},
		Identity: IdentityConfig{
			FuzzyThreshold: 0.85,
		},
		Clustering: ClusteringConfig{
			Enabled:        true,
			Interval:       time.Hour,
			Window:         30 * 24 * time.Hour,
			Epsilon:        0.25,
			MinClusterSize: 3,
		},
		Pipeline: PipelineConfig{
			Cron:           "*/15 * * * *",
			BatchSize:      200,
			Workers:        8,
			StepTimeout:    30 * time.Second,
			MaxRetries:     5,
			InitialBackoff: time.Second,
			MaxBackoff:     time.Minute,
			RetryInterval:  30 * time.Second,
			RetryQueueSize: 10000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}
