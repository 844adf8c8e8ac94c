// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

package config

import (
	"fmt"
)

// Validate checks the configuration for invalid or inconsistent values.
// It is called once at startup; a validation failure is fatal.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if !c.Cache.InMemory && c.Cache.Path == "" {
		return fmt.Errorf("cache.path must not be empty unless cache.in_memory is set")
	}
	if c.Cache.EmbeddingTTL <= 0 {
		return fmt.Errorf("cache.embedding_ttl must be positive")
	}
	if c.Cache.ClaimTTL <= 0 {
		return fmt.Errorf("cache.claim_ttl must be positive")
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Embedding.QuantizePrecision <= 0 || c.Embedding.QuantizePrecision >= 1 {
		return fmt.Errorf("embedding.quantize_precision must be in (0,1), got %g", c.Embedding.QuantizePrecision)
	}
	if err := c.validateDedup(); err != nil {
		return err
	}
	if c.Classify.RefreshInterval <= 0 {
		return fmt.Errorf("classify.refresh_interval must be positive")
	}
	if c.Scoring.LookbackWindow <= 0 {
		return fmt.Errorf("scoring.lookback_window must be positive")
	}
	if c.Scoring.VelocityHalfLife <= 0 {
		return fmt.Errorf("scoring.velocity_half_life must be positive")
	}
	if c.Identity.FuzzyThreshold <= 0 || c.Identity.FuzzyThreshold > 1 {
		return fmt.Errorf("identity.fuzzy_threshold must be in (0,1], got %g", c.Identity.FuzzyThreshold)
	}
	if err := c.validateClustering(); err != nil {
		return err
	}
	return c.validatePipeline()
}

func (c *Config) validateDedup() error {
	d := c.Dedup
	if d.ShingleSize < 1 {
		return fmt.Errorf("dedup.shingle_size must be at least 1, got %d", d.ShingleSize)
	}
	if d.NumHashes < 1 {
		return fmt.Errorf("dedup.num_hashes must be at least 1, got %d", d.NumHashes)
	}
	if d.Bands < 1 || d.RowsPerBand < 1 {
		return fmt.Errorf("dedup.bands and dedup.rows_per_band must be at least 1")
	}
	if d.Bands*d.RowsPerBand != d.NumHashes {
		return fmt.Errorf("dedup.bands (%d) * dedup.rows_per_band (%d) must equal dedup.num_hashes (%d)",
			d.Bands, d.RowsPerBand, d.NumHashes)
	}
	if d.SimilarityCutoff <= 0 || d.SimilarityCutoff > 1 {
		return fmt.Errorf("dedup.similarity_cutoff must be in (0,1], got %g", d.SimilarityCutoff)
	}
	return nil
}

func (c *Config) validateClustering() error {
	cl := c.Clustering
	if !cl.Enabled {
		return nil
	}
	if cl.Interval <= 0 {
		return fmt.Errorf("clustering.interval must be positive")
	}
	if cl.Window <= 0 {
		return fmt.Errorf("clustering.window must be positive")
	}
	if cl.Epsilon <= 0 || cl.Epsilon >= 2 {
		return fmt.Errorf("clustering.epsilon must be in (0,2) for cosine distance, got %g", cl.Epsilon)
	}
	if cl.MinClusterSize < 2 {
		return fmt.Errorf("clustering.min_cluster_size must be at least 2, got %d", cl.MinClusterSize)
	}
	return nil
}

func (c *Config) validatePipeline() error {
	p := c.Pipeline
	if p.Cron == "" {
		return fmt.Errorf("pipeline.cron must not be empty")
	}
	if p.BatchSize < 1 {
		return fmt.Errorf("pipeline.batch_size must be at least 1, got %d", p.BatchSize)
	}
	if p.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1, got %d", p.Workers)
	}
	if p.StepTimeout <= 0 {
		return fmt.Errorf("pipeline.step_timeout must be positive")
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("pipeline.max_retries must not be negative, got %d", p.MaxRetries)
	}
	if p.InitialBackoff <= 0 || p.MaxBackoff < p.InitialBackoff {
		return fmt.Errorf("pipeline backoff bounds invalid: initial=%s max=%s", p.InitialBackoff, p.MaxBackoff)
	}
	if p.RetryQueueSize < 1 {
		return fmt.Errorf("pipeline.retry_queue_size must be at least 1, got %d", p.RetryQueueSize)
	}
	return nil
}
