// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"empty db path", func(c *Config) { c.Database.Path = "" }},
		{"zero embedding dims", func(c *Config) { c.Embedding.Dimensions = 0 }},
		{"banding mismatch", func(c *Config) { c.Dedup.Bands = 7 }},
		{"cutoff above one", func(c *Config) { c.Dedup.SimilarityCutoff = 1.5 }},
		{"fuzzy threshold zero", func(c *Config) { c.Identity.FuzzyThreshold = 0 }},
		{"min cluster size one", func(c *Config) { c.Clustering.MinClusterSize = 1 }},
		{"epsilon too large", func(c *Config) { c.Clustering.Epsilon = 2.5 }},
		{"zero batch size", func(c *Config) { c.Pipeline.BatchSize = 0 }},
		{"max backoff below initial", func(c *Config) {
			c.Pipeline.InitialBackoff = time.Minute
			c.Pipeline.MaxBackoff = time.Second
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error for %s", tt.name)
			}
		})
	}
}

func TestLoadPrecedenceEnvOverFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
pipeline:
  batch_size: 50
  workers: 4
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("SIGNALPIPE_PIPELINE_WORKERS", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// From file
	if cfg.Pipeline.BatchSize != 50 {
		t.Errorf("expected batch_size 50 from file, got %d", cfg.Pipeline.BatchSize)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug from file, got %s", cfg.Logging.Level)
	}
	// Env overrides file
	if cfg.Pipeline.Workers != 2 {
		t.Errorf("expected workers 2 from env, got %d", cfg.Pipeline.Workers)
	}
	// Defaults survive where nothing overrides
	if cfg.Dedup.NumHashes != 64 {
		t.Errorf("expected default num_hashes 64, got %d", cfg.Dedup.NumHashes)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SIGNALPIPE_DATABASE_PATH", "database.path"},
		{"SIGNALPIPE_PIPELINE_BATCH_SIZE", "pipeline.batch_size"},
		{"SIGNALPIPE_DEDUP_SIMILARITY_CUTOFF", "dedup.similarity_cutoff"},
		{"LOG_LEVEL", "logging.level"},
		{"HTTP_PORT", "server.port"},
		{"PATH", ""},
		{"SIGNALPIPE_UNKNOWN_FIELD", ""},
	}
	for _, tt := range tests {
		if got := envTransformFunc(tt.in); got != tt.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
