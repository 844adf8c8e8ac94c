// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/signalpipe/config.yaml",
	"/etc/signalpipe/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load loads configuration using koanf v2 with layered sources:
//  1. Defaults: built-in values from defaultConfig
//  2. Config file: optional YAML file (if present)
//  3. Environment variables: override any setting
//
// Precedence is ENV > file > defaults. The resulting Config is validated
// before being returned.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// SIGNALPIPE_PIPELINE_BATCH_SIZE -> pipeline.batch_size
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file, honoring CONFIG_PATH first.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps environment variable names to koanf config paths.
// Only variables with the SIGNALPIPE_ prefix plus a small set of legacy
// names are accepted; everything else is skipped so random environment
// variables cannot pollute the config.
//
// Examples:
//   - SIGNALPIPE_DATABASE_PATH    -> database.path
//   - SIGNALPIPE_PIPELINE_CRON    -> pipeline.cron
//   - SIGNALPIPE_LOGGING_LEVEL    -> logging.level
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	// Legacy, unprefixed names kept for operator convenience.
	legacy := map[string]string{
		"log_level":   "logging.level",
		"log_format":  "logging.format",
		"log_caller":  "logging.caller",
		"http_port":   "server.port",
		"http_host":   "server.host",
		"duckdb_path": "database.path",
	}
	if mapped, ok := legacy[key]; ok {
		return mapped
	}

	const prefix = "signalpipe_"
	if !strings.HasPrefix(key, prefix) {
		return ""
	}
	key = strings.TrimPrefix(key, prefix)

	// The first underscore-separated token is the section; the rest is the
	// field name (which may itself contain underscores).
	idx := strings.Index(key, "_")
	if idx < 0 {
		return ""
	}
	section, field := key[:idx], key[idx+1:]

	switch section {
	case "server", "database", "cache", "embedding", "dedup", "classify",
		"scoring", "identity", "clustering", "pipeline", "logging":
		return section + "." + field
	default:
		return ""
	}
}
