// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

// Package store is the DuckDB persistence layer: raw activities with their
// processed markers, enriched signals, cluster sets, the member/identity
// directory, and the pipeline watermark.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/rs/zerolog"

	"github.com/tomtom215/signalpipe/internal/config"
)

// Store wraps the DuckDB connection and provides data access methods.
type Store struct {
	conn   *sql.DB
	logger zerolog.Logger
}

// New opens (or creates) the database file and initializes the schema.
func New(cfg *config.DatabaseConfig, logger zerolog.Logger) (*Store, error) {
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	// Ensure the parent directory exists before DuckDB tries to create
	// the file. 0750 per gosec G301.
	dbDir := filepath.Dir(cfg.Path)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
	}

	// Disable extension auto-install/auto-load to prevent hangs in
	// restricted network environments.
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, threads, cfg.MaxMemory)

	return open(connStr, logger)
}

// NewInMemory opens an ephemeral in-memory database. Used by tests.
func NewInMemory(logger zerolog.Logger) (*Store, error) {
	return open(":memory:?autoinstall_known_extensions=false&autoload_known_extensions=false", logger)
}

func open(connStr string, logger zerolog.Logger) (*Store, error) {
	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// DuckDB is embedded; a small pool is enough and keeps memory bounded.
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)

	s := &Store{
		conn:   conn,
		logger: logger.With().Str("component", "store").Logger(),
	}
	if err := s.initSchema(); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates all tables if absent. Idempotent, safe to run on
// every startup.
func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS activities (
			id VARCHAR PRIMARY KEY,
			tenant_id VARCHAR NOT NULL,
			platform VARCHAR NOT NULL,
			type VARCHAR NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			title VARCHAR NOT NULL DEFAULT '',
			body VARCHAR NOT NULL DEFAULT '',
			thread_id VARCHAR NOT NULL DEFAULT '',
			author_external_id VARCHAR NOT NULL DEFAULT '',
			author_name VARCHAR NOT NULL DEFAULT '',
			author_email VARCHAR NOT NULL DEFAULT '',
			processed_at TIMESTAMP,
			process_error VARCHAR
		)`,
		`CREATE TABLE IF NOT EXISTS signals (
			activity_id VARCHAR PRIMARY KEY,
			tenant_id VARCHAR NOT NULL,
			platform VARCHAR NOT NULL,
			thread_id VARCHAR NOT NULL DEFAULT '',
			member_id VARCHAR,
			embedding FLOAT[],
			signature VARCHAR NOT NULL DEFAULT '',
			classification VARCHAR NOT NULL DEFAULT '',
			velocity DOUBLE NOT NULL DEFAULT 0,
			cross_platform DOUBLE NOT NULL DEFAULT 0,
			actionability DOUBLE NOT NULL DEFAULT 0,
			novelty DOUBLE NOT NULL DEFAULT 0,
			cluster_id INTEGER,
			is_duplicate_of VARCHAR,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS clusters (
			tenant_id VARCHAR NOT NULL,
			id INTEGER NOT NULL,
			centroid FLOAT[],
			member_signal_ids VARCHAR NOT NULL DEFAULT '[]',
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (tenant_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS members (
			id VARCHAR PRIMARY KEY,
			tenant_id VARCHAR NOT NULL,
			display_name VARCHAR NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS identities (
			tenant_id VARCHAR NOT NULL,
			platform VARCHAR NOT NULL,
			external_id VARCHAR NOT NULL,
			member_id VARCHAR NOT NULL,
			username VARCHAR NOT NULL DEFAULT '',
			email VARCHAR NOT NULL DEFAULT '',
			PRIMARY KEY (tenant_id, platform, external_id)
		)`,
		`CREATE TABLE IF NOT EXISTS watermarks (
			name VARCHAR PRIMARY KEY,
			value TIMESTAMP NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.conn.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

// Conn exposes the underlying connection for components sharing the same
// database file, like the indexing service.
func (s *Store) Conn() *sql.DB {
	return s.conn
}

// Ping verifies the database connection is alive. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// Checkpoint forces a WAL checkpoint so the database file is consistent
// on disk. Called during graceful shutdown.
func (s *Store) Checkpoint() error {
	if _, err := s.conn.Exec("CHECKPOINT"); err != nil {
		return fmt.Errorf("checkpoint failed: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func closeQuietly(conn *sql.DB) {
	_ = conn.Close()
}
