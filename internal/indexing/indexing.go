// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

// Package indexing maintains the search index over enriched signals:
// idempotent upserts of lexical content, embedding, classification facets,
// and cluster id. Duplicates never enter the index.
package indexing

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/signalpipe/internal/metrics"
	"github.com/tomtom215/signalpipe/internal/models"
)

// Service writes signal documents into the DuckDB search index. Safe for
// concurrent use; schema creation happens once per process regardless of
// how many goroutines race into the first upsert.
type Service struct {
	conn   *sql.DB
	logger zerolog.Logger

	schemaOnce sync.Once
	schemaErr  error
}

// NewService creates an indexing service over an open DuckDB connection,
// shared with the store.
func NewService(conn *sql.DB, logger zerolog.Logger) *Service {
	return &Service{
		conn:   conn,
		logger: logger.With().Str("component", "indexing").Logger(),
	}
}

// ensureSchema creates the index table if absent. Guarded by a once so
// concurrent startup paths cannot race the DDL.
func (s *Service) ensureSchema(ctx context.Context) error {
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.conn.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS signal_index (
				activity_id VARCHAR PRIMARY KEY,
				tenant_id VARCHAR NOT NULL,
				platform VARCHAR NOT NULL,
				title VARCHAR NOT NULL DEFAULT '',
				body VARCHAR NOT NULL DEFAULT '',
				product_area VARCHAR NOT NULL DEFAULT '[]',
				intent VARCHAR NOT NULL DEFAULT '[]',
				urgency VARCHAR NOT NULL DEFAULT '',
				sentiment VARCHAR NOT NULL DEFAULT '',
				embedding FLOAT[],
				cluster_id INTEGER,
				indexed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`)
		if s.schemaErr != nil {
			s.schemaErr = fmt.Errorf("create signal_index: %w", s.schemaErr)
		}
	})
	return s.schemaErr
}

// Upsert writes one signal document, replacing any prior version. Signals
// flagged as duplicates are removed from the index instead: retrying an
// activity that became a duplicate must converge on exclusion.
func (s *Service) Upsert(ctx context.Context, sig *models.EnrichedSignal, title, body string) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}

	if sig.IsDuplicate() {
		return s.Remove(ctx, sig.ActivityID)
	}

	productArea, err := json.Marshal(sig.Classification.ProductArea)
	if err != nil {
		return fmt.Errorf("encode product areas for %s: %w", sig.ActivityID, err)
	}
	intent, err := json.Marshal(sig.Classification.Intent)
	if err != nil {
		return fmt.Errorf("encode intents for %s: %w", sig.ActivityID, err)
	}

	var embedding any
	if sig.Embedding != nil {
		b, err := json.Marshal(sig.Embedding)
		if err != nil {
			return fmt.Errorf("encode embedding for %s: %w", sig.ActivityID, err)
		}
		embedding = string(b)
	}

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO signal_index (activity_id, tenant_id, platform, title, body,
			product_area, intent, urgency, sentiment, embedding, cluster_id, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CAST(? AS FLOAT[]), ?, CURRENT_TIMESTAMP)
		ON CONFLICT (activity_id) DO UPDATE SET
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			product_area = EXCLUDED.product_area,
			intent = EXCLUDED.intent,
			urgency = EXCLUDED.urgency,
			sentiment = EXCLUDED.sentiment,
			embedding = EXCLUDED.embedding,
			cluster_id = EXCLUDED.cluster_id,
			indexed_at = now()`,
		sig.ActivityID, sig.TenantID, string(sig.Platform), title, body,
		string(productArea), string(intent), string(sig.Classification.Urgency),
		string(sig.Classification.Sentiment), embedding, sig.ClusterID,
	)
	if err != nil {
		return fmt.Errorf("index signal %s: %w", sig.ActivityID, err)
	}
	metrics.IndexUpserts.Inc()
	return nil
}

// Remove deletes a signal document. Missing documents are fine; removal
// must be idempotent for the duplicate-exclusion path.
func (s *Service) Remove(ctx context.Context, activityID string) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	if _, err := s.conn.ExecContext(ctx,
		`DELETE FROM signal_index WHERE activity_id = ?`, activityID); err != nil {
		return fmt.Errorf("remove indexed signal %s: %w", activityID, err)
	}
	return nil
}

// UpdateClusterID rewrites the cluster id of an indexed document after a
// clustering pass. Unindexed ids (duplicates) are skipped silently.
func (s *Service) UpdateClusterID(ctx context.Context, activityID string, clusterID int) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	if _, err := s.conn.ExecContext(ctx,
		`UPDATE signal_index SET cluster_id = ? WHERE activity_id = ?`,
		clusterID, activityID); err != nil {
		return fmt.Errorf("update cluster id for %s: %w", activityID, err)
	}
	return nil
}

// Search runs a simple lexical lookup over indexed documents, excluding
// nothing: duplicates were never indexed. Used by the control surface.
func (s *Service) Search(ctx context.Context, tenantID, query string, limit int) ([]string, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}

	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	rows, err := s.conn.QueryContext(ctx, `
		SELECT activity_id FROM signal_index
		WHERE tenant_id = ? AND (lower(title) LIKE ? OR lower(body) LIKE ?)
		ORDER BY indexed_at DESC
		LIMIT ?`, tenantID, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
