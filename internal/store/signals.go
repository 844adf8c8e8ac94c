// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/signalpipe/internal/models"
)

// ErrSignalNotFound is returned when no enriched signal exists for an
// activity id.
var ErrSignalNotFound = errors.New("store: signal not found")

// UpsertSignal writes an enriched signal, keyed by activity id. Repeating
// the upsert replaces the enrichment wholesale, keeping reprocessing
// idempotent.
func (s *Store) UpsertSignal(ctx context.Context, sig *models.EnrichedSignal) error {
	signature, err := json.Marshal(sig.Signature)
	if err != nil {
		return fmt.Errorf("encode signature for %s: %w", sig.ActivityID, err)
	}
	classification, err := json.Marshal(sig.Classification)
	if err != nil {
		return fmt.Errorf("encode classification for %s: %w", sig.ActivityID, err)
	}
	embedding, err := encodeFloats(sig.Embedding)
	if err != nil {
		return fmt.Errorf("encode embedding for %s: %w", sig.ActivityID, err)
	}

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO signals (activity_id, tenant_id, platform, thread_id, member_id,
			embedding, signature, classification,
			velocity, cross_platform, actionability, novelty,
			cluster_id, is_duplicate_of, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, CAST(? AS FLOAT[]), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (activity_id) DO UPDATE SET
			member_id = EXCLUDED.member_id,
			embedding = EXCLUDED.embedding,
			signature = EXCLUDED.signature,
			classification = EXCLUDED.classification,
			velocity = EXCLUDED.velocity,
			cross_platform = EXCLUDED.cross_platform,
			actionability = EXCLUDED.actionability,
			novelty = EXCLUDED.novelty,
			is_duplicate_of = EXCLUDED.is_duplicate_of,
			updated_at = EXCLUDED.updated_at`,
		sig.ActivityID, sig.TenantID, string(sig.Platform), sig.ThreadID, sig.MemberID,
		embedding, string(signature), string(classification),
		sig.Scores.Velocity, sig.Scores.CrossPlatform, sig.Scores.Actionability, sig.Scores.Novelty,
		sig.ClusterID, sig.IsDuplicateOf, sig.CreatedAt.UTC(), sig.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert signal %s: %w", sig.ActivityID, err)
	}
	return nil
}

// GetSignal loads one enriched signal by activity id.
func (s *Store) GetSignal(ctx context.Context, activityID string) (*models.EnrichedSignal, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT activity_id, tenant_id, platform, thread_id, member_id,
			CAST(embedding AS VARCHAR), signature, classification,
			velocity, cross_platform, actionability, novelty,
			cluster_id, is_duplicate_of, created_at, updated_at
		FROM signals WHERE activity_id = ?`, activityID)

	sig, err := scanSignal(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSignalNotFound
		}
		return nil, fmt.Errorf("get signal %s: %w", activityID, err)
	}
	return sig, nil
}

// RecentSignals returns the tenant's signals created after the cutoff,
// the lookback window input for scoring.
func (s *Store) RecentSignals(ctx context.Context, tenantID string, since time.Time) ([]models.EnrichedSignal, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT activity_id, tenant_id, platform, thread_id, member_id,
			CAST(embedding AS VARCHAR), signature, classification,
			velocity, cross_platform, actionability, novelty,
			cluster_id, is_duplicate_of, created_at, updated_at
		FROM signals
		WHERE tenant_id = ? AND created_at >= ?
		ORDER BY created_at`, tenantID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("fetch recent signals: %w", err)
	}
	return collectSignals(rows)
}

// ClusterableSignals returns the tenant's non-duplicate signals carrying an
// embedding, created after the cutoff: the clustering input set.
func (s *Store) ClusterableSignals(ctx context.Context, tenantID string, since time.Time) ([]models.EnrichedSignal, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT activity_id, tenant_id, platform, thread_id, member_id,
			CAST(embedding AS VARCHAR), signature, classification,
			velocity, cross_platform, actionability, novelty,
			cluster_id, is_duplicate_of, created_at, updated_at
		FROM signals
		WHERE tenant_id = ? AND is_duplicate_of IS NULL AND embedding IS NOT NULL
			AND created_at >= ?
		ORDER BY created_at`, tenantID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("fetch clusterable signals: %w", err)
	}
	return collectSignals(rows)
}

// Tenants lists tenant ids that have enriched signals.
func (s *Store) Tenants(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT DISTINCT tenant_id FROM signals ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSignal(row rowScanner) (*models.EnrichedSignal, error) {
	var sig models.EnrichedSignal
	var platform string
	var embedding, signature, classification sql.NullString

	err := row.Scan(&sig.ActivityID, &sig.TenantID, &platform, &sig.ThreadID, &sig.MemberID,
		&embedding, &signature, &classification,
		&sig.Scores.Velocity, &sig.Scores.CrossPlatform, &sig.Scores.Actionability, &sig.Scores.Novelty,
		&sig.ClusterID, &sig.IsDuplicateOf, &sig.CreatedAt, &sig.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sig.Platform = models.Platform(platform)

	if embedding.Valid && embedding.String != "" {
		if err := json.Unmarshal([]byte(embedding.String), &sig.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding: %w", err)
		}
	}
	if signature.Valid && signature.String != "" {
		if err := json.Unmarshal([]byte(signature.String), &sig.Signature); err != nil {
			return nil, fmt.Errorf("decode signature: %w", err)
		}
	}
	if classification.Valid && classification.String != "" {
		if err := json.Unmarshal([]byte(classification.String), &sig.Classification); err != nil {
			return nil, fmt.Errorf("decode classification: %w", err)
		}
	}
	return &sig, nil
}

func collectSignals(rows *sql.Rows) ([]models.EnrichedSignal, error) {
	defer func() { _ = rows.Close() }()

	var out []models.EnrichedSignal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		out = append(out, *sig)
	}
	return out, rows.Err()
}

// encodeFloats renders a vector as a DuckDB list literal. Nil input maps
// to SQL NULL so absent embeddings stay distinguishable.
func encodeFloats(v []float32) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
