// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/tomtom215/signalpipe/internal/models"
)

// ReplaceClusters atomically swaps the tenant's cluster set and rewrites
// the cluster assignment of every affected signal. Runs in a single
// transaction: either the full new set is live or the prior one stays.
func (s *Store) ReplaceClusters(ctx context.Context, tenantID string, clusters []models.Cluster, assignments map[string]int) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cluster replacement: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM clusters WHERE tenant_id = ?`, tenantID); err != nil {
		return fmt.Errorf("clear prior cluster set: %w", err)
	}

	for i := range clusters {
		c := &clusters[i]
		memberIDs, err := json.Marshal(c.MemberSignalIDs)
		if err != nil {
			return fmt.Errorf("encode cluster %d members: %w", c.ID, err)
		}
		centroid, err := encodeFloats(c.Centroid)
		if err != nil {
			return fmt.Errorf("encode cluster %d centroid: %w", c.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO clusters (tenant_id, id, centroid, member_signal_ids, created_at)
			VALUES (?, ?, CAST(? AS FLOAT[]), ?, ?)`,
			tenantID, c.ID, centroid, string(memberIDs), c.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("insert cluster %d: %w", c.ID, err)
		}
	}

	for activityID, clusterID := range assignments {
		if _, err := tx.ExecContext(ctx,
			`UPDATE signals SET cluster_id = ? WHERE activity_id = ? AND tenant_id = ?`,
			clusterID, activityID, tenantID); err != nil {
			return fmt.Errorf("assign signal %s to cluster %d: %w", activityID, clusterID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cluster replacement: %w", err)
	}
	return nil
}

// Clusters returns the tenant's current cluster set.
func (s *Store) Clusters(ctx context.Context, tenantID string) ([]models.Cluster, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT tenant_id, id, CAST(centroid AS VARCHAR), member_signal_ids, created_at
		FROM clusters WHERE tenant_id = ? ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("fetch clusters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.Cluster
	for rows.Next() {
		var c models.Cluster
		var centroid sql.NullString
		var memberIDs string
		if err := rows.Scan(&c.TenantID, &c.ID, &centroid, &memberIDs, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cluster: %w", err)
		}
		if centroid.Valid && centroid.String != "" {
			if err := json.Unmarshal([]byte(centroid.String), &c.Centroid); err != nil {
				return nil, fmt.Errorf("decode centroid: %w", err)
			}
		}
		if err := json.Unmarshal([]byte(memberIDs), &c.MemberSignalIDs); err != nil {
			return nil, fmt.Errorf("decode cluster members: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Centroids returns just the centroid vectors of the tenant's clusters,
// the novelty-scoring input.
func (s *Store) Centroids(ctx context.Context, tenantID string) ([][]float32, error) {
	clusters, err := s.Clusters(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([][]float32, 0, len(clusters))
	for i := range clusters {
		if len(clusters[i].Centroid) > 0 {
			out = append(out, clusters[i].Centroid)
		}
	}
	return out, nil
}
