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

	"github.com/tomtom215/signalpipe/internal/models"
)

// InsertActivity stores a raw platform activity. Re-inserting an existing
// id is a no-op; activities are immutable once recorded.
func (s *Store) InsertActivity(ctx context.Context, a *models.Activity) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO activities (id, tenant_id, platform, type, timestamp, title, body,
			thread_id, author_external_id, author_name, author_email)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		a.ID, a.TenantID, string(a.Platform), a.Type, a.Timestamp.UTC(),
		a.Title, a.Body, a.ThreadID, a.AuthorExternalID, a.AuthorName, a.AuthorEmail,
	)
	if err != nil {
		return fmt.Errorf("insert activity %s: %w", a.ID, err)
	}
	return nil
}

// FetchUnprocessed returns up to limit activities that have not been
// enriched yet and have no recorded terminal error, oldest first. This is
// the resumable fetch: rows already marked processed are never returned
// again.
func (s *Store) FetchUnprocessed(ctx context.Context, limit int) ([]models.Activity, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, tenant_id, platform, type, timestamp, title, body,
			thread_id, author_external_id, author_name, author_email
		FROM activities
		WHERE processed_at IS NULL AND process_error IS NULL
		ORDER BY timestamp, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch unprocessed activities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.Activity
	for rows.Next() {
		var a models.Activity
		var platform string
		if err := rows.Scan(&a.ID, &a.TenantID, &platform, &a.Type, &a.Timestamp,
			&a.Title, &a.Body, &a.ThreadID, &a.AuthorExternalID, &a.AuthorName, &a.AuthorEmail); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.Platform = models.Platform(platform)
		out = append(out, a)
	}
	return out, rows.Err()
}

// MarkProcessed stamps an activity as enriched. Idempotent.
func (s *Store) MarkProcessed(ctx context.Context, activityID string, at time.Time) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE activities SET processed_at = ?, process_error = NULL WHERE id = ?`,
		at.UTC(), activityID)
	if err != nil {
		return fmt.Errorf("mark activity %s processed: %w", activityID, err)
	}
	return nil
}

// MarkError records a terminal processing failure. The activity stops
// being fetched; operators see the reason via the status surface.
func (s *Store) MarkError(ctx context.Context, activityID, reason string) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE activities SET process_error = ? WHERE id = ?`,
		reason, activityID)
	if err != nil {
		return fmt.Errorf("mark activity %s errored: %w", activityID, err)
	}
	return nil
}

// FailedActivities returns activities in the terminal error state, newest
// first, capped at limit.
func (s *Store) FailedActivities(ctx context.Context, limit int) (map[string]string, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, process_error FROM activities
		WHERE process_error IS NOT NULL
		ORDER BY timestamp DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch failed activities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var id, reason string
		if err := rows.Scan(&id, &reason); err != nil {
			return nil, fmt.Errorf("scan failed activity: %w", err)
		}
		out[id] = reason
	}
	return out, rows.Err()
}

// Watermark returns the named watermark, or the zero time when unset.
func (s *Store) Watermark(ctx context.Context, name string) (time.Time, error) {
	var value time.Time
	err := s.conn.QueryRowContext(ctx,
		`SELECT value FROM watermarks WHERE name = ?`, name).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("read watermark %s: %w", name, err)
	}
	return value, nil
}

// SetWatermark advances the named watermark.
func (s *Store) SetWatermark(ctx context.Context, name string, value time.Time) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO watermarks (name, value) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value`,
		name, value.UTC())
	if err != nil {
		return fmt.Errorf("set watermark %s: %w", name, err)
	}
	return nil
}
