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

	"github.com/tomtom215/signalpipe/internal/identity"
	"github.com/tomtom215/signalpipe/internal/models"
)

// UpsertMember writes a member and its identities. Identities are replaced
// wholesale; they are small per-member sets managed upstream.
func (s *Store) UpsertMember(ctx context.Context, m *models.Member) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin member upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO members (id, tenant_id, display_name) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name`,
		m.ID, m.TenantID, m.DisplayName); err != nil {
		return fmt.Errorf("upsert member %s: %w", m.ID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM identities WHERE tenant_id = ? AND member_id = ?`,
		m.TenantID, m.ID); err != nil {
		return fmt.Errorf("clear identities for %s: %w", m.ID, err)
	}
	for _, ident := range m.Identities {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO identities (tenant_id, platform, external_id, member_id, username, email)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (tenant_id, platform, external_id) DO UPDATE SET
				member_id = EXCLUDED.member_id,
				username = EXCLUDED.username,
				email = EXCLUDED.email`,
			m.TenantID, string(ident.Platform), ident.ExternalID, m.ID, ident.Username, ident.Email); err != nil {
			return fmt.Errorf("upsert identity %s/%s: %w", ident.Platform, ident.ExternalID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit member upsert: %w", err)
	}
	return nil
}

// FindByIdentity returns the member owning the exact (platform, external
// id) identity. Implements identity.Directory.
func (s *Store) FindByIdentity(ctx context.Context, tenantID string, platform models.Platform, externalID string) (*models.Member, error) {
	var memberID string
	err := s.conn.QueryRowContext(ctx, `
		SELECT member_id FROM identities
		WHERE tenant_id = ? AND platform = ? AND external_id = ?`,
		tenantID, string(platform), externalID).Scan(&memberID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, identity.ErrNoMatch
		}
		return nil, fmt.Errorf("identity lookup: %w", err)
	}
	return s.getMember(ctx, tenantID, memberID)
}

// ListMembers returns all members of a tenant with their identities.
// Implements identity.Directory.
func (s *Store) ListMembers(ctx context.Context, tenantID string) ([]models.Member, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, tenant_id, display_name FROM members
		WHERE tenant_id = ? ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var members []models.Member
	index := make(map[string]int)
	for rows.Next() {
		var m models.Member
		if err := rows.Scan(&m.ID, &m.TenantID, &m.DisplayName); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		index[m.ID] = len(members)
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	identRows, err := s.conn.QueryContext(ctx, `
		SELECT member_id, platform, external_id, username, email
		FROM identities WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer func() { _ = identRows.Close() }()

	for identRows.Next() {
		var memberID, platform string
		var ident models.Identity
		if err := identRows.Scan(&memberID, &platform, &ident.ExternalID, &ident.Username, &ident.Email); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		ident.Platform = models.Platform(platform)
		if i, ok := index[memberID]; ok {
			members[i].Identities = append(members[i].Identities, ident)
		}
	}
	return members, identRows.Err()
}

func (s *Store) getMember(ctx context.Context, tenantID, memberID string) (*models.Member, error) {
	var m models.Member
	err := s.conn.QueryRowContext(ctx, `
		SELECT id, tenant_id, display_name FROM members
		WHERE tenant_id = ? AND id = ?`, tenantID, memberID).Scan(&m.ID, &m.TenantID, &m.DisplayName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, identity.ErrNoMatch
		}
		return nil, fmt.Errorf("get member %s: %w", memberID, err)
	}
	return &m, nil
}
