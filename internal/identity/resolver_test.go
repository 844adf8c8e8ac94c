// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

package identity

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/tomtom215/signalpipe/internal/logging"
	"github.com/tomtom215/signalpipe/internal/models"
)

// memoryDirectory is a Directory over a fixed member list.
type memoryDirectory struct {
	members []models.Member
	listErr error
}

func (d *memoryDirectory) FindByIdentity(_ context.Context, tenantID string, platform models.Platform, externalID string) (*models.Member, error) {
	for i := range d.members {
		m := &d.members[i]
		if m.TenantID != tenantID {
			continue
		}
		for _, ident := range m.Identities {
			if ident.Platform == platform && ident.ExternalID == externalID {
				return m, nil
			}
		}
	}
	return nil, ErrNoMatch
}

func (d *memoryDirectory) ListMembers(_ context.Context, tenantID string) ([]models.Member, error) {
	if d.listErr != nil {
		return nil, d.listErr
	}
	var out []models.Member
	for _, m := range d.members {
		if m.TenantID == tenantID {
			out = append(out, m)
		}
	}
	return out, nil
}

func testDirectory() *memoryDirectory {
	return &memoryDirectory{members: []models.Member{
		{
			ID: "m1", TenantID: "t1", DisplayName: "Alice Chen",
			Identities: []models.Identity{
				{Platform: models.PlatformGitHub, ExternalID: "gh-100", Username: "alicechen", Email: "alice@example.com"},
				{Platform: models.PlatformDiscourse, ExternalID: "dc-7", Username: "alice_chen"},
			},
		},
		{
			ID: "m2", TenantID: "t1", DisplayName: "Bob Martinez",
			Identities: []models.Identity{
				{Platform: models.PlatformGitHub, ExternalID: "gh-200", Username: "bmartinez"},
			},
		},
	}}
}

func newTestResolver(dir Directory) *Resolver {
	var buf bytes.Buffer
	return NewResolver(DefaultConfig(), dir, logging.NewTestLogger(&buf))
}

func TestResolve_ExactIdentityWins(t *testing.T) {
	r := newTestResolver(testDirectory())

	got, err := r.Resolve(context.Background(), &models.Activity{
		ID: "a1", TenantID: "t1", Platform: models.PlatformGitHub,
		AuthorExternalID: "gh-200", AuthorName: "totally different name",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got == nil || *got != "m2" {
		t.Errorf("expected m2 via exact lookup, got %v", got)
	}
}

func TestResolve_FuzzyFallbackOnUsername(t *testing.T) {
	r := newTestResolver(testDirectory())

	// Unknown external id on a new platform, but the handle matches an
	// existing identity closely.
	got, err := r.Resolve(context.Background(), &models.Activity{
		ID: "a2", TenantID: "t1", Platform: models.PlatformJira,
		AuthorExternalID: "jira-999", AuthorName: "alicechen",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got == nil || *got != "m1" {
		t.Errorf("expected fuzzy match to m1, got %v", got)
	}
}

func TestResolve_EmailMatchIsDecisive(t *testing.T) {
	r := newTestResolver(testDirectory())

	got, err := r.Resolve(context.Background(), &models.Activity{
		ID: "a3", TenantID: "t1", Platform: models.PlatformGroupsIO,
		AuthorExternalID: "gr-5", AuthorName: "A. C.", AuthorEmail: "ALICE@example.com",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got == nil || *got != "m1" {
		t.Errorf("expected email match to m1, got %v", got)
	}
}

func TestResolve_UnknownAuthorIsNilNotError(t *testing.T) {
	r := newTestResolver(testDirectory())

	got, err := r.Resolve(context.Background(), &models.Activity{
		ID: "a4", TenantID: "t1", Platform: models.PlatformJira,
		AuthorExternalID: "jira-1", AuthorName: "completely unknown person",
	})
	if err != nil {
		t.Fatalf("unresolved author must not error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil member id, got %q", *got)
	}
}

func TestResolve_TenantIsolation(t *testing.T) {
	dir := testDirectory()
	r := newTestResolver(dir)

	got, err := r.Resolve(context.Background(), &models.Activity{
		ID: "a5", TenantID: "t2", Platform: models.PlatformGitHub,
		AuthorExternalID: "gh-100", AuthorName: "alicechen",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("identities must not leak across tenants, got %q", *got)
	}
}

func TestResolve_DirectoryFailurePropagates(t *testing.T) {
	dir := testDirectory()
	dir.listErr = errors.New("store unavailable")
	r := newTestResolver(dir)

	_, err := r.Resolve(context.Background(), &models.Activity{
		ID: "a6", TenantID: "t1", Platform: models.PlatformJira,
		AuthorName: "alicechen",
	})
	if err == nil {
		t.Error("directory failure should propagate as an error")
	}
}

func TestTrigramSimilarity(t *testing.T) {
	if s := trigramSimilarity("alicechen", "alicechen"); s != 1.0 {
		t.Errorf("identical strings should score 1.0, got %f", s)
	}
	if s := trigramSimilarity("alicechen", "zzqqxx"); s > 0.1 {
		t.Errorf("unrelated strings should score near zero, got %f", s)
	}
	if s := trigramSimilarity("", "alicechen"); s != 0 {
		t.Errorf("empty input should score zero, got %f", s)
	}
	if s := trigramSimilarity("AliceChen", "alicechen"); s != 1.0 {
		t.Errorf("similarity should be case-insensitive, got %f", s)
	}
}
