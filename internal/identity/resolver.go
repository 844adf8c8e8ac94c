// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

// Package identity maps platform-local activity authors to canonical
// member records: exact platform-identity lookup first, trigram fuzzy
// matching as a fallback. Unresolved authors are not an error; the signal
// proceeds without a member and is re-resolved on later passes.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tomtom215/signalpipe/internal/models"
)

// ErrNoMatch is returned by Directory lookups that find nothing.
var ErrNoMatch = errors.New("identity: no match")

// Directory is the member/identity lookup surface the resolver works
// against. The DuckDB store implements it.
type Directory interface {
	// FindByIdentity returns the member owning the exact
	// (platform, external id) identity, or ErrNoMatch.
	FindByIdentity(ctx context.Context, tenantID string, platform models.Platform, externalID string) (*models.Member, error)

	// ListMembers returns all members of a tenant with their identities,
	// the candidate set for fuzzy matching.
	ListMembers(ctx context.Context, tenantID string) ([]models.Member, error)
}

// Config tunes the resolver.
type Config struct {
	// FuzzyThreshold is the minimum trigram similarity for a fuzzy match.
	FuzzyThreshold float64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{FuzzyThreshold: 0.85}
}

// Resolver resolves activity authors to member ids.
type Resolver struct {
	cfg    Config
	dir    Directory
	logger zerolog.Logger
}

// NewResolver creates a resolver over a directory.
func NewResolver(cfg Config, dir Directory, logger zerolog.Logger) *Resolver {
	if cfg.FuzzyThreshold <= 0 || cfg.FuzzyThreshold > 1 {
		cfg.FuzzyThreshold = DefaultConfig().FuzzyThreshold
	}
	return &Resolver{
		cfg:    cfg,
		dir:    dir,
		logger: logger.With().Str("component", "identity").Logger(),
	}
}

// Resolve returns the member id for an activity's author, or nil when the
// author cannot be resolved. Directory failures are returned as errors;
// a genuinely unknown author is (nil, nil).
func (r *Resolver) Resolve(ctx context.Context, activity *models.Activity) (*string, error) {
	if activity.AuthorExternalID != "" {
		member, err := r.dir.FindByIdentity(ctx, activity.TenantID, activity.Platform, activity.AuthorExternalID)
		switch {
		case err == nil:
			return &member.ID, nil
		case !errors.Is(err, ErrNoMatch):
			return nil, fmt.Errorf("exact identity lookup: %w", err)
		}
	}

	memberID, err := r.fuzzyResolve(ctx, activity)
	if err != nil {
		return nil, err
	}
	if memberID == nil {
		r.logger.Debug().
			Str("activity_id", activity.ID).
			Str("platform", string(activity.Platform)).
			Str("author", activity.AuthorName).
			Msg("author unresolved, signal proceeds without member")
	}
	return memberID, nil
}

// fuzzyResolve compares the author's name and email against every known
// identity of the tenant and keeps the best match above the threshold.
func (r *Resolver) fuzzyResolve(ctx context.Context, activity *models.Activity) (*string, error) {
	if activity.AuthorName == "" && activity.AuthorEmail == "" {
		return nil, nil
	}

	members, err := r.dir.ListMembers(ctx, activity.TenantID)
	if err != nil {
		return nil, fmt.Errorf("list members for fuzzy match: %w", err)
	}

	bestScore := 0.0
	var bestID string
	for i := range members {
		member := &members[i]
		for _, ident := range member.Identities {
			score := identityScore(activity, &ident)
			if score > bestScore {
				bestScore = score
				bestID = member.ID
			}
		}
		// Display name is a candidate too: the same person often posts
		// under slightly different handles per platform.
		if score := trigramSimilarity(activity.AuthorName, member.DisplayName); score > bestScore {
			bestScore = score
			bestID = member.ID
		}
	}

	if bestScore < r.cfg.FuzzyThreshold {
		return nil, nil
	}
	return &bestID, nil
}

// identityScore is the best trigram similarity between the activity author
// and one identity. Matching emails are decisive.
func identityScore(activity *models.Activity, ident *models.Identity) float64 {
	if activity.AuthorEmail != "" && ident.Email != "" &&
		strings.EqualFold(activity.AuthorEmail, ident.Email) {
		return 1.0
	}

	score := trigramSimilarity(activity.AuthorName, ident.Username)
	if s := trigramSimilarity(emailLocalPart(activity.AuthorEmail), ident.Username); s > score {
		score = s
	}
	return score
}

func emailLocalPart(email string) string {
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return ""
}

// trigramSimilarity is the Jaccard similarity of the padded character
// trigram sets of two strings, case-insensitive. Empty inputs score zero.
func trigramSimilarity(a, b string) float64 {
	ta := trigrams(a)
	tb := trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	intersection := 0
	for g := range ta {
		if _, ok := tb[g]; ok {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	return float64(intersection) / float64(union)
}

// trigrams extracts the padded trigram set of a normalized string. Padding
// with spaces weights the start and end of the string, the usual trigram
// trick for short identifiers.
func trigrams(s string) map[string]struct{} {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return nil
	}
	padded := "  " + s + " "

	set := make(map[string]struct{}, len(padded))
	runes := []rune(padded)
	for i := 0; i+3 <= len(runes); i++ {
		set[string(runes[i:i+3])] = struct{}{}
	}
	return set
}
