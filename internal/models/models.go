// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

// Package models defines the core data types flowing through the enrichment
// pipeline: raw activities, cache entries, signatures, classification
// results, enriched signals, and clusters.
package models

import (
	"time"
)

// Platform identifies the source platform of an activity.
type Platform string

// Known platforms. The pipeline treats unknown platforms as opaque strings;
// these constants exist for the connectors we ship queries for.
const (
	PlatformGitHub    Platform = "github"
	PlatformDiscourse Platform = "discourse"
	PlatformGroupsIO  Platform = "groupsio"
	PlatformJira      Platform = "jira"
)

// Activity is an immutable raw platform activity record (issue, post,
// comment, discussion). Lifecycle is owned by the connectors; the pipeline
// only ever reads activities.
type Activity struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Platform  Platform  `json:"platform"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`

	// ThreadID groups activities belonging to the same conversation
	// (issue number, topic id). Used by velocity scoring.
	ThreadID string `json:"thread_id,omitempty"`

	// AuthorExternalID is the platform-local user identifier, input to
	// identity resolution.
	AuthorExternalID string `json:"author_external_id,omitempty"`
	AuthorName       string `json:"author_name,omitempty"`
	AuthorEmail      string `json:"author_email,omitempty"`
}

// Text returns the combined title and body used for embedding and
// deduplication.
func (a *Activity) Text() string {
	if a.Title == "" {
		return a.Body
	}
	if a.Body == "" {
		return a.Title
	}
	return a.Title + "\n" + a.Body
}

// EmbeddingCacheEntry is the serialized payload stored under
// signal:embedding:{activityId} in the cache store.
type EmbeddingCacheEntry struct {
	Embedding []float32 `json:"embedding"`
	CachedAt  time.Time `json:"cached_at"`
	TextHash  string    `json:"text_hash"`
}

// MinHashSignature is a deterministic similarity sketch of normalized
// activity text. Two signatures are compared slot-wise; the fraction of
// matching slots estimates Jaccard similarity of the underlying shingle
// sets.
type MinHashSignature struct {
	Signature   []uint64 `json:"signature"`
	ShingleSize int      `json:"shingle_size"`
	NumHashes   int      `json:"num_hashes"`
}

// IsZero reports whether this is the sentinel signature produced for text
// too short to shingle. Sentinel signatures are never duplicates of
// anything, including each other.
func (s MinHashSignature) IsZero() bool {
	for _, v := range s.Signature {
		if v != 0 {
			return false
		}
	}
	return len(s.Signature) > 0
}

// Sentiment is the sentiment label family output.
type Sentiment string

// Sentiment values.
const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
	SentimentMixed    Sentiment = "mixed"
)

// Urgency is the urgency label family output.
type Urgency string

// Urgency values, ordered from most to least urgent.
const (
	UrgencyCritical Urgency = "critical"
	UrgencyHigh     Urgency = "high"
	UrgencyMedium   Urgency = "medium"
	UrgencyLow      Urgency = "low"
)

// Weight returns the actionability contribution of an urgency level,
// normalized to [0,1].
func (u Urgency) Weight() float64 {
	switch u {
	case UrgencyCritical:
		return 1.0
	case UrgencyHigh:
		return 0.75
	case UrgencyMedium:
		return 0.5
	case UrgencyLow:
		return 0.25
	default:
		return 0.0
	}
}

// ClassificationResult holds the multi-label classifier output for one
// activity under one model version. Results are superseded wholesale when
// models are retrained, never merged.
type ClassificationResult struct {
	ProductArea  []string  `json:"product_area"`
	Sentiment    Sentiment `json:"sentiment"`
	Urgency      Urgency   `json:"urgency"`
	Intent       []string  `json:"intent"`
	Confidence   float64   `json:"confidence"`
	ModelVersion string    `json:"model_version"`
}

// Scores holds the multi-factor scores computed for an enriched signal,
// each normalized to [0,1].
type Scores struct {
	Velocity      float64 `json:"velocity"`
	CrossPlatform float64 `json:"cross_platform"`
	Actionability float64 `json:"actionability"`
	Novelty       float64 `json:"novelty"`
}

// OutlierClusterID is the sentinel cluster assignment for signals that do
// not belong to any density cluster.
const OutlierClusterID = -1

// EnrichedSignal is the aggregate produced by the pipeline, exactly once
// per activity id (idempotent upsert). ClusterID is the only field mutated
// after initial creation; it is populated asynchronously by the clustering
// orchestrator.
type EnrichedSignal struct {
	ActivityID     string               `json:"activity_id"`
	TenantID       string               `json:"tenant_id"`
	Platform       Platform             `json:"platform"`
	ThreadID       string               `json:"thread_id,omitempty"`
	MemberID       *string              `json:"member_id,omitempty"`
	Embedding      []float32            `json:"embedding"`
	Signature      MinHashSignature     `json:"signature"`
	Classification ClassificationResult `json:"classification"`
	Scores         Scores               `json:"scores"`
	ClusterID      *int                 `json:"cluster_id,omitempty"`
	IsDuplicateOf  *string              `json:"is_duplicate_of,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// IsDuplicate reports whether this signal was flagged as a near-duplicate
// of an earlier one. Duplicates stay in storage but are excluded from
// indexing and clustering.
func (s *EnrichedSignal) IsDuplicate() bool {
	return s.IsDuplicateOf != nil && *s.IsDuplicateOf != ""
}

// Cluster groups enriched signals by embedding similarity. Clusters are
// rebuilt periodically; a successful run replaces the prior cluster set
// wholesale.
type Cluster struct {
	ID              int       `json:"id"`
	TenantID        string    `json:"tenant_id"`
	Centroid        []float32 `json:"centroid"`
	MemberSignalIDs []string  `json:"member_signal_ids"`
	CreatedAt       time.Time `json:"created_at"`
}

// Member is the canonical person entity an activity author resolves to.
type Member struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	DisplayName string     `json:"display_name"`
	Identities  []Identity `json:"identities"`
}

// Identity is one platform-local identity belonging to a member.
type Identity struct {
	Platform   Platform `json:"platform"`
	ExternalID string   `json:"external_id"`
	Username   string   `json:"username"`
	Email      string   `json:"email,omitempty"`
}
