// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

package classify

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/signalpipe/internal/dedup"
	"github.com/tomtom215/signalpipe/internal/metrics"
	"github.com/tomtom215/signalpipe/internal/models"
)

// Config holds classification service parameters.
type Config struct {
	// RefreshInterval is how often artifacts are reloaded from the store.
	RefreshInterval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{RefreshInterval: 7 * 24 * time.Hour}
}

// Service classifies activities across independent label families. A
// missing or unloadable artifact degrades its family to empty output with
// a warning; classification only fails when every artifact-backed family
// is unavailable.
type Service struct {
	cfg       Config
	store     ArtifactStore
	sentiment *SentimentAnalyzer
	logger    zerolog.Logger

	mu        sync.RWMutex
	artifacts map[string]*Artifact // family -> loaded artifact, nil when degraded
	loadedAt  time.Time
}

// NewService creates a classification service and performs the initial
// artifact load. Load failures degrade families rather than failing
// construction; a service with zero loaded families still constructs and
// reports the failure per call, so a later refresh can recover.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewService(cfg Config, store ArtifactStore, logger zerolog.Logger) *Service {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 7 * 24 * time.Hour
	}
	s := &Service{
		cfg:       cfg,
		store:     store,
		sentiment: NewSentimentAnalyzer(),
		logger:    logger.With().Str("component", "classify").Logger(),
	}
	s.reload()
	return s
}

// reload loads every artifact-backed family, degrading the ones that fail.
func (s *Service) reload() {
	artifacts := make(map[string]*Artifact, len(Families))
	for _, family := range Families {
		artifact, err := s.store.Load(family)
		if err != nil {
			s.logger.Warn().Err(err).Str("family", family).
				Msg("model artifact unavailable, family degraded")
			artifacts[family] = nil
			continue
		}
		s.logger.Info().
			Str("family", family).
			Str("version", artifact.Version).
			Time("last_trained", artifact.LastTrained).
			Msg("model artifact loaded")
		artifacts[family] = artifact
	}

	s.mu.Lock()
	s.artifacts = artifacts
	s.loadedAt = time.Now()
	s.mu.Unlock()
}

// maybeRefresh reloads artifacts when the refresh interval has elapsed.
func (s *Service) maybeRefresh() {
	s.mu.RLock()
	stale := time.Since(s.loadedAt) >= s.cfg.RefreshInterval
	s.mu.RUnlock()
	if stale {
		s.reload()
	}
}

// ModelVersion returns a composite version string of the loaded artifacts,
// used to stamp classification results.
func (s *Service) ModelVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	parts := make([]string, 0, len(Families))
	for _, family := range Families {
		if a := s.artifacts[family]; a != nil {
			parts = append(parts, family+"="+a.Version)
		}
	}
	if len(parts) == 0 {
		return "degraded"
	}
	return strings.Join(parts, ",")
}

// Classify predicts all label families for an activity. Families predict
// independently; per-family scores below the family threshold are excluded
// from multi-label outputs (an empty list is valid output). The overall
// confidence is the mean of contributing family confidences, bounded to
// [0,1]. When every artifact-backed family is degraded the call fails so
// the orchestrator can retry after a refresh.
func (s *Service) Classify(activity *models.Activity) (models.ClassificationResult, error) {
	s.maybeRefresh()

	s.mu.RLock()
	artifacts := s.artifacts
	s.mu.RUnlock()

	degraded := 0
	for _, family := range Families {
		if artifacts[family] == nil {
			degraded++
		}
	}
	if degraded == len(Families) {
		return models.ClassificationResult{}, fmt.Errorf("all classification families degraded")
	}

	tf := termFrequencies(activity.Text())

	result := models.ClassificationResult{
		ProductArea:  []string{},
		Intent:       []string{},
		ModelVersion: s.ModelVersion(),
	}
	var confidences []float64

	if conf, labels := s.multiLabel(artifacts[FamilyProductArea], FamilyProductArea, tf); labels != nil {
		result.ProductArea = labels
		if len(labels) > 0 {
			confidences = append(confidences, conf)
		}
	}
	if conf, labels := s.multiLabel(artifacts[FamilyIntent], FamilyIntent, tf); labels != nil {
		result.Intent = labels
		if len(labels) > 0 {
			confidences = append(confidences, conf)
		}
	}
	if urgency, conf, ok := s.urgency(artifacts[FamilyUrgency], tf); ok {
		result.Urgency = urgency
		confidences = append(confidences, conf)
	}

	sentiment, conf := s.sentiment.Analyze(activity.Text())
	result.Sentiment = sentiment
	confidences = append(confidences, conf)

	var sum float64
	for _, c := range confidences {
		sum += c
	}
	if len(confidences) > 0 {
		result.Confidence = clamp01(sum / float64(len(confidences)))
	}

	return result, nil
}

// multiLabel scores every label in a family and keeps those above the
// family threshold, highest first. Returns nil labels when the family is
// degraded; an empty non-nil slice is a valid "nothing above threshold"
// result. The returned confidence is the best kept score.
func (s *Service) multiLabel(artifact *Artifact, family string, tf map[string]int) (float64, []string) {
	if artifact == nil {
		metrics.ClassifyFamilyDegraded.WithLabelValues(family).Inc()
		return 0, nil
	}

	type scored struct {
		label string
		score float64
	}
	var kept []scored
	for i := range artifact.Labels {
		score := labelScore(&artifact.Labels[i], tf)
		if score >= artifact.Threshold {
			kept = append(kept, scored{artifact.Labels[i].Label, score})
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].score > kept[j].score })

	labels := make([]string, len(kept))
	best := 0.0
	for i, k := range kept {
		labels[i] = k.label
		if k.score > best {
			best = k.score
		}
	}
	return best, labels
}

// urgency picks the single highest-scoring urgency label. When no label
// clears the threshold the activity defaults to low urgency with the best
// score as (weak) confidence.
func (s *Service) urgency(artifact *Artifact, tf map[string]int) (models.Urgency, float64, bool) {
	if artifact == nil {
		metrics.ClassifyFamilyDegraded.WithLabelValues(FamilyUrgency).Inc()
		return "", 0, false
	}

	best := ""
	bestScore := 0.0
	for i := range artifact.Labels {
		score := labelScore(&artifact.Labels[i], tf)
		if score > bestScore {
			bestScore = score
			best = artifact.Labels[i].Label
		}
	}
	if best == "" || bestScore < artifact.Threshold {
		return models.UrgencyLow, clamp01(bestScore), true
	}
	return models.Urgency(best), clamp01(bestScore), true
}

// labelScore applies a label's linear model over term frequencies and
// squashes to [0,1] with a logistic. A label with no matching terms scores
// zero regardless of bias, so empty or unrelated text never fires labels.
func labelScore(label *LabelModel, tf map[string]int) float64 {
	raw := label.Bias
	matched := false
	for _, term := range label.Terms {
		count := tf[term.Term]
		if count == 0 {
			continue
		}
		matched = true
		if count > 3 {
			count = 3 // saturate repeated terms
		}
		raw += term.Weight * float64(count)
	}
	if !matched {
		return 0
	}
	return 1 / (1 + math.Exp(-raw))
}

// termFrequencies tokenizes normalized text into a frequency map.
func termFrequencies(text string) map[string]int {
	tf := make(map[string]int)
	for _, tok := range strings.Fields(dedup.Normalize(text)) {
		tf[tok]++
	}
	return tf
}
