// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

package classify

import (
	"math"
	"strings"

	"github.com/tomtom215/signalpipe/internal/models"
)

// SentimentAnalyzer scores sentiment from a weighted lexicon. Sentiment is
// a separate analyzer rather than an artifact-backed family, matching how
// the models are produced upstream.
type SentimentAnalyzer struct {
	positive map[string]float64
	negative map[string]float64
	negators map[string]struct{}
}

// NewSentimentAnalyzer creates the analyzer with its built-in lexicon.
func NewSentimentAnalyzer() *SentimentAnalyzer {
	return &SentimentAnalyzer{
		positive: map[string]float64{
			"great": 1.0, "love": 1.0, "excellent": 1.0, "awesome": 1.0,
			"good": 0.7, "works": 0.5, "fast": 0.6, "helpful": 0.8,
			"thanks": 0.6, "fixed": 0.7, "improved": 0.7, "perfect": 1.0,
			"easy": 0.6, "reliable": 0.8,
		},
		negative: map[string]float64{
			"broken": 1.0, "terrible": 1.0, "awful": 1.0, "hate": 1.0,
			"bad": 0.7, "error": 0.6, "fails": 0.8, "slow": 0.6,
			"frustrating": 0.9, "crash": 0.8, "unusable": 1.0, "worst": 1.0,
			"bug": 0.6, "confusing": 0.7, "disappointed": 0.9,
		},
		negators: map[string]struct{}{
			"not": {}, "no": {}, "never": {}, "without": {},
		},
	}
}

// Analyze returns the sentiment label and a confidence in [0,1].
// Both polarities present in meaningful amounts yields "mixed"; neither
// yields "neutral". A simple one-token negation window flips polarity.
func (s *SentimentAnalyzer) Analyze(text string) (models.Sentiment, float64) {
	tokens := strings.Fields(strings.ToLower(text))

	var pos, neg float64
	negated := false
	for _, tok := range tokens {
		tok = strings.Trim(tok, ".,!?;:()[]\"'")
		if _, ok := s.negators[tok]; ok {
			negated = true
			continue
		}
		if w, ok := s.positive[tok]; ok {
			if negated {
				neg += w
			} else {
				pos += w
			}
		} else if w, ok := s.negative[tok]; ok {
			if negated {
				pos += w * 0.5 // "not broken" is weak praise at best
			} else {
				neg += w
			}
		}
		negated = false
	}

	total := pos + neg
	if total == 0 {
		return models.SentimentNeutral, 0.5
	}

	// Strength saturates with evidence volume.
	strength := clamp01(1 - math.Exp(-total/2))

	balance := (pos - neg) / total
	switch {
	case balance > 0.33:
		return models.SentimentPositive, strength
	case balance < -0.33:
		return models.SentimentNegative, strength
	default:
		return models.SentimentMixed, strength
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
