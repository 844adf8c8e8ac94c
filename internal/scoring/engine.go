// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

// Package scoring computes the multi-factor scores of an enriched signal:
// velocity, cross-platform spread, actionability, and novelty. Scoring is a
// pure function of the signal and a bounded lookback window snapshot; it
// performs no I/O.
package scoring

import (
	"math"
	"time"

	"github.com/tomtom215/signalpipe/internal/models"
)

// WindowSignal is the slice of an already-enriched signal that scoring
// needs from the lookback window.
type WindowSignal struct {
	ActivityID  string
	ThreadID    string
	Platform    models.Platform
	Timestamp   time.Time
	Embedding   []float32
	IsDuplicate bool
}

// Window is a snapshot of recent pipeline state assembled by the caller.
// Scoring never reaches past it.
type Window struct {
	// Now anchors the decay computations so scoring stays deterministic
	// for a given snapshot.
	Now time.Time

	// Recent holds the non-expired signals in the lookback window,
	// including duplicates (they are excluded where the factor demands).
	Recent []WindowSignal

	// Centroids are the current cluster centroids for the tenant.
	Centroids [][]float32

	// TotalPlatforms is the number of platforms connected for the tenant,
	// the denominator of the cross-platform factor.
	TotalPlatforms int
}

// Config tunes the scoring factors.
type Config struct {
	// VelocityHalfLife controls how fast same-thread activity stops
	// counting toward velocity.
	VelocityHalfLife time.Duration

	// VelocitySaturation is the decayed-count at which velocity
	// approaches 1.
	VelocitySaturation float64

	// CorrelationCosine is the minimum embedding similarity for an
	// unrelated-thread signal to count as a correlated mention.
	CorrelationCosine float64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		VelocityHalfLife:   24 * time.Hour,
		VelocitySaturation: 5.0,
		CorrelationCosine:  0.80,
	}
}

// intentBoosts weight actionability by what the author is asking for.
var intentBoosts = map[string]float64{
	"bug_report":      1.0,
	"churn_risk":      1.0,
	"feature_request": 0.8,
	"question":        0.6,
}

// Engine scores enriched signals. Stateless and safe for concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine creates a scoring engine, filling zero config fields with
// defaults.
func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.VelocityHalfLife <= 0 {
		cfg.VelocityHalfLife = def.VelocityHalfLife
	}
	if cfg.VelocitySaturation <= 0 {
		cfg.VelocitySaturation = def.VelocitySaturation
	}
	if cfg.CorrelationCosine <= 0 {
		cfg.CorrelationCosine = def.CorrelationCosine
	}
	return &Engine{cfg: cfg}
}

// Score computes all four factors for a signal against the window. Every
// factor is normalized to [0,1].
func (e *Engine) Score(signal *models.EnrichedSignal, window *Window) models.Scores {
	return models.Scores{
		Velocity:      e.velocity(signal, window),
		CrossPlatform: e.crossPlatform(signal, window),
		Actionability: e.actionability(signal),
		Novelty:       e.novelty(signal, window),
	}
}

// velocity is a half-life-decayed count of same-thread activity in the
// window, squashed so VelocitySaturation decayed events approach 1.
func (e *Engine) velocity(signal *models.EnrichedSignal, window *Window) float64 {
	if signal.ThreadID == "" {
		return 0
	}

	var decayed float64
	for i := range window.Recent {
		w := &window.Recent[i]
		if w.ThreadID != signal.ThreadID || w.ActivityID == signal.ActivityID {
			continue
		}
		age := window.Now.Sub(w.Timestamp)
		if age < 0 {
			age = 0
		}
		decayed += math.Exp2(-age.Hours() / e.cfg.VelocityHalfLife.Hours())
	}
	return clamp01(1 - math.Exp(-decayed/e.cfg.VelocitySaturation))
}

// crossPlatform is the fraction of connected platforms on which the same
// topic shows correlated, non-duplicate mentions. Correlation means same
// thread or embedding similarity above the configured cosine.
func (e *Engine) crossPlatform(signal *models.EnrichedSignal, window *Window) float64 {
	if window.TotalPlatforms <= 1 {
		return 0
	}

	platforms := map[models.Platform]struct{}{signal.Platform: {}}
	for i := range window.Recent {
		w := &window.Recent[i]
		if w.IsDuplicate || w.ActivityID == signal.ActivityID {
			continue
		}
		correlated := signal.ThreadID != "" && w.ThreadID == signal.ThreadID
		if !correlated && len(w.Embedding) > 0 {
			correlated = cosine(signal.Embedding, w.Embedding) >= e.cfg.CorrelationCosine
		}
		if correlated {
			platforms[w.Platform] = struct{}{}
		}
	}
	if len(platforms) <= 1 {
		return 0
	}
	return clamp01(float64(len(platforms)) / float64(window.TotalPlatforms))
}

// actionability weights classification urgency by the strongest intent
// boost. Signals with no recognized intent score at half weight.
func (e *Engine) actionability(signal *models.EnrichedSignal) float64 {
	boost := 0.5
	for _, intent := range signal.Classification.Intent {
		if b, ok := intentBoosts[intent]; ok && b > boost {
			boost = b
		}
	}
	return clamp01(signal.Classification.Urgency.Weight() * boost)
}

// novelty is 1 minus the closest cosine similarity to an existing cluster
// centroid. No centroids means everything is novel.
func (e *Engine) novelty(signal *models.EnrichedSignal, window *Window) float64 {
	if len(window.Centroids) == 0 || len(signal.Embedding) == 0 {
		return 1
	}

	maxSim := -1.0
	for _, centroid := range window.Centroids {
		if sim := cosine(signal.Embedding, centroid); sim > maxSim {
			maxSim = sim
		}
	}
	return clamp01(1 - maxSim)
}

// cosine returns the cosine similarity of two vectors, 0 when shapes
// mismatch or either is zero.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
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
