// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/signalpipe/internal/cache"
	"github.com/tomtom215/signalpipe/internal/dedup"
	"github.com/tomtom215/signalpipe/internal/metrics"
	"github.com/tomtom215/signalpipe/internal/models"
)

// Config holds embedding service parameters.
type Config struct {
	// Dimensions is the expected vector shape; cached vectors with any
	// other shape are treated as corrupt.
	Dimensions int

	// CacheTTL is how long cached embeddings stay valid.
	CacheTTL time.Duration

	// QuantizePrecision rounds vector components before caching.
	QuantizePrecision float64

	// BackendTimeout bounds each model backend call.
	BackendTimeout time.Duration

	// RateLimitPerSecond caps backend calls; zero disables limiting.
	RateLimitPerSecond float64

	// BreakerFailureThreshold trips the circuit breaker after this many
	// consecutive backend failures.
	BreakerFailureThreshold uint32

	// BreakerOpenTimeout is how long the breaker stays open before
	// allowing a probe request.
	BreakerOpenTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Dimensions:              256,
		CacheTTL:                7 * 24 * time.Hour,
		QuantizePrecision:       1e-4,
		BackendTimeout:          10 * time.Second,
		RateLimitPerSecond:      20,
		BreakerFailureThreshold: 5,
		BreakerOpenTimeout:      30 * time.Second,
	}
}

// Service computes embeddings with a cache-checked fast path. Collaborators
// are injected at construction; the service holds no global state.
type Service struct {
	cfg      Config
	store    cache.Store
	embedder Embedder
	breaker  *gobreaker.CircuitBreaker[[]float32]
	limiter  *rate.Limiter
	logger   zerolog.Logger
}

// NewService creates an embedding service.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewService(cfg Config, store cache.Store, embedder Embedder, logger zerolog.Logger) (*Service, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", cfg.Dimensions)
	}
	if embedder.Dimensions() != cfg.Dimensions {
		return nil, fmt.Errorf("backend produces %d dimensions, config expects %d",
			embedder.Dimensions(), cfg.Dimensions)
	}
	if cfg.QuantizePrecision <= 0 {
		cfg.QuantizePrecision = 1e-4
	}
	if cfg.BackendTimeout <= 0 {
		cfg.BackendTimeout = 10 * time.Second
	}
	if cfg.BreakerFailureThreshold == 0 {
		cfg.BreakerFailureThreshold = 5
	}

	breaker := gobreaker.NewCircuitBreaker[[]float32](gobreaker.Settings{
		Name:    "embedding-backend",
		Timeout: cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailureThreshold
		},
	})

	var limiter *rate.Limiter
	if cfg.RateLimitPerSecond > 0 {
		burst := int(cfg.RateLimitPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), burst)
	}

	return &Service{
		cfg:      cfg,
		store:    store,
		embedder: embedder,
		breaker:  breaker,
		limiter:  limiter,
		logger:   logger.With().Str("component", "embedding").Logger(),
	}, nil
}

// Embed returns the embedding for an activity's text. The cache is checked
// first by text hash; a hit with valid shape short-circuits the model
// backend. On miss or corrupt payload the vector is recomputed, quantized,
// and stored under the TTL. Cache writes are best effort: a cache-store
// failure is logged and swallowed, and the computed embedding is still
// returned.
func (s *Service) Embed(ctx context.Context, activityID, text string) ([]float32, error) {
	normalized := dedup.Normalize(text)
	textHash := TextHash(normalized)
	key := cache.EmbeddingKey(activityID)

	if vec, ok := s.cachedEmbedding(ctx, key, textHash); ok {
		metrics.EmbeddingCacheHits.Inc()
		return vec, nil
	}
	metrics.EmbeddingCacheMisses.Inc()

	vec, err := s.computeEmbedding(ctx, normalized)
	if err != nil {
		return nil, err
	}

	s.quantize(vec)

	entry := models.EmbeddingCacheEntry{
		Embedding: vec,
		CachedAt:  time.Now().UTC(),
		TextHash:  textHash,
	}
	if payload, err := json.Marshal(entry); err == nil {
		if err := s.store.SetWithTTL(ctx, key, payload, s.cfg.CacheTTL); err != nil {
			s.logger.Warn().Err(err).Str("activity_id", activityID).
				Msg("embedding cache write failed")
		}
	}

	return vec, nil
}

// cachedEmbedding returns a valid cached vector, or false. Corrupt entries
// (undecodable, wrong shape, non-finite values, stale text hash) are
// deleted so the next computation repopulates the cache.
func (s *Service) cachedEmbedding(ctx context.Context, key, textHash string) ([]float32, bool) {
	payload, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, false
	}

	var entry models.EmbeddingCacheEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		s.invalidate(ctx, key, "undecodable payload")
		return nil, false
	}
	if entry.TextHash != textHash {
		s.invalidate(ctx, key, "text hash mismatch")
		return nil, false
	}
	if len(entry.Embedding) != s.cfg.Dimensions {
		s.invalidate(ctx, key, "wrong dimensionality")
		return nil, false
	}
	for _, v := range entry.Embedding {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			s.invalidate(ctx, key, "non-finite component")
			return nil, false
		}
	}
	return entry.Embedding, true
}

func (s *Service) invalidate(ctx context.Context, key, reason string) {
	metrics.EmbeddingCacheInvalidations.Inc()
	s.logger.Warn().Str("key", key).Str("reason", reason).
		Msg("invalidating corrupt embedding cache entry")
	if err := s.store.Delete(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache invalidation failed")
	}
}

// computeEmbedding invokes the model backend through the rate limiter and
// circuit breaker with a per-call timeout.
func (s *Service) computeEmbedding(ctx context.Context, normalized string) ([]float32, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embedding rate limit wait: %w", err)
		}
	}

	start := time.Now()
	vec, err := s.breaker.Execute(func() ([]float32, error) {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.BackendTimeout)
		defer cancel()
		return s.embedder.Embed(callCtx, normalized)
	})
	metrics.EmbeddingBackendDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("embedding backend: %w", err)
	}
	if len(vec) != s.cfg.Dimensions {
		return nil, fmt.Errorf("embedding backend returned %d dimensions, expected %d",
			len(vec), s.cfg.Dimensions)
	}
	return vec, nil
}

// quantize rounds each component to the configured precision so cached
// vectors are stable across backends with nondeterministic low-order bits.
func (s *Service) quantize(vec []float32) {
	p := s.cfg.QuantizePrecision
	for i, v := range vec {
		vec[i] = float32(math.Round(float64(v)/p) * p)
	}
}

// TextHash returns the hex FNV-64a hash of normalized text. It keys cache
// validity: a changed text invalidates the cached vector.
func TextHash(normalized string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(normalized))
	return fmt.Sprintf("%x", h.Sum64())
}
