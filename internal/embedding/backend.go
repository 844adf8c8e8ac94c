// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

// Package embedding generates semantic vectors for activity text with a
// TTL cache in front of the model backend. Cache corruption is self-healing:
// a bad entry is deleted and recomputed, never fatal.
package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// Embedder is the model backend contract. Implementations may call out to
// a remote model service; calls are wrapped with a timeout, a rate limiter,
// and a circuit breaker by the Service.
type Embedder interface {
	// Embed returns a dense vector for the given normalized text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the vector dimensionality this backend produces.
	Dimensions() int
}

// HashingEmbedder is a deterministic, dependency-free Embedder that
// feature-hashes tokens into a fixed-dimension L2-normalized vector. It is
// the default backend for development and tests; production deployments
// substitute a real model-serving backend behind the same interface.
type HashingEmbedder struct {
	dims int
}

// NewHashingEmbedder creates a hashing embedder with the given
// dimensionality.
func NewHashingEmbedder(dims int) *HashingEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashingEmbedder{dims: dims}
}

// Dimensions returns the configured vector dimensionality.
func (h *HashingEmbedder) Dimensions() int {
	return h.dims
}

// Embed hashes each token into a bucket with a sign hash and L2-normalizes
// the result. Identical text always produces an identical vector; empty
// text produces the zero vector.
func (h *HashingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dims)

	for _, token := range strings.Fields(text) {
		hash := fnv.New64a()
		_, _ = hash.Write([]byte(token))
		sum := hash.Sum64()

		bucket := int(sum % uint64(h.dims)) //nolint:gosec // dims is small and positive
		sign := float32(1)
		if (sum>>63)&1 == 1 {
			sign = -1
		}
		vec[bucket] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}
