// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

// Package dedup implements near-duplicate detection over activity text
// using MinHash signatures and LSH banding. Signatures are deterministic
// for identical input; candidate lookup is restricted to signatures that
// share at least one LSH bucket rather than all-pairs comparison.
package dedup

import (
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/tomtom215/signalpipe/internal/models"
)

// Engine computes MinHash signatures with a fixed hash family. The hash
// family is derived from deterministic seeds, so two engines with the same
// parameters produce identical signatures for identical input.
type Engine struct {
	shingleSize int
	numHashes   int
	seeds       []uint64
}

// Config holds dedup engine parameters.
type Config struct {
	ShingleSize int
	NumHashes   int
}

// DefaultConfig returns the standard signature parameters. These match the
// banding defaults in the pipeline configuration (16 bands x 4 rows).
func DefaultConfig() Config {
	return Config{ShingleSize: 3, NumHashes: 64}
}

// NewEngine creates a dedup engine with deterministic hash seeds.
func NewEngine(cfg Config) *Engine {
	if cfg.ShingleSize < 1 {
		cfg.ShingleSize = 3
	}
	if cfg.NumHashes < 1 {
		cfg.NumHashes = 64
	}
	seeds := make([]uint64, cfg.NumHashes)
	// splitmix64 sequence from a fixed root; gives well-distributed,
	// reproducible per-function seeds.
	state := uint64(0x9E3779B97F4A7C15)
	for i := range seeds {
		state += 0x9E3779B97F4A7C15
		z := state
		z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
		z = (z ^ (z >> 27)) * 0x94D049BB133111EB
		seeds[i] = z ^ (z >> 31)
	}
	return &Engine{
		shingleSize: cfg.ShingleSize,
		numHashes:   cfg.NumHashes,
		seeds:       seeds,
	}
}

// Signature computes the MinHash signature of text. Empty or shingle-less
// text (fewer words than the shingle size) yields the sentinel all-zero
// signature, which is never treated as a duplicate of anything.
func (e *Engine) Signature(text string) models.MinHashSignature {
	sig := models.MinHashSignature{
		Signature:   make([]uint64, e.numHashes),
		ShingleSize: e.shingleSize,
		NumHashes:   e.numHashes,
	}

	shingles := e.shingles(Normalize(text))
	if len(shingles) == 0 {
		return sig // sentinel
	}

	const maxUint64 = ^uint64(0)
	for i := range sig.Signature {
		sig.Signature[i] = maxUint64
	}

	for _, shingle := range shingles {
		base := fnvHash64(shingle)
		for i, seed := range e.seeds {
			h := mix64(base ^ seed)
			if h < sig.Signature[i] {
				sig.Signature[i] = h
			}
		}
	}
	return sig
}

// shingles returns contiguous word n-grams of the normalized text.
func (e *Engine) shingles(normalized string) []string {
	words := strings.Fields(normalized)
	if len(words) < e.shingleSize {
		return nil
	}
	shingles := make([]string, 0, len(words)-e.shingleSize+1)
	for i := 0; i+e.shingleSize <= len(words); i++ {
		shingles = append(shingles, strings.Join(words[i:i+e.shingleSize], " "))
	}
	return shingles
}

// Normalize lowercases text, strips punctuation, and collapses whitespace.
// The same normalization feeds the embedding service's text hash so cache
// validity and signature determinism agree on what "identical text" means.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	lastSpace := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// HammingDistance counts signature slots that differ. Signatures with
// mismatched parameters are maximally distant.
func HammingDistance(a, b models.MinHashSignature) int {
	if len(a.Signature) != len(b.Signature) || a.ShingleSize != b.ShingleSize {
		if len(a.Signature) > len(b.Signature) {
			return len(a.Signature)
		}
		return len(b.Signature)
	}
	dist := 0
	for i := range a.Signature {
		if a.Signature[i] != b.Signature[i] {
			dist++
		}
	}
	return dist
}

// EstimateSimilarity estimates Jaccard similarity as the fraction of
// matching signature slots. Sentinel signatures always estimate to zero.
func EstimateSimilarity(a, b models.MinHashSignature) float64 {
	if a.IsZero() || b.IsZero() {
		return 0
	}
	if len(a.Signature) != len(b.Signature) || len(a.Signature) == 0 {
		return 0
	}
	matching := len(a.Signature) - HammingDistance(a, b)
	return float64(matching) / float64(len(a.Signature))
}

// fnvHash64 hashes a shingle with FNV-64a.
func fnvHash64(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// mix64 is a splitmix64 finalizer used to derive independent hash
// functions from one base hash.
func mix64(z uint64) uint64 {
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}
