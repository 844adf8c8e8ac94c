// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

package dedup

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/tomtom215/signalpipe/internal/metrics"
	"github.com/tomtom215/signalpipe/internal/models"
)

// LSHIndex buckets MinHash signatures by banding so that near-duplicate
// lookup only compares same-bucket candidates. Safe for concurrent use.
//
// The banding parameters trade recall against candidate volume and are
// operationally tuned; treat the defaults as a starting point.
type LSHIndex struct {
	bands       int
	rowsPerBand int
	cutoff      float64

	mu         sync.RWMutex
	buckets    map[string][]string                  // band bucket key -> activity ids
	signatures map[string]models.MinHashSignature   // activity id -> signature
}

// LSHConfig holds banding parameters. Bands*RowsPerBand must equal the
// signature's NumHashes.
type LSHConfig struct {
	Bands            int
	RowsPerBand      int
	SimilarityCutoff float64
}

// DefaultLSHConfig returns 16 bands x 4 rows with a 0.85 cutoff, matching
// DefaultConfig's 64 hash functions.
func DefaultLSHConfig() LSHConfig {
	return LSHConfig{Bands: 16, RowsPerBand: 4, SimilarityCutoff: 0.85}
}

// NewLSHIndex creates an empty LSH index.
func NewLSHIndex(cfg LSHConfig) *LSHIndex {
	if cfg.Bands < 1 {
		cfg.Bands = 16
	}
	if cfg.RowsPerBand < 1 {
		cfg.RowsPerBand = 4
	}
	if cfg.SimilarityCutoff <= 0 || cfg.SimilarityCutoff > 1 {
		cfg.SimilarityCutoff = 0.85
	}
	return &LSHIndex{
		bands:       cfg.Bands,
		rowsPerBand: cfg.RowsPerBand,
		cutoff:      cfg.SimilarityCutoff,
		buckets:     make(map[string][]string),
		signatures:  make(map[string]models.MinHashSignature),
	}
}

// Add inserts a signature into the index. Sentinel signatures are ignored:
// shingle-less text is never a duplicate of anything, so indexing it would
// only pollute buckets.
func (idx *LSHIndex) Add(activityID string, sig models.MinHashSignature) {
	if sig.IsZero() || len(sig.Signature) < idx.bands*idx.rowsPerBand {
		return
	}

	keys := idx.bandKeys(sig)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.signatures[activityID]; exists {
		return // re-adds are no-ops; signatures are immutable per activity
	}
	idx.signatures[activityID] = sig
	for _, key := range keys {
		idx.buckets[key] = append(idx.buckets[key], activityID)
	}
}

// FindDuplicate returns the id of the most similar already-indexed
// signature whose estimated similarity meets the cutoff, or "" when the
// signature has no near-duplicate. The signature being probed must not be
// in the index yet.
func (idx *LSHIndex) FindDuplicate(sig models.MinHashSignature) string {
	if sig.IsZero() || len(sig.Signature) < idx.bands*idx.rowsPerBand {
		return ""
	}

	keys := idx.bandKeys(sig)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	seen := make(map[string]struct{})
	bestID := ""
	bestSim := 0.0
	compared := 0

	for _, key := range keys {
		for _, candidateID := range idx.buckets[key] {
			if _, dup := seen[candidateID]; dup {
				continue
			}
			seen[candidateID] = struct{}{}
			compared++

			candidate := idx.signatures[candidateID]
			sim := EstimateSimilarity(sig, candidate)
			if sim >= idx.cutoff && sim > bestSim {
				bestSim = sim
				bestID = candidateID
			}
		}
	}
	metrics.DedupCandidatesCompared.Observe(float64(compared))
	return bestID
}

// Len returns the number of indexed signatures.
func (idx *LSHIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.signatures)
}

// bandKeys computes one bucket key per band by hashing the band's slots.
func (idx *LSHIndex) bandKeys(sig models.MinHashSignature) []string {
	keys := make([]string, idx.bands)
	buf := make([]byte, 8*idx.rowsPerBand)
	for band := 0; band < idx.bands; band++ {
		start := band * idx.rowsPerBand
		for row := 0; row < idx.rowsPerBand; row++ {
			binary.LittleEndian.PutUint64(buf[row*8:], sig.Signature[start+row])
		}
		h := fnv.New64a()
		_, _ = h.Write(buf)
		keys[band] = fmt.Sprintf("%d:%x", band, h.Sum64())
	}
	return keys
}
