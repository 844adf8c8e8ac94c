// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

package embedding

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/signalpipe/internal/cache"
	"github.com/tomtom215/signalpipe/internal/dedup"
	"github.com/tomtom215/signalpipe/internal/logging"
	"github.com/tomtom215/signalpipe/internal/models"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Dimensions = 64
	cfg.RateLimitPerSecond = 0 // no throttling in tests
	return cfg
}

func newTestService(t *testing.T, store cache.Store) *Service {
	t.Helper()
	var buf bytes.Buffer
	svc, err := NewService(testConfig(), store, NewHashingEmbedder(64), logging.NewTestLogger(&buf))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

// countingEmbedder records how many times the backend was invoked.
type countingEmbedder struct {
	inner Embedder
	calls int
	fail  bool
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	if c.fail {
		return nil, errors.New("backend unavailable")
	}
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) Dimensions() int { return c.inner.Dimensions() }

// failingStore wraps a Store and fails all writes.
type failingStore struct {
	cache.Store
}

func (f *failingStore) SetWithTTL(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache store down")
}

func TestEmbed_CacheHitSkipsBackend(t *testing.T) {
	store := cache.NewMemoryStore()
	backend := &countingEmbedder{inner: NewHashingEmbedder(64)}
	var buf bytes.Buffer
	svc, err := NewService(testConfig(), store, backend, logging.NewTestLogger(&buf))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	first, err := svc.Embed(ctx, "a1", "API endpoint returns 500 error")
	if err != nil {
		t.Fatalf("first embed: %v", err)
	}
	second, err := svc.Embed(ctx, "a1", "API endpoint returns 500 error")
	if err != nil {
		t.Fatalf("second embed: %v", err)
	}

	if backend.calls != 1 {
		t.Errorf("expected 1 backend call, got %d", backend.calls)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("cached vector differs at %d", i)
		}
	}
}

func TestEmbed_ChangedTextInvalidatesCache(t *testing.T) {
	store := cache.NewMemoryStore()
	backend := &countingEmbedder{inner: NewHashingEmbedder(64)}
	var buf bytes.Buffer
	svc, err := NewService(testConfig(), store, backend, logging.NewTestLogger(&buf))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := svc.Embed(ctx, "a1", "original text for the activity body"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Embed(ctx, "a1", "edited text for the activity body"); err != nil {
		t.Fatal(err)
	}

	if backend.calls != 2 {
		t.Errorf("text change should bypass cache, got %d backend calls", backend.calls)
	}
}

func TestEmbed_CorruptCacheSelfHeals(t *testing.T) {
	ctx := context.Background()
	text := "the indexing service is returning stale documents"

	// Expected result from a cold computation.
	coldStore := cache.NewMemoryStore()
	cold, err := newTestService(t, coldStore).Embed(ctx, "cold", text)
	if err != nil {
		t.Fatal(err)
	}

	// Matching text hash ensures the shape and numeric checks are what
	// reject these entries, not the hash comparison.
	goodHash := TextHash(dedup.Normalize(text))
	corruptions := map[string][]byte{
		"not json":    []byte("{{{"),
		"wrong shape": mustMarshal(t, models.EmbeddingCacheEntry{Embedding: []float32{1, 2, 3}, TextHash: goodHash}),
		"stale hash":  mustMarshal(t, models.EmbeddingCacheEntry{Embedding: make([]float32, 64), TextHash: "deadbeef"}),
		"nan": mustMarshal(t, func() models.EmbeddingCacheEntry {
			vec := make([]float32, 64)
			vec[0] = float32(math.NaN())
			return models.EmbeddingCacheEntry{Embedding: vec, TextHash: goodHash}
		}()),
	}

	for name, payload := range corruptions {
		t.Run(name, func(t *testing.T) {
			store := cache.NewMemoryStore()
			if err := store.SetWithTTL(ctx, cache.EmbeddingKey("a1"), payload, time.Hour); err != nil {
				t.Fatal(err)
			}

			svc := newTestService(t, store)
			got, err := svc.Embed(ctx, "a1", text)
			if err != nil {
				t.Fatalf("corrupt cache must not be fatal: %v", err)
			}
			for i := range got {
				if got[i] != cold[i] {
					t.Fatalf("recomputed vector differs from cold computation at %d", i)
				}
			}
		})
	}
}

func TestEmbed_CacheWriteFailureIsSwallowed(t *testing.T) {
	store := &failingStore{Store: cache.NewMemoryStore()}
	var buf bytes.Buffer
	svc, err := NewService(testConfig(), store, NewHashingEmbedder(64), logging.NewTestLogger(&buf))
	if err != nil {
		t.Fatal(err)
	}

	vec, err := svc.Embed(context.Background(), "a1", "some activity text to embed")
	if err != nil {
		t.Fatalf("cache write failure must not fail the call: %v", err)
	}
	if len(vec) != 64 {
		t.Errorf("expected a valid 64-dim vector, got %d", len(vec))
	}
	if !bytes.Contains(buf.Bytes(), []byte("embedding cache write failed")) {
		t.Error("expected a warning log about the failed cache write")
	}
}

func TestEmbed_BackendFailurePropagates(t *testing.T) {
	backend := &countingEmbedder{inner: NewHashingEmbedder(64), fail: true}
	var buf bytes.Buffer
	svc, err := NewService(testConfig(), cache.NewMemoryStore(), backend, logging.NewTestLogger(&buf))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Embed(context.Background(), "a1", "text"); err == nil {
		t.Error("expected backend failure to propagate")
	}
}

func TestHashingEmbedder_DeterministicAndNormalized(t *testing.T) {
	e := NewHashingEmbedder(128)
	ctx := context.Background()

	a, _ := e.Embed(ctx, "search latency has regressed since the last deploy")
	b, _ := e.Embed(ctx, "search latency has regressed since the last deploy")
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding not deterministic at %d", i)
		}
	}

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("expected unit norm, got %f", norm)
	}

	zero, _ := e.Embed(ctx, "")
	for i, v := range zero {
		if v != 0 {
			t.Fatalf("empty text should produce the zero vector, component %d = %f", i, v)
		}
	}
}

func TestTextHash(t *testing.T) {
	if TextHash("abc") != TextHash("abc") {
		t.Error("TextHash must be deterministic")
	}
	if TextHash("abc") == TextHash("abd") {
		t.Error("different texts should hash differently")
	}
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}
