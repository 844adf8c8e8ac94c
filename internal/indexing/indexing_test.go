// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

package indexing

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/signalpipe/internal/logging"
	"github.com/tomtom215/signalpipe/internal/models"
	"github.com/tomtom215/signalpipe/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	var buf bytes.Buffer
	logger := logging.NewTestLogger(&buf)
	st, err := store.NewInMemory(logger)
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return NewService(st.Conn(), logger)
}

func indexedSignal(id string) *models.EnrichedSignal {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	return &models.EnrichedSignal{
		ActivityID: id,
		TenantID:   "t1",
		Platform:   models.PlatformGitHub,
		Embedding:  []float32{0.7, 0.3},
		Classification: models.ClassificationResult{
			ProductArea: []string{"api"},
			Intent:      []string{"bug_report"},
			Urgency:     models.UrgencyHigh,
			Sentiment:   models.SentimentNegative,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestUpsert_IsIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	sig := indexedSignal("a1")
	if err := svc.Upsert(ctx, sig, "API 500s", "the endpoint fails"); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := svc.Upsert(ctx, sig, "API 500s", "the endpoint fails intermittently"); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	hits, err := svc.Search(ctx, "t1", "endpoint", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0] != "a1" {
		t.Errorf("upsert must not duplicate documents, got %v", hits)
	}
}

func TestUpsert_DuplicateSignalIsExcluded(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	original := indexedSignal("a1")
	if err := svc.Upsert(ctx, original, "API 500s", "endpoint fails"); err != nil {
		t.Fatal(err)
	}

	dup := indexedSignal("a2")
	originalID := "a1"
	dup.IsDuplicateOf = &originalID
	if err := svc.Upsert(ctx, dup, "API 500s again", "endpoint fails"); err != nil {
		t.Fatalf("upserting a duplicate must not error: %v", err)
	}

	hits, err := svc.Search(ctx, "t1", "endpoint", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0] != "a1" {
		t.Errorf("duplicate must be excluded from the index, got %v", hits)
	}
}

func TestUpsert_ReflaggedDuplicateConvergesOnExclusion(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	sig := indexedSignal("a2")
	if err := svc.Upsert(ctx, sig, "title", "body text"); err != nil {
		t.Fatal(err)
	}

	// A retry reclassifies the same activity as a duplicate; the earlier
	// document must disappear.
	originalID := "a1"
	sig.IsDuplicateOf = &originalID
	if err := svc.Upsert(ctx, sig, "title", "body text"); err != nil {
		t.Fatal(err)
	}

	hits, err := svc.Search(ctx, "t1", "body", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("reflagged duplicate should be removed, got %v", hits)
	}
}

func TestRemove_MissingDocumentIsFine(t *testing.T) {
	svc := newTestService(t)

	if err := svc.Remove(context.Background(), "never-indexed"); err != nil {
		t.Errorf("removing a missing document must be a no-op: %v", err)
	}
}

func TestUpdateClusterID(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if err := svc.Upsert(ctx, indexedSignal("a1"), "title", "body"); err != nil {
		t.Fatal(err)
	}
	if err := svc.UpdateClusterID(ctx, "a1", 7); err != nil {
		t.Fatalf("UpdateClusterID: %v", err)
	}
	// Unindexed ids are skipped without error.
	if err := svc.UpdateClusterID(ctx, "duplicate-never-indexed", 7); err != nil {
		t.Errorf("unindexed id should be skipped: %v", err)
	}
}

func TestUpsert_ConcurrentFirstUseIsSafe(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sig := indexedSignal(string(rune('a'+n)) + "1")
			errs <- svc.Upsert(ctx, sig, "concurrent", "startup")
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent upsert failed: %v", err)
		}
	}
}
