// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

package dedup

import (
	"fmt"
	"sync"
	"testing"
)

func TestLSHIndex_FindsNearDuplicate(t *testing.T) {
	e := NewEngine(DefaultConfig())
	idx := NewLSHIndex(DefaultLSHConfig())

	base := "the dashboard widget crashes whenever the date range filter is set to a custom interval spanning more than ninety days of history"
	reworded := base + " consistently"

	idx.Add("a1", e.Signature(base))

	dup := idx.FindDuplicate(e.Signature(reworded))
	if dup != "a1" {
		t.Errorf("expected near-duplicate of a1, got %q", dup)
	}
}

func TestLSHIndex_NoFalseMatchForUnrelated(t *testing.T) {
	e := NewEngine(DefaultConfig())
	idx := NewLSHIndex(DefaultLSHConfig())

	idx.Add("a1", e.Signature("the billing invoice export produces malformed csv files when line items contain embedded commas and quoted strings"))

	dup := idx.FindDuplicate(e.Signature("community meetup announcement for the spring conference with keynote speakers and workshop schedules posted online"))
	if dup != "" {
		t.Errorf("unrelated text should have no duplicate, got %q", dup)
	}
}

func TestLSHIndex_SentinelNeverIndexedOrMatched(t *testing.T) {
	e := NewEngine(DefaultConfig())
	idx := NewLSHIndex(DefaultLSHConfig())

	idx.Add("empty1", e.Signature(""))
	idx.Add("empty2", e.Signature("  "))
	if idx.Len() != 0 {
		t.Errorf("sentinel signatures must not be indexed, len=%d", idx.Len())
	}

	if dup := idx.FindDuplicate(e.Signature("")); dup != "" {
		t.Errorf("sentinel probe should never match, got %q", dup)
	}
}

func TestLSHIndex_ReAddIsNoOp(t *testing.T) {
	e := NewEngine(DefaultConfig())
	idx := NewLSHIndex(DefaultLSHConfig())

	sig := e.Signature("repeated insertion of the same activity signature should not create duplicate bucket entries anywhere")
	idx.Add("a1", sig)
	idx.Add("a1", sig)

	if idx.Len() != 1 {
		t.Errorf("expected one indexed signature, got %d", idx.Len())
	}
}

func TestLSHIndex_ConcurrentAccess(t *testing.T) {
	e := NewEngine(DefaultConfig())
	idx := NewLSHIndex(DefaultLSHConfig())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			text := fmt.Sprintf("unique activity text number %d about a distinct topic with enough words to shingle properly and produce a real signature", n)
			sig := e.Signature(text)
			idx.Add(fmt.Sprintf("act-%d", n), sig)
			idx.FindDuplicate(sig)
		}(i)
	}
	wg.Wait()

	if idx.Len() != 16 {
		t.Errorf("expected 16 indexed signatures, got %d", idx.Len())
	}
}

func TestLSHIndex_PicksMostSimilarCandidate(t *testing.T) {
	e := NewEngine(DefaultConfig())
	idx := NewLSHIndex(DefaultLSHConfig())

	base := "uploads to the attachment service time out for files larger than one hundred megabytes when the client is behind a proxy server"
	idx.Add("close", e.Signature(base+" today"))
	idx.Add("closer", e.Signature(base))

	dup := idx.FindDuplicate(e.Signature(base))
	if dup != "closer" {
		t.Errorf("expected the identical signature to win, got %q", dup)
	}
}
