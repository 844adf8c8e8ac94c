// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

package dedup

import (
	"testing"
)

func TestSignature_Deterministic(t *testing.T) {
	e := NewEngine(DefaultConfig())
	text := "The API endpoint returns a 500 error when uploading large files"

	a := e.Signature(text)
	b := e.Signature(text)

	if len(a.Signature) != 64 {
		t.Fatalf("expected 64 hash slots, got %d", len(a.Signature))
	}
	for i := range a.Signature {
		if a.Signature[i] != b.Signature[i] {
			t.Fatalf("signatures differ at slot %d across repeated calls", i)
		}
	}

	// A fresh engine with the same parameters must agree too.
	c := NewEngine(DefaultConfig()).Signature(text)
	if HammingDistance(a, c) != 0 {
		t.Error("signatures differ across engine instances with identical parameters")
	}
}

func TestSignature_NormalizationInvariance(t *testing.T) {
	e := NewEngine(DefaultConfig())

	a := e.Signature("API endpoint returns 500 error!")
	b := e.Signature("  api ENDPOINT   returns, 500 error ")

	if HammingDistance(a, b) != 0 {
		t.Error("normalization should make punctuation/case/whitespace variants identical")
	}
}

func TestSignature_Sensitivity(t *testing.T) {
	e := NewEngine(DefaultConfig())

	base := "the search indexing job fails intermittently when the cluster is under heavy load and memory pressure builds up over several hours of operation"
	nearDup := base + " today"
	unrelated := "release notes for the quarterly marketing newsletter covering new community events and upcoming webinars in the autumn schedule"

	sigBase := e.Signature(base)
	sigNear := e.Signature(nearDup)
	sigOther := e.Signature(unrelated)

	nearSim := EstimateSimilarity(sigBase, sigNear)
	otherSim := EstimateSimilarity(sigBase, sigOther)

	if nearSim < 0.85 {
		t.Errorf("near-identical texts should estimate >= 0.85 similarity, got %f", nearSim)
	}
	if otherSim > 0.3 {
		t.Errorf("unrelated texts should estimate low similarity, got %f", otherSim)
	}
	if nearSim <= otherSim {
		t.Error("near-duplicate similarity should exceed unrelated similarity")
	}
}

func TestSignature_SentinelForShortText(t *testing.T) {
	e := NewEngine(DefaultConfig())

	tests := []string{"", "   ", "one", "two words", "!!! ??? ..."}
	for _, text := range tests {
		sig := e.Signature(text)
		if !sig.IsZero() {
			t.Errorf("expected sentinel signature for %q", text)
		}
	}

	// Sentinels are never duplicates, even of each other.
	a := e.Signature("")
	b := e.Signature("")
	if EstimateSimilarity(a, b) != 0 {
		t.Error("sentinel signatures must estimate zero similarity")
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Hello, World!", "hello world"},
		{"  many   spaces\t\nhere ", "many spaces here"},
		{"API-endpoint/v2: 500", "api endpoint v2 500"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHammingDistance_MismatchedShapes(t *testing.T) {
	e64 := NewEngine(Config{ShingleSize: 3, NumHashes: 64})
	e32 := NewEngine(Config{ShingleSize: 3, NumHashes: 32})

	text := "some reasonably long text for generating a proper signature here"
	a := e64.Signature(text)
	b := e32.Signature(text)

	if HammingDistance(a, b) != 64 {
		t.Errorf("mismatched signatures should be maximally distant, got %d", HammingDistance(a, b))
	}
	if EstimateSimilarity(a, b) != 0 {
		t.Error("mismatched signatures should estimate zero similarity")
	}
}
