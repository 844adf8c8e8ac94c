// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

package classify

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/signalpipe/internal/logging"
	"github.com/tomtom215/signalpipe/internal/models"
)

func newBuiltinService(t *testing.T) *Service {
	t.Helper()
	var buf bytes.Buffer
	return NewService(DefaultConfig(), NewStaticArtifactStore(BuiltinArtifacts()...), logging.NewTestLogger(&buf))
}

func TestClassify_BugReportGetsUrgencyAndArea(t *testing.T) {
	svc := newBuiltinService(t)

	result, err := svc.Classify(&models.Activity{ID: "a1", Title: "API endpoint returns 500 error"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}

	if result.Urgency != models.UrgencyHigh && result.Urgency != models.UrgencyCritical {
		t.Errorf("expected high or critical urgency, got %q", result.Urgency)
	}
	if len(result.ProductArea) == 0 {
		t.Error("expected at least one product area")
	}
	if result.Confidence < 0 || result.Confidence > 1 {
		t.Errorf("confidence %f outside [0,1]", result.Confidence)
	}
	if result.ModelVersion == "" {
		t.Error("expected a model version stamp")
	}
}

func TestClassify_UnrelatedTextYieldsEmptyLabels(t *testing.T) {
	svc := newBuiltinService(t)

	result, err := svc.Classify(&models.Activity{ID: "a2", Title: "weekly community gardening thread"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}

	if len(result.ProductArea) != 0 {
		t.Errorf("expected no product areas, got %v", result.ProductArea)
	}
	if result.ProductArea == nil || result.Intent == nil {
		t.Error("multi-label outputs must be empty slices, not nil")
	}
	if result.Urgency != models.UrgencyLow {
		t.Errorf("nothing above threshold should default to low urgency, got %q", result.Urgency)
	}
}

func TestClassify_ConfidenceAlwaysBounded(t *testing.T) {
	svc := newBuiltinService(t)

	texts := []string{
		"",
		"outage outage outage urgent critical production down down down",
		"love this feature, works great and fast, thanks!",
		"billing invoice payment refund subscription charge",
	}
	for _, text := range texts {
		result, err := svc.Classify(&models.Activity{ID: "a3", Body: text})
		if err != nil {
			t.Fatalf("Classify(%q): %v", text, err)
		}
		if result.Confidence < 0 || result.Confidence > 1 {
			t.Errorf("Classify(%q): confidence %f outside [0,1]", text, result.Confidence)
		}
	}
}

func TestClassify_DegradedFamilyDoesNotFailOthers(t *testing.T) {
	// Drop the product_area artifact; intent and urgency still classify.
	store := NewStaticArtifactStore()
	for _, a := range BuiltinArtifacts() {
		if a.Family != FamilyProductArea {
			store.artifacts[a.Family] = a
		}
	}
	var buf bytes.Buffer
	svc := NewService(DefaultConfig(), store, logging.NewTestLogger(&buf))

	result, err := svc.Classify(&models.Activity{ID: "a4", Title: "crash with error 500, cannot login"})
	if err != nil {
		t.Fatalf("single degraded family must not fail: %v", err)
	}
	if len(result.ProductArea) != 0 {
		t.Errorf("degraded family should yield no labels, got %v", result.ProductArea)
	}
	if len(result.Intent) == 0 {
		t.Error("healthy intent family should still classify")
	}
	if result.Urgency == "" {
		t.Error("healthy urgency family should still classify")
	}
	if !bytes.Contains(buf.Bytes(), []byte("family degraded")) {
		t.Error("expected a degradation warning")
	}
}

func TestClassify_AllFamiliesDegradedFails(t *testing.T) {
	var buf bytes.Buffer
	svc := NewService(DefaultConfig(), NewStaticArtifactStore(), logging.NewTestLogger(&buf))

	if _, err := svc.Classify(&models.Activity{ID: "a5", Title: "anything"}); err == nil {
		t.Error("expected an error when every artifact-backed family is degraded")
	}
}

func TestClassify_UrgencyPicksSingleBest(t *testing.T) {
	svc := newBuiltinService(t)

	result, err := svc.Classify(&models.Activity{
		ID:    "a6",
		Title: "production outage, all requests down, urgent",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Urgency != models.UrgencyCritical {
		t.Errorf("expected critical, got %q", result.Urgency)
	}
}

func TestSentimentAnalyzer(t *testing.T) {
	s := NewSentimentAnalyzer()

	tests := []struct {
		text string
		want models.Sentiment
	}{
		{"this is great, works perfect, thanks!", models.SentimentPositive},
		{"terrible, broken and unusable, worst release", models.SentimentNegative},
		{"search is great but billing is completely broken", models.SentimentMixed},
		{"the quarterly report is attached", models.SentimentNeutral},
	}
	for _, tt := range tests {
		got, conf := s.Analyze(tt.text)
		if got != tt.want {
			t.Errorf("Analyze(%q) = %q, want %q", tt.text, got, tt.want)
		}
		if conf < 0 || conf > 1 {
			t.Errorf("Analyze(%q) confidence %f outside [0,1]", tt.text, conf)
		}
	}
}

func TestDirArtifactStore(t *testing.T) {
	dir := t.TempDir()
	artifact := BuiltinArtifacts()[0]
	data, err := json.Marshal(artifact)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, artifact.Family+".json"), data, 0o600); err != nil {
		t.Fatal(err)
	}

	store := NewDirArtifactStore(dir)
	loaded, err := store.Load(artifact.Family)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Version != artifact.Version || len(loaded.Labels) != len(artifact.Labels) {
		t.Error("loaded artifact does not match what was written")
	}

	if _, err := store.Load("missing_family"); err == nil {
		t.Error("missing artifact file should error")
	}

	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load("bad"); err == nil {
		t.Error("malformed artifact should error")
	}
}

func TestDirArtifactStore_ManifestResolvesRefs(t *testing.T) {
	dir := t.TempDir()

	// The artifact payload carries no version or threshold of its own;
	// both come from its manifest ref.
	artifact := *BuiltinArtifacts()[0]
	artifact.Version = ""
	artifact.Threshold = 0
	data, err := json.Marshal(&artifact)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "area-v2.json"), data, 0o600); err != nil {
		t.Fatal(err)
	}

	manifest, err := json.Marshal([]ArtifactRef{{
		Family:              artifact.Family,
		Version:             "v2",
		Location:            "area-v2.json",
		ConfidenceThreshold: 0.4,
		LastTrained:         time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
	}})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), manifest, 0o600); err != nil {
		t.Fatal(err)
	}

	store := NewDirArtifactStore(dir)
	loaded, err := store.Load(artifact.Family)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Version != "v2" {
		t.Errorf("ref version should stamp the artifact, got %q", loaded.Version)
	}
	if loaded.Threshold != 0.4 {
		t.Errorf("ref threshold should apply, got %g", loaded.Threshold)
	}
	if loaded.LastTrained.IsZero() {
		t.Error("ref training timestamp should apply")
	}

	if _, err := store.Load("unlisted_family"); err == nil {
		t.Error("a family missing from the manifest should error")
	}
}

func TestArtifactValidate(t *testing.T) {
	valid := Artifact{
		Family: FamilyIntent, Version: "v1", Threshold: 0.5,
		LastTrained: time.Now(),
		Labels:      []LabelModel{{Label: "x", Terms: []WeightedTerm{{Term: "a", Weight: 1}}}},
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid artifact rejected: %v", err)
	}

	bad := valid
	bad.Threshold = 1.5
	if err := bad.Validate(); err == nil {
		t.Error("threshold above 1 should be rejected")
	}
	bad = valid
	bad.Labels = nil
	if err := bad.Validate(); err == nil {
		t.Error("artifact with no labels should be rejected")
	}
}
