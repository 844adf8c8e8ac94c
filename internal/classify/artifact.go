// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

// Package classify implements the multi-label classification service:
// product area, intent, and urgency from versioned model artifacts, plus a
// lexicon-based sentiment analyzer. Model artifacts are opaque, externally
// produced resources; this package only loads and applies them.
package classify

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
)

// Label families. Each family is classified independently and degrades
// independently when its artifact is missing or unloadable.
const (
	FamilyProductArea = "product_area"
	FamilyIntent      = "intent"
	FamilyUrgency     = "urgency"
	FamilySentiment   = "sentiment"
)

// Families lists the artifact-backed label families in evaluation order.
// Sentiment is lexicon-based and resolved outside the artifact store.
var Families = []string{FamilyProductArea, FamilyIntent, FamilyUrgency}

// ArtifactRef describes where a family's model artifact lives and how to
// apply it: version, location, confidence threshold, and training
// timestamp. Refs are resolved at load/refresh time; ref fields fill in
// whatever the artifact payload itself omits.
type ArtifactRef struct {
	Family              string    `json:"family"`
	Version             string    `json:"version"`
	Location            string    `json:"location"`
	ConfidenceThreshold float64   `json:"confidence_threshold"`
	LastTrained         time.Time `json:"last_trained"`
}

// WeightedTerm is one term feature with its learned weight.
type WeightedTerm struct {
	Term   string  `json:"term"`
	Weight float64 `json:"weight"`
}

// LabelModel is the linear model for a single label within a family.
type LabelModel struct {
	Label string         `json:"label"`
	Terms []WeightedTerm `json:"terms"`
	Bias  float64        `json:"bias"`
}

// Artifact is a loaded model artifact for one label family.
type Artifact struct {
	Family      string       `json:"family"`
	Version     string       `json:"version"`
	Threshold   float64      `json:"threshold"`
	LastTrained time.Time    `json:"last_trained"`
	Labels      []LabelModel `json:"labels"`
}

// Validate checks an artifact for structural problems before use.
func (a *Artifact) Validate() error {
	if a.Family == "" {
		return fmt.Errorf("artifact missing family")
	}
	if a.Version == "" {
		return fmt.Errorf("artifact for %s missing version", a.Family)
	}
	if a.Threshold < 0 || a.Threshold > 1 {
		return fmt.Errorf("artifact for %s has threshold %g outside [0,1]", a.Family, a.Threshold)
	}
	if len(a.Labels) == 0 {
		return fmt.Errorf("artifact for %s has no labels", a.Family)
	}
	return nil
}

// ArtifactStore resolves model artifacts per label family.
type ArtifactStore interface {
	// Load returns the current artifact for a family, or an error when
	// the artifact is missing or unreadable.
	Load(family string) (*Artifact, error)
}

// DirArtifactStore loads model artifacts from a directory. An optional
// {dir}/manifest.json lists ArtifactRefs per family; without one, each
// family's artifact is expected at {dir}/{family}.json.
type DirArtifactStore struct {
	dir string
}

// NewDirArtifactStore creates a directory-backed artifact store.
func NewDirArtifactStore(dir string) *DirArtifactStore {
	return &DirArtifactStore{dir: dir}
}

// Load resolves the family's artifact reference and reads the artifact it
// points at.
func (s *DirArtifactStore) Load(family string) (*Artifact, error) {
	ref, err := s.resolve(family)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(ref.Location) //nolint:gosec // path is operator-configured
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", ref.Location, err)
	}

	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("parse artifact %s: %w", ref.Location, err)
	}
	if artifact.Family == "" {
		artifact.Family = ref.Family
	}
	if artifact.Version == "" {
		artifact.Version = ref.Version
	}
	if artifact.Threshold == 0 {
		artifact.Threshold = ref.ConfidenceThreshold
	}
	if artifact.LastTrained.IsZero() {
		artifact.LastTrained = ref.LastTrained
	}
	if err := artifact.Validate(); err != nil {
		return nil, err
	}
	return &artifact, nil
}

// resolve returns the family's ref from the manifest when one exists, or a
// default ref pointing at {dir}/{family}.json. Relative manifest locations
// resolve against the artifact directory.
func (s *DirArtifactStore) resolve(family string) (*ArtifactRef, error) {
	manifest := filepath.Join(s.dir, "manifest.json")
	data, err := os.ReadFile(manifest) //nolint:gosec // path is operator-configured
	if err != nil {
		if os.IsNotExist(err) {
			return &ArtifactRef{Family: family, Location: filepath.Join(s.dir, family+".json")}, nil
		}
		return nil, fmt.Errorf("read artifact manifest %s: %w", manifest, err)
	}

	var refs []ArtifactRef
	if err := json.Unmarshal(data, &refs); err != nil {
		return nil, fmt.Errorf("parse artifact manifest %s: %w", manifest, err)
	}
	for i := range refs {
		if refs[i].Family != family {
			continue
		}
		ref := refs[i]
		if ref.Location == "" {
			ref.Location = family + ".json"
		}
		if !filepath.IsAbs(ref.Location) {
			ref.Location = filepath.Join(s.dir, ref.Location)
		}
		return &ref, nil
	}
	return nil, fmt.Errorf("no manifest entry for family %s", family)
}

// StaticArtifactStore serves artifacts from memory. Used by tests and by
// the built-in development models.
type StaticArtifactStore struct {
	artifacts map[string]*Artifact
}

// NewStaticArtifactStore creates a store over the given artifacts.
func NewStaticArtifactStore(artifacts ...*Artifact) *StaticArtifactStore {
	m := make(map[string]*Artifact, len(artifacts))
	for _, a := range artifacts {
		m[a.Family] = a
	}
	return &StaticArtifactStore{artifacts: m}
}

// Load returns the in-memory artifact for a family.
func (s *StaticArtifactStore) Load(family string) (*Artifact, error) {
	a, ok := s.artifacts[family]
	if !ok {
		return nil, fmt.Errorf("no artifact for family %s", family)
	}
	return a, nil
}
