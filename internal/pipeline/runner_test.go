// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/signalpipe/internal/cache"
	"github.com/tomtom215/signalpipe/internal/dedup"
	"github.com/tomtom215/signalpipe/internal/logging"
	"github.com/tomtom215/signalpipe/internal/models"
	"github.com/tomtom215/signalpipe/internal/scoring"
)

// fakeStorage keeps everything in memory and records lifecycle calls.
type fakeStorage struct {
	mu         sync.Mutex
	pending    []models.Activity
	signals    map[string]models.EnrichedSignal
	processed  map[string]time.Time
	errored    map[string]string
	watermarks map[string]time.Time
}

func newFakeStorage(activities ...models.Activity) *fakeStorage {
	return &fakeStorage{
		pending:    activities,
		signals:    make(map[string]models.EnrichedSignal),
		processed:  make(map[string]time.Time),
		errored:    make(map[string]string),
		watermarks: make(map[string]time.Time),
	}
}

func (f *fakeStorage) FetchUnprocessed(_ context.Context, limit int) ([]models.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Activity
	for _, a := range f.pending {
		if _, done := f.processed[a.ID]; done {
			continue
		}
		if _, failed := f.errored[a.ID]; failed {
			continue
		}
		out = append(out, a)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStorage) MarkProcessed(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed[id] = at
	return nil
}

func (f *fakeStorage) MarkError(_ context.Context, id, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errored[id] = reason
	return nil
}

func (f *fakeStorage) UpsertSignal(_ context.Context, sig *models.EnrichedSignal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals[sig.ActivityID] = *sig
	return nil
}

func (f *fakeStorage) RecentSignals(context.Context, string, time.Time) ([]models.EnrichedSignal, error) {
	return nil, nil
}

func (f *fakeStorage) Centroids(context.Context, string) ([][]float32, error) {
	return nil, nil
}

func (f *fakeStorage) Watermark(_ context.Context, name string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watermarks[name], nil
}

func (f *fakeStorage) SetWatermark(_ context.Context, name string, v time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watermarks[name] = v
	return nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, _, text string) ([]float32, error) {
	vec := make([]float32, 8)
	for i, r := range text {
		vec[i%8] += float32(r) / 1000
	}
	return vec, nil
}

// fakeClassifier fails for ids in failIDs with the configured error.
type fakeClassifier struct {
	mu      sync.Mutex
	failIDs map[string]error
	calls   map[string]int
}

func newFakeClassifier() *fakeClassifier {
	return &fakeClassifier{failIDs: make(map[string]error), calls: make(map[string]int)}
}

func (c *fakeClassifier) Classify(a *models.Activity) (models.ClassificationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[a.ID]++
	if err, ok := c.failIDs[a.ID]; ok {
		return models.ClassificationResult{}, err
	}
	return models.ClassificationResult{
		ProductArea: []string{"api"},
		Intent:      []string{"bug_report"},
		Urgency:     models.UrgencyHigh,
		Sentiment:   models.SentimentNegative,
		Confidence:  0.8,
	}, nil
}

type fakeResolver struct{}

func (fakeResolver) Resolve(context.Context, *models.Activity) (*string, error) {
	return nil, nil
}

type fakeScorer struct{}

func (fakeScorer) Score(*models.EnrichedSignal, *scoring.Window) models.Scores {
	return models.Scores{Velocity: 0.1, Actionability: 0.5, Novelty: 1}
}

type fakeIndexer struct {
	mu      sync.Mutex
	upserts map[string]bool
}

func newFakeIndexer() *fakeIndexer { return &fakeIndexer{upserts: make(map[string]bool)} }

func (f *fakeIndexer) Upsert(_ context.Context, sig *models.EnrichedSignal, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts[sig.ActivityID] = !sig.IsDuplicate()
	return nil
}

func testOrchestrator(t *testing.T, storage Storage, classifier Classifier, claims cache.Store) (*Orchestrator, *fakeIndexer) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Workers = 4
	cfg.Retry.RandomSeed = 42

	indexer := newFakeIndexer()
	var buf bytes.Buffer
	o, err := NewOrchestrator(cfg, storage, fakeEmbedder{}, classifier, fakeResolver{}, fakeScorer{},
		indexer, claims, dedup.NewEngine(dedup.DefaultConfig()), dedup.NewLSHIndex(dedup.DefaultLSHConfig()),
		logging.NewTestLogger(&buf))
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return o, indexer
}

func pipelineActivity(id, text string) models.Activity {
	return models.Activity{
		ID:        id,
		TenantID:  "t1",
		Platform:  models.PlatformGitHub,
		Type:      "issue",
		Timestamp: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
		Title:     text,
	}
}

func TestProcessBatch_FailureIsolation(t *testing.T) {
	var activities []models.Activity
	for i := 0; i < 10; i++ {
		activities = append(activities, pipelineActivity(
			fmt.Sprintf("a%d", i),
			fmt.Sprintf("distinct issue number %d about an unrelated subsystem entirely %d", i, i*31),
		))
	}
	storage := newFakeStorage(activities...)
	classifier := newFakeClassifier()
	classifier.failIDs["a4"] = NewRetryableError("classification degraded", errors.New("artifact store down"))

	o, _ := testOrchestrator(t, storage, classifier, cache.NewMemoryStore())
	outcome, err := o.ProcessBatch(context.Background(), TriggerManual, 20)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	if outcome.Succeeded != 9 {
		t.Errorf("expected 9 succeeded, got %+v", outcome)
	}
	if outcome.Retried != 1 {
		t.Errorf("failing item should be retried, not abort the batch: %+v", outcome)
	}
	if outcome.Failed != 0 {
		t.Errorf("no terminal failures expected: %+v", outcome)
	}

	if len(storage.processed) != 9 {
		t.Errorf("9 activities should carry processed markers, got %d", len(storage.processed))
	}
	if _, done := storage.processed["a4"]; done {
		t.Error("failed activity must not be marked processed")
	}
	if o.RetryStats().Depth != 1 {
		t.Errorf("failed activity should be queued for retry, depth %d", o.RetryStats().Depth)
	}
}

func TestProcessBatch_PermanentFailureIsTerminal(t *testing.T) {
	storage := newFakeStorage(pipelineActivity("a1", "some text for the permanent failure case"))
	classifier := newFakeClassifier()
	classifier.failIDs["a1"] = NewPermanentError("malformed activity payload", nil)

	o, _ := testOrchestrator(t, storage, classifier, cache.NewMemoryStore())
	outcome, err := o.ProcessBatch(context.Background(), TriggerManual, 10)
	if err != nil {
		t.Fatal(err)
	}

	if outcome.Failed != 1 {
		t.Errorf("expected 1 terminal failure, got %+v", outcome)
	}
	if storage.errored["a1"] == "" {
		t.Error("terminal failure should be recorded on the activity")
	}
	if o.RetryStats().Depth != 0 {
		t.Error("permanent failures must not enter the retry queue")
	}

	// The errored activity is not refetched.
	outcome, err = o.ProcessBatch(context.Background(), TriggerManual, 10)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Fetched != 0 {
		t.Errorf("errored activity must not be refetched, got %+v", outcome)
	}
}

func TestProcessBatch_DuplicateIsFlaggedAndExcludedFromIndex(t *testing.T) {
	storage := newFakeStorage(
		pipelineActivity("a1", "the search endpoint intermittently returns stale results after reindexing completes"),
		// Identical after normalization: casing and punctuation differ only.
		pipelineActivity("a2", "The search endpoint intermittently returns stale results, after reindexing completes!"),
	)
	o, indexer := testOrchestrator(t, storage, newFakeClassifier(), cache.NewMemoryStore())

	// Two single-item batches so the original is indexed before the
	// duplicate is probed.
	for i := 0; i < 2; i++ {
		outcome, err := o.ProcessBatch(context.Background(), TriggerManual, 1)
		if err != nil {
			t.Fatal(err)
		}
		if outcome.Succeeded != 1 {
			t.Fatalf("batch %d should succeed, got %+v", i, outcome)
		}
	}

	var original, dup models.EnrichedSignal
	for _, sig := range storage.signals {
		if sig.IsDuplicate() {
			dup = sig
		} else {
			original = sig
		}
	}
	if dup.ActivityID == "" {
		t.Fatal("one of the two near-identical activities should be flagged as duplicate")
	}
	if dup.IsDuplicateOf == nil || *dup.IsDuplicateOf != original.ActivityID {
		t.Errorf("duplicate should reference the original, got %+v", dup.IsDuplicateOf)
	}
	if _, done := storage.processed[dup.ActivityID]; !done {
		t.Error("duplicates are persisted and marked processed, not dropped")
	}
	if indexer.upserts[dup.ActivityID] {
		t.Error("duplicate must be excluded from the index")
	}
	if !indexer.upserts[original.ActivityID] {
		t.Error("original should be indexed")
	}
}

func TestProcessActivity_ClaimedIdIsSkipped(t *testing.T) {
	storage := newFakeStorage(pipelineActivity("a1", "claimed elsewhere right now"))
	claims := cache.NewMemoryStore()
	ctx := context.Background()

	held, err := cache.ClaimActivity(ctx, claims, "a1", "another-worker", time.Minute)
	if err != nil || !held {
		t.Fatalf("pre-claim failed: %v %v", held, err)
	}

	o, _ := testOrchestrator(t, storage, newFakeClassifier(), claims)
	outcome, err := o.ProcessBatch(ctx, TriggerManual, 10)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Skipped != 1 {
		t.Errorf("claimed activity should be skipped, got %+v", outcome)
	}
	if len(storage.processed) != 0 {
		t.Error("skipped activity must not be marked processed")
	}
}

func TestRetry_HealedDependencySucceedsOnReattempt(t *testing.T) {
	storage := newFakeStorage(pipelineActivity("a1", "text that will classify fine on the second attempt"))
	classifier := newFakeClassifier()
	classifier.failIDs["a1"] = NewRetryableError("classification degraded", nil)

	o, _ := testOrchestrator(t, storage, classifier, cache.NewMemoryStore())
	if _, err := o.ProcessBatch(context.Background(), TriggerManual, 10); err != nil {
		t.Fatal(err)
	}
	if o.RetryStats().Depth != 1 {
		t.Fatal("expected a queued retry")
	}

	// Dependency heals; reprocess the due entry directly.
	classifier.mu.Lock()
	delete(classifier.failIDs, "a1")
	classifier.mu.Unlock()

	entry := o.retries.Get("a1")
	result := o.processActivity(context.Background(), &entry.Activity)
	if result != "succeeded" {
		t.Fatalf("healed retry should succeed, got %q", result)
	}
	if o.RetryStats().Depth != 0 {
		t.Error("successful retry should clear the queue entry")
	}
	if _, done := storage.processed["a1"]; !done {
		t.Error("retried activity should be marked processed")
	}
}

func TestProcessBatch_ReprocessingIsIdempotent(t *testing.T) {
	storage := newFakeStorage(pipelineActivity("a1", "idempotence check text for the enrichment pass"))
	o, _ := testOrchestrator(t, storage, newFakeClassifier(), cache.NewMemoryStore())
	ctx := context.Background()

	if _, err := o.ProcessBatch(ctx, TriggerManual, 10); err != nil {
		t.Fatal(err)
	}
	first := storage.signals["a1"]

	// Force reprocessing of the same activity.
	result := o.processActivity(ctx, &storage.pending[0])
	if result != "succeeded" {
		t.Fatalf("reprocess should succeed, got %q", result)
	}
	second := storage.signals["a1"]

	if len(storage.signals) != 1 {
		t.Errorf("reprocessing must not create a second signal, got %d", len(storage.signals))
	}
	if second.IsDuplicate() {
		t.Error("an activity must never be flagged as a duplicate of itself")
	}
	if first.ActivityID != second.ActivityID {
		t.Error("upsert key must stay the activity id")
	}
}

func TestTriggerBatch_RejectsConcurrentRuns(t *testing.T) {
	storage := newFakeStorage()
	o, _ := testOrchestrator(t, storage, newFakeClassifier(), cache.NewMemoryStore())

	o.mu.Lock()
	o.running = true
	o.mu.Unlock()

	if _, ok := o.TriggerBatch(10); ok {
		t.Error("trigger should be rejected while a run is in flight")
	}

	o.mu.Lock()
	o.running = false
	o.mu.Unlock()

	if o.CancelRun() {
		t.Error("cancel with no run in flight should report false")
	}
}

func TestUpdateSchedule_SwapsCadence(t *testing.T) {
	o, _ := testOrchestrator(t, newFakeStorage(), newFakeClassifier(), cache.NewMemoryStore())

	if err := o.UpdateSchedule("0 */6 * * *"); err != nil {
		t.Fatalf("UpdateSchedule: %v", err)
	}
	if o.Cron() != "0 */6 * * *" {
		t.Errorf("cron not swapped, got %q", o.Cron())
	}
	next := o.Schedule().Next(time.Date(2026, 2, 1, 1, 30, 0, 0, time.UTC))
	want := time.Date(2026, 2, 1, 6, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next fire: got %v, want %v", next, want)
	}

	if err := o.UpdateSchedule("every tuesday"); err == nil {
		t.Error("invalid cron should be rejected")
	}
	if o.Cron() != "0 */6 * * *" {
		t.Error("rejected update must not change the active cadence")
	}
}

func TestRun_LooksUpFinishedRuns(t *testing.T) {
	storage := newFakeStorage(pipelineActivity("a1", "run lookup check with one activity"))
	o, _ := testOrchestrator(t, storage, newFakeClassifier(), cache.NewMemoryStore())

	if _, err := o.ProcessBatch(context.Background(), TriggerManual, 10); err != nil {
		t.Fatal(err)
	}
	runID := o.Status().LastRuns[0].ID

	rec, ok := o.Run(runID)
	if !ok {
		t.Fatalf("finished run %s should be retrievable", runID)
	}
	if rec.Outcome.Succeeded != 1 {
		t.Errorf("unexpected outcome %+v", rec.Outcome)
	}

	if _, ok := o.Run("no-such-run"); ok {
		t.Error("unknown run id should report not found")
	}
	if o.CancelRunByID(runID) {
		t.Error("finished runs cannot be canceled")
	}
}

func TestStatus_ReportsHistoryAndQueue(t *testing.T) {
	storage := newFakeStorage(pipelineActivity("a1", "status reporting check with one activity"))
	o, _ := testOrchestrator(t, storage, newFakeClassifier(), cache.NewMemoryStore())

	if _, err := o.ProcessBatch(context.Background(), TriggerScheduled, 10); err != nil {
		t.Fatal(err)
	}

	status := o.Status()
	if len(status.LastRuns) != 1 {
		t.Fatalf("expected 1 run record, got %d", len(status.LastRuns))
	}
	rec := status.LastRuns[0]
	if rec.Trigger != TriggerScheduled {
		t.Errorf("expected scheduled trigger, got %s", rec.Trigger)
	}
	if rec.Outcome.Succeeded != 1 {
		t.Errorf("expected 1 success in history, got %+v", rec.Outcome)
	}
	if rec.ID == "" || rec.FinishedAt.Before(rec.StartedAt) {
		t.Error("run record timestamps malformed")
	}
}
