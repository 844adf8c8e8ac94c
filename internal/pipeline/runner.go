// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/signalpipe/internal/cache"
	"github.com/tomtom215/signalpipe/internal/dedup"
	"github.com/tomtom215/signalpipe/internal/metrics"
	"github.com/tomtom215/signalpipe/internal/models"
	"github.com/tomtom215/signalpipe/internal/scoring"
)

// Enrichment steps, in state machine order.
const (
	StepFetch           = "fetch"
	StepResolveIdentity = "resolve_identity"
	StepEmbed           = "embed"
	StepDedupCheck      = "dedup_check"
	StepClassify        = "classify"
	StepScore           = "score"
	StepPersist         = "persist"
	StepIndex           = "index"
)

// WatermarkName is the watermark key tracking the newest enriched
// activity timestamp.
const WatermarkName = "pipeline"

// ErrRunInFlight is returned when a batch is requested while another run
// holds the run slot.
var ErrRunInFlight = errors.New("a batch run is already in flight")

// Storage is the persistence surface the orchestrator needs. The DuckDB
// store implements it.
type Storage interface {
	FetchUnprocessed(ctx context.Context, limit int) ([]models.Activity, error)
	MarkProcessed(ctx context.Context, activityID string, at time.Time) error
	MarkError(ctx context.Context, activityID, reason string) error
	UpsertSignal(ctx context.Context, sig *models.EnrichedSignal) error
	RecentSignals(ctx context.Context, tenantID string, since time.Time) ([]models.EnrichedSignal, error)
	Centroids(ctx context.Context, tenantID string) ([][]float32, error)
	Watermark(ctx context.Context, name string) (time.Time, error)
	SetWatermark(ctx context.Context, name string, value time.Time) error
}

// TextEmbedder produces the embedding for an activity's text.
type TextEmbedder interface {
	Embed(ctx context.Context, activityID, text string) ([]float32, error)
}

// Classifier predicts the label families for an activity.
type Classifier interface {
	Classify(activity *models.Activity) (models.ClassificationResult, error)
}

// MemberResolver maps an activity author to a member id, nil when
// unresolved.
type MemberResolver interface {
	Resolve(ctx context.Context, activity *models.Activity) (*string, error)
}

// Scorer computes the multi-factor scores for a signal.
type Scorer interface {
	Score(sig *models.EnrichedSignal, window *scoring.Window) models.Scores
}

// Indexer maintains the search index over enriched signals.
type Indexer interface {
	Upsert(ctx context.Context, sig *models.EnrichedSignal, title, body string) error
}

// Config tunes the orchestrator.
type Config struct {
	// Cron is the recurring cadence, 5-field syntax.
	Cron string

	// BatchSize is how many unprocessed activities one run pulls.
	BatchSize int

	// Workers bounds per-activity parallelism inside a run.
	Workers int

	// StepTimeout is the per-step, per-activity timeout.
	StepTimeout time.Duration

	// ClaimTTL bounds the per-activity processing claim.
	ClaimTTL time.Duration

	// LookbackWindow bounds the scoring window.
	LookbackWindow time.Duration

	// TotalPlatforms is the number of connected platforms, the
	// cross-platform score denominator.
	TotalPlatforms int

	// RetryInterval is how often the retry worker drains due entries.
	RetryInterval time.Duration

	// Retry tunes the retry queue.
	Retry RetryConfig
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Cron:           "*/15 * * * *",
		BatchSize:      200,
		Workers:        8,
		StepTimeout:    30 * time.Second,
		ClaimTTL:       2 * time.Minute,
		LookbackWindow: 7 * 24 * time.Hour,
		TotalPlatforms: 4,
		RetryInterval:  30 * time.Second,
		Retry:          DefaultRetryConfig(),
	}
}

// Orchestrator drives activities through the enrichment state machine.
type Orchestrator struct {
	cfg      Config
	schedule *Schedule

	storage    Storage
	embedder   TextEmbedder
	classifier Classifier
	resolver   MemberResolver
	scorer     Scorer
	indexer    Indexer
	claims     cache.Store

	signatures *dedup.Engine
	lsh        *dedup.LSHIndex

	retries *RetryQueue
	history *runHistory
	logger  zerolog.Logger
	ownerID string

	schedCh chan struct{}

	mu             sync.Mutex
	running        bool
	cancelRun      context.CancelFunc
	currentRunID   string
	currentTrigger RunTrigger
	currentStart   time.Time
	nextRun        time.Time
	exhausted      int64
}

// NewOrchestrator wires the orchestrator. All dependencies are required
// except the indexer, which may be nil when indexing is disabled.
func NewOrchestrator(
	cfg Config,
	storage Storage,
	embedder TextEmbedder,
	classifier Classifier,
	resolver MemberResolver,
	scorer Scorer,
	indexer Indexer,
	claims cache.Store,
	signatures *dedup.Engine,
	lsh *dedup.LSHIndex,
	logger zerolog.Logger,
) (*Orchestrator, error) {
	def := DefaultConfig()
	if cfg.Cron == "" {
		cfg.Cron = def.Cron
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = def.StepTimeout
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = def.ClaimTTL
	}
	if cfg.LookbackWindow <= 0 {
		cfg.LookbackWindow = def.LookbackWindow
	}
	if cfg.TotalPlatforms <= 0 {
		cfg.TotalPlatforms = def.TotalPlatforms
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = def.Retry
	}

	schedule, err := ParseSchedule(cfg.Cron)
	if err != nil {
		return nil, fmt.Errorf("parse pipeline cron %q: %w", cfg.Cron, err)
	}
	retries, err := NewRetryQueue(cfg.Retry)
	if err != nil {
		return nil, fmt.Errorf("create retry queue: %w", err)
	}

	return &Orchestrator{
		cfg:        cfg,
		schedule:   schedule,
		storage:    storage,
		embedder:   embedder,
		classifier: classifier,
		resolver:   resolver,
		scorer:     scorer,
		indexer:    indexer,
		claims:     claims,
		signatures: signatures,
		lsh:        lsh,
		retries:    retries,
		schedCh:    make(chan struct{}, 1),
		history:    newRunHistory(50),
		logger:     logger.With().Str("component", "pipeline").Logger(),
		ownerID:    uuid.NewString(),
	}, nil
}

// acquireRun takes the single run slot, recording the run's identity for
// status and cancellation. Returns false when another run holds it.
func (o *Orchestrator) acquireRun(parent context.Context, runID string, trigger RunTrigger) (context.Context, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return nil, false
	}
	ctx, cancel := context.WithCancel(parent)
	o.running = true
	o.cancelRun = cancel
	o.currentRunID = runID
	o.currentTrigger = trigger
	o.currentStart = time.Now()
	return ctx, true
}

func (o *Orchestrator) releaseRun() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancelRun != nil {
		o.cancelRun()
	}
	o.running = false
	o.cancelRun = nil
	o.currentRunID = ""
}

// ProcessBatch runs one batch synchronously: fetch up to size unprocessed
// activities and drive each through the state machine with the worker
// pool. Per-item failures are isolated; the batch itself only errors when
// the fetch fails or another run already holds the run slot.
func (o *Orchestrator) ProcessBatch(ctx context.Context, trigger RunTrigger, size int) (BatchOutcome, error) {
	runID := uuid.NewString()
	runCtx, ok := o.acquireRun(ctx, runID, trigger)
	if !ok {
		return BatchOutcome{}, ErrRunInFlight
	}
	defer o.releaseRun()
	return o.executeBatch(runCtx, trigger, size, runID)
}

// executeBatch is the batch body; the caller owns the run slot.
func (o *Orchestrator) executeBatch(ctx context.Context, trigger RunTrigger, size int, runID string) (BatchOutcome, error) {
	if size <= 0 {
		size = o.cfg.BatchSize
	}
	start := time.Now()
	defer func() {
		metrics.PipelineBatchDuration.Observe(time.Since(start).Seconds())
	}()

	stepStart := time.Now()
	activities, err := o.storage.FetchUnprocessed(ctx, size)
	metrics.ObserveStep(StepFetch, stepStart)
	if err != nil {
		metrics.RecordStepError(StepFetch, ErrorCategoryBackend.String())
		rec := RunRecord{
			ID: runID, Trigger: trigger, StartedAt: start,
			FinishedAt: time.Now(), Error: err.Error(),
		}
		o.history.add(rec)
		return BatchOutcome{}, fmt.Errorf("fetch batch: %w", err)
	}

	outcome := o.processAll(ctx, activities)
	outcome.Fetched = len(activities)

	o.advanceWatermark(ctx, activities)

	rec := RunRecord{
		ID: runID, Trigger: trigger, StartedAt: start,
		FinishedAt: time.Now(), Outcome: outcome,
	}
	o.history.add(rec)
	o.logger.Info().
		Str("run_id", runID).
		Str("trigger", string(trigger)).
		Int("fetched", outcome.Fetched).
		Int("succeeded", outcome.Succeeded).
		Int("retried", outcome.Retried).
		Int("failed", outcome.Failed).
		Int("skipped", outcome.Skipped).
		Dur("duration", time.Since(start)).
		Msg("batch complete")
	return outcome, nil
}

// processAll fans activities out over the worker pool and aggregates
// per-activity outcomes.
func (o *Orchestrator) processAll(ctx context.Context, activities []models.Activity) BatchOutcome {
	var (
		mu      sync.Mutex
		outcome BatchOutcome
	)

	jobs := make(chan *models.Activity)
	var wg sync.WaitGroup
	for w := 0; w < o.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for activity := range jobs {
				result := o.processActivity(ctx, activity)
				metrics.RecordOutcome(result)

				mu.Lock()
				switch result {
				case "succeeded":
					outcome.Succeeded++
				case "retried":
					outcome.Retried++
				case "failed":
					outcome.Failed++
				default:
					outcome.Skipped++
				}
				mu.Unlock()
			}
		}()
	}

	for i := range activities {
		// Cancellation stops dispatch; in-flight items complete.
		if ctx.Err() != nil {
			break
		}
		jobs <- &activities[i]
	}
	close(jobs)
	wg.Wait()
	return outcome
}

// processActivity drives one activity through the state machine and
// returns its outcome: succeeded, retried, failed, or skipped.
func (o *Orchestrator) processActivity(ctx context.Context, activity *models.Activity) string {
	claimed, err := cache.ClaimActivity(ctx, o.claims, activity.ID, o.ownerID, o.cfg.ClaimTTL)
	if err != nil {
		o.logger.Warn().Err(err).Str("activity_id", activity.ID).Msg("claim check failed, skipping")
		return "skipped"
	}
	if !claimed {
		return "skipped"
	}
	defer func() {
		if err := cache.ReleaseClaim(context.WithoutCancel(ctx), o.claims, activity.ID); err != nil {
			o.logger.Debug().Err(err).Str("activity_id", activity.ID).Msg("claim release failed")
		}
	}()

	if err := o.enrich(ctx, activity); err != nil {
		return o.handleFailure(ctx, activity, err)
	}

	// A successful pass clears any pending retry entry.
	o.retries.Remove(activity.ID)
	return "succeeded"
}

// enrich runs the per-activity steps in order, honoring cancellation
// between steps and the per-step timeout within each.
func (o *Orchestrator) enrich(ctx context.Context, activity *models.Activity) error {
	now := time.Now().UTC()
	sig := &models.EnrichedSignal{
		ActivityID: activity.ID,
		TenantID:   activity.TenantID,
		Platform:   activity.Platform,
		ThreadID:   activity.ThreadID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	steps := []struct {
		name string
		fn   func(context.Context, *models.Activity, *models.EnrichedSignal) error
	}{
		{StepResolveIdentity, o.stepResolveIdentity},
		{StepEmbed, o.stepEmbed},
		{StepDedupCheck, o.stepDedupCheck},
		{StepClassify, o.stepClassify},
		{StepScore, o.stepScore},
		{StepPersist, o.stepPersist},
		{StepIndex, o.stepIndex},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return NewRetryableError("run canceled between steps", err)
		}

		stepCtx, cancel := context.WithTimeout(ctx, o.cfg.StepTimeout)
		start := time.Now()
		err := step.fn(stepCtx, activity, sig)
		cancel()
		metrics.ObserveStep(step.name, start)

		if err != nil {
			metrics.RecordStepError(step.name, Category(err).String())
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}
	return nil
}

func (o *Orchestrator) stepResolveIdentity(ctx context.Context, activity *models.Activity, sig *models.EnrichedSignal) error {
	memberID, err := o.resolver.Resolve(ctx, activity)
	if err != nil {
		return NewRetryableError("identity directory unavailable", err)
	}
	sig.MemberID = memberID
	return nil
}

func (o *Orchestrator) stepEmbed(ctx context.Context, activity *models.Activity, sig *models.EnrichedSignal) error {
	vec, err := o.embedder.Embed(ctx, activity.ID, activity.Text())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return NewRetryableError("embedding backend timeout", err)
		}
		return NewRetryableError("embedding backend failed", err)
	}
	sig.Embedding = vec
	return nil
}

func (o *Orchestrator) stepDedupCheck(_ context.Context, activity *models.Activity, sig *models.EnrichedSignal) error {
	sig.Signature = o.signatures.Signature(activity.Text())

	if dupID := o.lsh.FindDuplicate(sig.Signature); dupID != "" && dupID != activity.ID {
		sig.IsDuplicateOf = &dupID
		metrics.DedupDuplicatesFlagged.Inc()
		o.logger.Debug().
			Str("activity_id", activity.ID).
			Str("duplicate_of", dupID).
			Msg("near-duplicate flagged")
		return nil
	}
	o.lsh.Add(activity.ID, sig.Signature)
	return nil
}

func (o *Orchestrator) stepClassify(_ context.Context, activity *models.Activity, sig *models.EnrichedSignal) error {
	// Duplicates inherit nothing: they are stored flagged and excluded
	// downstream, so classification effort is wasted on them.
	if sig.IsDuplicate() {
		return nil
	}
	result, err := o.classifier.Classify(activity)
	if err != nil {
		return NewRetryableError("classification degraded", err)
	}
	sig.Classification = result
	return nil
}

func (o *Orchestrator) stepScore(ctx context.Context, activity *models.Activity, sig *models.EnrichedSignal) error {
	if sig.IsDuplicate() {
		return nil
	}

	since := time.Now().Add(-o.cfg.LookbackWindow)
	recent, err := o.storage.RecentSignals(ctx, activity.TenantID, since)
	if err != nil {
		return NewRetryableError("scoring window fetch failed", err)
	}
	centroids, err := o.storage.Centroids(ctx, activity.TenantID)
	if err != nil {
		return NewRetryableError("centroid fetch failed", err)
	}

	window := &scoring.Window{
		Now:            time.Now(),
		Centroids:      centroids,
		TotalPlatforms: o.cfg.TotalPlatforms,
		Recent:         make([]scoring.WindowSignal, 0, len(recent)),
	}
	for i := range recent {
		r := &recent[i]
		window.Recent = append(window.Recent, scoring.WindowSignal{
			ActivityID:  r.ActivityID,
			ThreadID:    r.ThreadID,
			Platform:    r.Platform,
			Timestamp:   r.CreatedAt,
			Embedding:   r.Embedding,
			IsDuplicate: r.IsDuplicate(),
		})
	}

	sig.Scores = o.scorer.Score(sig, window)
	return nil
}

func (o *Orchestrator) stepPersist(ctx context.Context, activity *models.Activity, sig *models.EnrichedSignal) error {
	sig.UpdatedAt = time.Now().UTC()
	if err := o.storage.UpsertSignal(ctx, sig); err != nil {
		return NewRetryableError("signal upsert failed", err)
	}
	if err := o.storage.MarkProcessed(ctx, activity.ID, sig.UpdatedAt); err != nil {
		return NewRetryableError("processed marker write failed", err)
	}
	return nil
}

func (o *Orchestrator) stepIndex(ctx context.Context, activity *models.Activity, sig *models.EnrichedSignal) error {
	if o.indexer == nil {
		return nil
	}
	if err := o.indexer.Upsert(ctx, sig, activity.Title, activity.Body); err != nil {
		return NewRetryableError("index upsert failed", err)
	}
	return nil
}

// handleFailure routes a per-activity error: permanent failures are
// marked terminal immediately; retryable ones go to the retry queue until
// the attempt budget runs out.
func (o *Orchestrator) handleFailure(ctx context.Context, activity *models.Activity, err error) string {
	logCtx := o.logger.With().Str("activity_id", activity.ID).Logger()

	if IsPermanent(err) {
		o.markTerminal(ctx, activity.ID, err)
		logCtx.Error().Err(err).Msg("permanent enrichment failure")
		return "failed"
	}

	if entry := o.retries.Get(activity.ID); entry != nil {
		if !o.retries.RecordFailure(activity.ID, err) {
			o.retries.Remove(activity.ID)
			o.markTerminal(ctx, activity.ID, err)
			o.mu.Lock()
			o.exhausted++
			o.mu.Unlock()
			logCtx.Error().Err(err).Int("attempts", entry.RetryCount).
				Msg("retry budget exhausted, activity marked errored")
			return "failed"
		}
		logCtx.Warn().Err(err).Int("attempts", entry.RetryCount).
			Time("next_retry", entry.NextRetry).Msg("enrichment failed, retry rescheduled")
		return "retried"
	}

	entry := o.retries.Add(activity, err)
	logCtx.Warn().Err(err).Time("next_retry", entry.NextRetry).
		Msg("enrichment failed, queued for retry")
	return "retried"
}

func (o *Orchestrator) markTerminal(ctx context.Context, activityID string, cause error) {
	if err := o.storage.MarkError(context.WithoutCancel(ctx), activityID, cause.Error()); err != nil {
		o.logger.Error().Err(err).Str("activity_id", activityID).Msg("failed to record terminal error")
	}
}

// advanceWatermark moves the watermark to the newest activity timestamp
// in the batch. Best effort; the processed markers carry correctness.
func (o *Orchestrator) advanceWatermark(ctx context.Context, activities []models.Activity) {
	var newest time.Time
	for i := range activities {
		if activities[i].Timestamp.After(newest) {
			newest = activities[i].Timestamp
		}
	}
	if newest.IsZero() {
		return
	}
	current, err := o.storage.Watermark(ctx, WatermarkName)
	if err == nil && newest.After(current) {
		if err := o.storage.SetWatermark(ctx, WatermarkName, newest); err != nil {
			o.logger.Warn().Err(err).Msg("watermark advance failed")
		}
	}
}

// TriggerBatch starts an on-demand batch in the background. Returns the
// run id, or false when a run is already in flight.
func (o *Orchestrator) TriggerBatch(size int) (string, bool) {
	runID := uuid.NewString()
	ctx, ok := o.acquireRun(context.Background(), runID, TriggerManual)
	if !ok {
		return "", false
	}

	go func() {
		defer o.releaseRun()
		if _, err := o.executeBatch(ctx, TriggerManual, size, runID); err != nil {
			o.logger.Error().Err(err).Msg("manual batch failed")
		}
	}()
	return runID, true
}

// CancelRun cancels the in-flight run, if any. In-flight items complete;
// remaining items stay unprocessed for the next run.
func (o *Orchestrator) CancelRun() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancelRun == nil {
		return false
	}
	o.cancelRun()
	return true
}

// CancelRunByID cancels the in-flight run only when its id matches.
func (o *Orchestrator) CancelRunByID(runID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancelRun == nil || o.currentRunID != runID {
		return false
	}
	o.cancelRun()
	return true
}

// Run returns the record of a finished run, or a partial record for the
// in-flight one.
func (o *Orchestrator) Run(runID string) (RunRecord, bool) {
	if rec, ok := o.history.get(runID); ok {
		return rec, true
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running && o.currentRunID == runID {
		return RunRecord{ID: runID, Trigger: o.currentTrigger, StartedAt: o.currentStart}, true
	}
	return RunRecord{}, false
}

// UpdateSchedule replaces the cron cadence. The scheduler wakes and
// recomputes its next fire immediately.
func (o *Orchestrator) UpdateSchedule(cron string) error {
	schedule, err := ParseSchedule(cron)
	if err != nil {
		return fmt.Errorf("parse pipeline cron %q: %w", cron, err)
	}
	o.mu.Lock()
	o.schedule = schedule
	o.cfg.Cron = cron
	o.mu.Unlock()

	select {
	case o.schedCh <- struct{}{}:
	default:
	}
	o.logger.Info().Str("cron", cron).Msg("pipeline schedule updated")
	return nil
}

// Cron returns the active cron expression.
func (o *Orchestrator) Cron() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg.Cron
}

// Status reports orchestrator state for the control surface.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	running := o.running
	currentRun := o.currentRunID
	nextRun := o.nextRun
	exhausted := o.exhausted
	o.mu.Unlock()

	stats := o.retries.Stats()
	metrics.RetryQueueDepth.Set(float64(stats.Depth))

	return Status{
		Running:      running,
		CurrentRun:   currentRun,
		NextRun:      nextRun,
		LastRuns:     o.history.list(),
		RetryDepth:   stats.Depth,
		FailedCounts: exhausted,
	}
}

// RetryStats exposes retry queue statistics.
func (o *Orchestrator) RetryStats() RetryStats {
	return o.retries.Stats()
}

// RetryEntries returns a snapshot of queued retry entries, oldest first.
func (o *Orchestrator) RetryEntries() []RetryEntry {
	return o.retries.List()
}

// RetryEntry returns a copy of one queued entry, or nil.
func (o *Orchestrator) RetryEntry(activityID string) *RetryEntry {
	entry := o.retries.Get(activityID)
	if entry == nil {
		return nil
	}
	snapshot := *entry
	return &snapshot
}

// DropRetry removes an entry from the retry queue without reprocessing.
// The activity stays unprocessed and will be picked up by a future batch.
func (o *Orchestrator) DropRetry(activityID string) bool {
	return o.retries.Remove(activityID)
}

// RetryNow reprocesses a queued entry immediately, ignoring its backoff.
// Returns the per-activity outcome.
func (o *Orchestrator) RetryNow(ctx context.Context, activityID string) (string, error) {
	entry := o.retries.Get(activityID)
	if entry == nil {
		return "", fmt.Errorf("no retry entry for activity %s", activityID)
	}
	activity := entry.Activity
	result := o.processActivity(ctx, &activity)
	if result == "succeeded" {
		metrics.RetryAttempts.WithLabelValues("success").Inc()
	}
	metrics.RecordOutcome(result)
	return result, nil
}

// CleanupRetries evicts retry entries past the retention window.
func (o *Orchestrator) CleanupRetries() int {
	return o.retries.Cleanup()
}

// Schedule returns the parsed cron schedule.
func (o *Orchestrator) Schedule() *Schedule {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.schedule
}

// RunScheduler blocks running scheduled batches until the context ends.
// Suture-compatible: returns the context error on shutdown.
func (o *Orchestrator) RunScheduler(ctx context.Context) error {
	o.logger.Info().Str("cron", o.Cron()).Msg("pipeline scheduler started")
	for {
		o.mu.Lock()
		next := o.schedule.Next(time.Now())
		o.nextRun = next
		o.mu.Unlock()

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-o.schedCh:
			// Cadence changed; recompute the next fire.
			timer.Stop()
			continue
		case <-timer.C:
		}

		if _, err := o.ProcessBatch(ctx, TriggerScheduled, o.cfg.BatchSize); err != nil {
			if errors.Is(err, ErrRunInFlight) {
				o.logger.Warn().Msg("scheduled batch skipped, a run is already in flight")
				continue
			}
			o.logger.Error().Err(err).Msg("scheduled batch failed")
		}
	}
}

// RunRetryWorker blocks draining due retry entries until the context
// ends. Entries are re-enriched through the same state machine; retention
// cleanup runs on the same cadence.
func (o *Orchestrator) RunRetryWorker(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if expired := o.retries.Cleanup(); expired > 0 {
			o.logger.Info().Int("expired", expired).Msg("stale retry entries evicted")
		}

		due := o.retries.Due(time.Now())
		for i := range due {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			activity := due[i].Activity
			result := o.processActivity(ctx, &activity)
			if result == "succeeded" {
				metrics.RetryAttempts.WithLabelValues("success").Inc()
			}
			metrics.RecordOutcome(result)
		}
	}
}
