// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

package pipeline

import (
	"container/heap"
	"errors"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/signalpipe/internal/metrics"
	"github.com/tomtom215/signalpipe/internal/models"
)

// RetryEntry is one activity awaiting re-enrichment after a transient
// failure. The activity travels with the entry so retries need no refetch.
type RetryEntry struct {
	Activity      models.Activity
	OriginalError string
	LastError     string
	RetryCount    int
	FirstFailure  time.Time
	LastFailure   time.Time
	NextRetry     time.Time
	Category      ErrorCategory

	heapIndex int
}

// RetryConfig tunes the retry queue.
type RetryConfig struct {
	// MaxRetries bounds attempts before the activity is marked as a
	// terminal failure.
	MaxRetries int

	// MaxEntries caps queue size; the oldest entry is evicted beyond it.
	MaxEntries int

	// RetentionTime is how long exhausted or stale entries are kept
	// before cleanup.
	RetentionTime time.Duration

	// InitialBackoff, MaxBackoff, and BackoffMultiplier shape the
	// exponential backoff between attempts.
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64

	// JitterFraction randomizes backoff by ±fraction to avoid retry
	// stampedes.
	JitterFraction float64

	// RandomSeed makes jitter reproducible in tests. 0 means time-based.
	RandomSeed int64
}

// DefaultRetryConfig returns production defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        5,
		MaxEntries:        10000,
		RetentionTime:     7 * 24 * time.Hour,
		InitialBackoff:    time.Second,
		MaxBackoff:        time.Minute,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
	}
}

// RetryStats is a point-in-time snapshot of queue state.
type RetryStats struct {
	Depth             int
	TotalAdded        int64
	TotalRemoved      int64
	TotalAttempts     int64
	TotalExpired      int64
	OldestEntry       time.Time
	EntriesByCategory map[string]int
}

// RetryQueue holds activities pending retry, ordered by first failure so
// eviction and retention cleanup pop the oldest entries first.
type RetryQueue struct {
	cfg RetryConfig

	mu      sync.Mutex
	byID    map[string]*RetryEntry
	ordered retryHeap

	totalAdded    int64
	totalRemoved  int64
	totalAttempts int64
	totalExpired  int64

	rng *rand.Rand
}

// NewRetryQueue creates a retry queue.
func NewRetryQueue(cfg RetryConfig) (*RetryQueue, error) {
	if cfg.MaxRetries <= 0 {
		return nil, errors.New("max retries must be positive")
	}
	if cfg.MaxEntries <= 0 {
		return nil, errors.New("max entries must be positive")
	}
	if cfg.InitialBackoff <= 0 {
		return nil, errors.New("initial backoff must be positive")
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = cfg.InitialBackoff * 64
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2.0
	}
	if cfg.JitterFraction <= 0 || cfg.JitterFraction > 1.0 {
		cfg.JitterFraction = 0.1
	}

	seed := cfg.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RetryQueue{
		cfg:  cfg,
		byID: make(map[string]*RetryEntry),
		//nolint:gosec // G404: non-cryptographic jitter
		rng: rand.New(rand.NewSource(seed)),
	}, nil
}

// Add enqueues a failed activity. Re-adding an already-queued activity
// updates its failure details instead of duplicating it. Returns the entry.
func (q *RetryQueue) Add(activity *models.Activity, cause error) *RetryEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	if existing, ok := q.byID[activity.ID]; ok {
		existing.LastError = cause.Error()
		existing.LastFailure = now
		return existing
	}

	entry := &RetryEntry{
		Activity:      *activity,
		OriginalError: cause.Error(),
		LastError:     cause.Error(),
		FirstFailure:  now,
		LastFailure:   now,
		NextRetry:     now.Add(q.backoffLocked(0)),
		Category:      Category(cause),
	}

	if len(q.byID) >= q.cfg.MaxEntries {
		q.evictOldestLocked()
	}

	q.byID[activity.ID] = entry
	heap.Push(&q.ordered, entry)
	q.totalAdded++

	metrics.RetryQueueEntries.WithLabelValues(entry.Category.String()).Inc()
	metrics.RetryQueueDepth.Set(float64(len(q.byID)))
	return entry
}

// Get returns the entry for an activity id, or nil.
func (q *RetryQueue) Get(activityID string) *RetryEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.byID[activityID]
}

// RecordFailure bumps the retry count after another failed attempt and
// reschedules. Returns false when the attempt budget is exhausted; the
// caller then marks the activity as a terminal failure and removes it.
func (q *RetryQueue) RecordFailure(activityID string, cause error) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.byID[activityID]
	if !ok {
		return false
	}

	entry.RetryCount++
	entry.LastError = cause.Error()
	entry.LastFailure = time.Now()
	entry.NextRetry = entry.LastFailure.Add(q.backoffLocked(entry.RetryCount))
	q.totalAttempts++

	more := entry.RetryCount < q.cfg.MaxRetries
	if more {
		metrics.RetryAttempts.WithLabelValues("failure").Inc()
	} else {
		metrics.RetryAttempts.WithLabelValues("exhausted").Inc()
	}
	return more
}

// Remove drops an entry after a successful retry or terminal failure.
func (q *RetryQueue) Remove(activityID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(activityID)
}

func (q *RetryQueue) removeLocked(activityID string) bool {
	entry, ok := q.byID[activityID]
	if !ok {
		return false
	}
	heap.Remove(&q.ordered, entry.heapIndex)
	delete(q.byID, activityID)
	q.totalRemoved++
	metrics.RetryQueueDepth.Set(float64(len(q.byID)))
	return true
}

// Due returns entries whose backoff has elapsed and that still have
// attempts left.
func (q *RetryQueue) Due(now time.Time) []*RetryEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []*RetryEntry
	for _, entry := range q.byID {
		if entry.RetryCount < q.cfg.MaxRetries && !entry.NextRetry.After(now) {
			due = append(due, entry)
		}
	}
	return due
}

// List returns copies of all queued entries for inspection, ordered by
// first failure (oldest first).
func (q *RetryQueue) List() []RetryEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]RetryEntry, 0, len(q.byID))
	for _, entry := range q.byID {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FirstFailure.Before(out[j].FirstFailure)
	})
	return out
}

// Cleanup evicts entries older than the retention window. Returns how
// many were removed.
func (q *RetryQueue) Cleanup() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := time.Now().Add(-q.cfg.RetentionTime)
	removed := 0
	for len(q.ordered) > 0 && q.ordered[0].FirstFailure.Before(cutoff) {
		oldest := q.ordered[0]
		q.removeLocked(oldest.Activity.ID)
		q.totalExpired++
		removed++
	}
	return removed
}

// Stats returns a snapshot of queue state.
func (q *RetryQueue) Stats() RetryStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := RetryStats{
		Depth:             len(q.byID),
		TotalAdded:        q.totalAdded,
		TotalRemoved:      q.totalRemoved,
		TotalAttempts:     q.totalAttempts,
		TotalExpired:      q.totalExpired,
		EntriesByCategory: make(map[string]int),
	}
	for _, entry := range q.byID {
		stats.EntriesByCategory[entry.Category.String()]++
		if stats.OldestEntry.IsZero() || entry.FirstFailure.Before(stats.OldestEntry) {
			stats.OldestEntry = entry.FirstFailure
		}
	}
	return stats
}

// evictOldestLocked drops the entry with the earliest first failure.
func (q *RetryQueue) evictOldestLocked() {
	if len(q.ordered) == 0 {
		return
	}
	oldest := q.ordered[0]
	q.removeLocked(oldest.Activity.ID)
	q.totalExpired++
}

// backoffLocked computes the jittered exponential backoff for an attempt.
func (q *RetryQueue) backoffLocked(retryCount int) time.Duration {
	backoff := float64(q.cfg.InitialBackoff) * math.Pow(q.cfg.BackoffMultiplier, float64(retryCount))
	if backoff > float64(q.cfg.MaxBackoff) {
		backoff = float64(q.cfg.MaxBackoff)
	}
	jitter := backoff * q.cfg.JitterFraction * (q.rng.Float64()*2 - 1)
	return time.Duration(backoff + jitter)
}

// retryHeap orders entries by first failure, oldest at the root.
type retryHeap []*RetryEntry

func (h retryHeap) Len() int            { return len(h) }
func (h retryHeap) Less(i, j int) bool  { return h[i].FirstFailure.Before(h[j].FirstFailure) }
func (h retryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].heapIndex = i; h[j].heapIndex = j }
func (h *retryHeap) Push(x any)         { e := x.(*RetryEntry); e.heapIndex = len(*h); *h = append(*h, e) }
func (h *retryHeap) Pop() any           { old := *h; n := len(old); e := old[n-1]; old[n-1] = nil; *h = old[:n-1]; return e }
