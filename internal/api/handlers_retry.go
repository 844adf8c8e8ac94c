// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/signalpipe/internal/pipeline"
)

// RetryEntryView is the API representation of a queued retry.
type RetryEntryView struct {
	ActivityID    string    `json:"activity_id"`
	TenantID      string    `json:"tenant_id"`
	Platform      string    `json:"platform"`
	OriginalError string    `json:"original_error"`
	LastError     string    `json:"last_error"`
	RetryCount    int       `json:"retry_count"`
	FirstFailure  time.Time `json:"first_failure"`
	LastFailure   time.Time `json:"last_failure"`
	NextRetry     time.Time `json:"next_retry"`
	Category      string    `json:"category"`
}

// RetryStatsView is the API representation of queue statistics.
type RetryStatsView struct {
	Depth             int            `json:"depth"`
	TotalAdded        int64          `json:"total_added"`
	TotalRemoved      int64          `json:"total_removed"`
	TotalAttempts     int64          `json:"total_attempts"`
	TotalExpired      int64          `json:"total_expired"`
	OldestEntryAge    *int64         `json:"oldest_entry_age_seconds,omitempty"`
	EntriesByCategory map[string]int `json:"entries_by_category"`
}

// RetryList handles GET /api/v1/retries. Entries are ordered oldest first.
func (router *Router) RetryList(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	limit := parseLimit(r, 100)

	entries := router.pipeline.RetryEntries()
	views := make([]RetryEntryView, 0, len(entries))
	for i := range entries {
		view := convertRetryEntry(&entries[i])
		if category != "" && view.Category != category {
			continue
		}
		views = append(views, view)
		if len(views) == limit {
			break
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": views,
		"total":   len(views),
	})
}

// RetryGet handles GET /api/v1/retries/{id}.
func (router *Router) RetryGet(w http.ResponseWriter, r *http.Request) {
	activityID := chi.URLParam(r, "id")
	entry := router.pipeline.RetryEntry(activityID)
	if entry == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "retry entry not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, convertRetryEntry(entry))
}

// RetryDrop handles DELETE /api/v1/retries/{id}. The activity stays
// unprocessed; a future batch picks it up fresh.
func (router *Router) RetryDrop(w http.ResponseWriter, r *http.Request) {
	activityID := chi.URLParam(r, "id")
	if !router.pipeline.DropRetry(activityID) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "retry entry not found", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RetryNow handles POST /api/v1/retries/{id}/retry. Reprocesses the entry
// immediately, ignoring its backoff.
func (router *Router) RetryNow(w http.ResponseWriter, r *http.Request) {
	activityID := chi.URLParam(r, "id")
	outcome, err := router.pipeline.RetryNow(r.Context(), activityID)
	if err != nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "retry entry not found", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"outcome": outcome})
}

// RetryCleanup handles POST /api/v1/retries/cleanup. Evicts entries past
// the retention window.
func (router *Router) RetryCleanup(w http.ResponseWriter, _ *http.Request) {
	removed := router.pipeline.CleanupRetries()
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// RetryStats handles GET /api/v1/retries/stats.
func (router *Router) RetryStats(w http.ResponseWriter, _ *http.Request) {
	stats := router.pipeline.RetryStats()

	view := RetryStatsView{
		Depth:             stats.Depth,
		TotalAdded:        stats.TotalAdded,
		TotalRemoved:      stats.TotalRemoved,
		TotalAttempts:     stats.TotalAttempts,
		TotalExpired:      stats.TotalExpired,
		EntriesByCategory: stats.EntriesByCategory,
	}
	if !stats.OldestEntry.IsZero() {
		age := int64(time.Since(stats.OldestEntry).Seconds())
		view.OldestEntryAge = &age
	}
	writeJSON(w, http.StatusOK, view)
}

func convertRetryEntry(entry *pipeline.RetryEntry) RetryEntryView {
	return RetryEntryView{
		ActivityID:    entry.Activity.ID,
		TenantID:      entry.Activity.TenantID,
		Platform:      string(entry.Activity.Platform),
		OriginalError: entry.OriginalError,
		LastError:     entry.LastError,
		RetryCount:    entry.RetryCount,
		FirstFailure:  entry.FirstFailure,
		LastFailure:   entry.LastFailure,
		NextRetry:     entry.NextRetry,
		Category:      entry.Category.String(),
	}
}
