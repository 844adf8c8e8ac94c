// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
)

// TriggerRequest is the optional body for POST /api/v1/pipeline/trigger.
type TriggerRequest struct {
	// BatchSize overrides the configured batch size for this run.
	BatchSize int `json:"batch_size,omitempty"`
}

// TriggerResponse reports a started run.
type TriggerResponse struct {
	RunID   string `json:"run_id"`
	Started bool   `json:"started"`
	Message string `json:"message,omitempty"`
}

// HealthLive handles GET /api/v1/health/live. Liveness means the process
// is serving HTTP; no dependencies are checked.
func (router *Router) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReady handles GET /api/v1/health/ready. Readiness requires the
// database to answer.
func (router *Router) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := router.signals.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "NOT_READY", "database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// PipelineTrigger handles POST /api/v1/pipeline/trigger. Starts an
// on-demand batch run in the background; rejected when a run is already
// in flight.
func (router *Router) PipelineTrigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_BODY", "malformed trigger request", err)
			return
		}
	}

	runID, started := router.pipeline.TriggerBatch(req.BatchSize)
	if !started {
		writeJSON(w, http.StatusConflict, TriggerResponse{
			Started: false,
			Message: "a run is already in flight",
		})
		return
	}

	router.logger.Info().Str("run_id", runID).Int("batch_size", req.BatchSize).Msg("manual run triggered")
	writeJSON(w, http.StatusAccepted, TriggerResponse{RunID: runID, Started: true})
}

// PipelineCancel handles POST /api/v1/pipeline/cancel. In-flight items
// complete; remaining items stay unprocessed for the next run.
func (router *Router) PipelineCancel(w http.ResponseWriter, _ *http.Request) {
	if !router.pipeline.CancelRun() {
		respondError(w, http.StatusConflict, "NO_RUN", "no run in flight", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceling"})
}

// PipelineStatus handles GET /api/v1/pipeline/status.
func (router *Router) PipelineStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, router.pipeline.Status())
}

// RunGet handles GET /api/v1/pipeline/runs/{id}. Finished runs come from
// the retained history; the in-flight run returns a partial record with a
// zero finished_at.
func (router *Router) RunGet(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	rec, ok := router.pipeline.Run(runID)
	if !ok {
		respondError(w, http.StatusNotFound, "RUN_NOT_FOUND", "no run with that id", nil)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// RunCancel handles DELETE /api/v1/pipeline/runs/{id}. Cancels only the
// matching in-flight run; finished runs cannot be canceled.
func (router *Router) RunCancel(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if !router.pipeline.CancelRunByID(runID) {
		respondError(w, http.StatusNotFound, "RUN_NOT_FOUND", "no in-flight run with that id", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceling", "run_id": runID})
}

// ScheduleRequest is the body for PUT /api/v1/pipeline/schedule.
type ScheduleRequest struct {
	// Cron is a 5-field cron expression.
	Cron string `json:"cron"`
}

// ScheduleGet handles GET /api/v1/pipeline/schedule.
func (router *Router) ScheduleGet(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"cron": router.pipeline.Cron()})
}

// ScheduleUpdate handles PUT /api/v1/pipeline/schedule. The new cadence
// takes effect immediately; it is not persisted across restarts.
func (router *Router) ScheduleUpdate(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "malformed schedule request", err)
		return
	}
	if err := router.pipeline.UpdateSchedule(req.Cron); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_CRON", "cron expression rejected", err)
		return
	}
	router.logger.Info().Str("cron", req.Cron).Msg("schedule updated")
	writeJSON(w, http.StatusOK, map[string]string{"cron": req.Cron})
}

// FailedActivities handles GET /api/v1/pipeline/failed. Lists activities
// that reached terminal failure, with their recorded reasons.
func (router *Router) FailedActivities(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 100)

	failed, err := router.signals.FailedActivities(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "QUERY_ERROR", "failed to list failed activities", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"failed": failed,
		"total":  len(failed),
	})
}

// ClusterRun handles POST /api/v1/clusters/run. Runs a clustering pass
// synchronously across all tenants; tenants whose lock is held are
// deferred, not failed.
func (router *Router) ClusterRun(w http.ResponseWriter, r *http.Request) {
	if err := router.clusters.Run(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "CLUSTERING_ERROR", "clustering run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

// ClusterList handles GET /api/v1/clusters?tenant=.
func (router *Router) ClusterList(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant")
	if tenantID == "" {
		respondError(w, http.StatusBadRequest, "MISSING_TENANT", "tenant query parameter is required", nil)
		return
	}

	clusters, err := router.signals.Clusters(r.Context(), tenantID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "QUERY_ERROR", "failed to list clusters", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"clusters": clusters,
		"total":    len(clusters),
	})
}

// Search handles GET /api/v1/search?tenant=&q=.
func (router *Router) Search(w http.ResponseWriter, r *http.Request) {
	if router.searcher == nil {
		respondError(w, http.StatusServiceUnavailable, "SEARCH_DISABLED", "indexing is disabled", nil)
		return
	}

	tenantID := r.URL.Query().Get("tenant")
	query := r.URL.Query().Get("q")
	if tenantID == "" || query == "" {
		respondError(w, http.StatusBadRequest, "MISSING_PARAMS", "tenant and q query parameters are required", nil)
		return
	}

	ids, err := router.searcher.Search(r.Context(), tenantID, query, parseLimit(r, 50))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "SEARCH_ERROR", "search failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"activity_ids": ids,
		"total":        len(ids),
	})
}

// SignalGet handles GET /api/v1/signals/{id}.
func (router *Router) SignalGet(w http.ResponseWriter, r *http.Request) {
	activityID := chi.URLParam(r, "id")
	if activityID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "activity ID is required", nil)
		return
	}

	sig, err := router.signals.GetSignal(r.Context(), activityID)
	if err != nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "signal not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

// parseLimit reads the limit query parameter, bounded to [1,1000].
func parseLimit(r *http.Request, fallback int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return fallback
	}
	limit, err := strconv.Atoi(v)
	if err != nil || limit <= 0 || limit > 1000 {
		return fallback
	}
	return limit
}
