// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

package pipeline

import (
	"sync"
	"time"
)

// RunTrigger records what started a batch run.
type RunTrigger string

// Run triggers.
const (
	TriggerScheduled RunTrigger = "scheduled"
	TriggerManual    RunTrigger = "manual"
	TriggerRetry     RunTrigger = "retry"
)

// BatchOutcome counts per-activity results of one run. A batch never has
// a single pass/fail verdict; the counts are the outcome.
type BatchOutcome struct {
	Fetched   int `json:"fetched"`
	Succeeded int `json:"succeeded"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// RunRecord is one completed (or failed-to-start) batch run.
type RunRecord struct {
	ID         string       `json:"id"`
	Trigger    RunTrigger   `json:"trigger"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Outcome    BatchOutcome `json:"outcome"`
	Error      string       `json:"error,omitempty"`
}

// Status is the queryable orchestrator state.
type Status struct {
	Running      bool        `json:"running"`
	CurrentRun   string      `json:"current_run,omitempty"`
	NextRun      time.Time   `json:"next_run"`
	LastRuns     []RunRecord `json:"last_runs"`
	RetryDepth   int         `json:"retry_depth"`
	FailedCounts int64       `json:"retries_exhausted"`
}

// runHistory keeps the most recent run records, newest first.
type runHistory struct {
	mu      sync.Mutex
	records []RunRecord
	limit   int
}

func newRunHistory(limit int) *runHistory {
	if limit <= 0 {
		limit = 50
	}
	return &runHistory{limit: limit}
}

func (h *runHistory) add(rec RunRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records = append([]RunRecord{rec}, h.records...)
	if len(h.records) > h.limit {
		h.records = h.records[:h.limit]
	}
}

func (h *runHistory) get(id string) (RunRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.records {
		if h.records[i].ID == id {
			return h.records[i], true
		}
	}
	return RunRecord{}, false
}

func (h *runHistory) list() []RunRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]RunRecord, len(h.records))
	copy(out, h.records)
	return out
}
