// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

// Package pipeline is the batch orchestrator: it drives each activity
// through the enrichment state machine, isolates per-item failures,
// schedules retries with backoff, and keeps run history for the status
// surface.
package pipeline

import (
	"errors"
	"strings"
)

// ErrorCategory categorizes failures for retry routing and metrics.
type ErrorCategory int

// Error categories, mirroring the pipeline error taxonomy: transient
// backend trouble, timeouts, malformed data, configuration problems,
// cache/store inconsistency, and contended resources.
const (
	ErrorCategoryUnknown ErrorCategory = iota
	ErrorCategoryBackend
	ErrorCategoryTimeout
	ErrorCategoryData
	ErrorCategoryConfig
	ErrorCategoryConsistency
	ErrorCategoryResource
)

// String returns the metric label for the category.
func (c ErrorCategory) String() string {
	switch c {
	case ErrorCategoryBackend:
		return "backend"
	case ErrorCategoryTimeout:
		return "timeout"
	case ErrorCategoryData:
		return "data"
	case ErrorCategoryConfig:
		return "config"
	case ErrorCategoryConsistency:
		return "consistency"
	case ErrorCategoryResource:
		return "resource"
	default:
		return "unknown"
	}
}

// RetryableError is a transient failure: the activity goes to the retry
// queue and is re-attempted with backoff.
type RetryableError struct {
	Message  string
	Cause    error
	Category ErrorCategory
}

// NewRetryableError creates a retryable error, inferring the category
// from the message when possible.
func NewRetryableError(message string, cause error) *RetryableError {
	return &RetryableError{
		Message:  message,
		Cause:    cause,
		Category: categorize(message),
	}
}

func (e *RetryableError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *RetryableError) Unwrap() error { return e.Cause }

// PermanentError is a non-retryable failure: the activity is marked
// errored and surfaced via status, never re-attempted.
type PermanentError struct {
	Message  string
	Cause    error
	Category ErrorCategory
}

// NewPermanentError creates a permanent error. Unclassifiable permanent
// failures default to the data category.
func NewPermanentError(message string, cause error) *PermanentError {
	category := categorize(message)
	if category == ErrorCategoryUnknown {
		category = ErrorCategoryData
	}
	return &PermanentError{
		Message:  message,
		Cause:    cause,
		Category: category,
	}
}

func (e *PermanentError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *PermanentError) Unwrap() error { return e.Cause }

// IsRetryable reports whether the error chain contains a RetryableError.
func IsRetryable(err error) bool {
	var r *RetryableError
	return errors.As(err, &r)
}

// IsPermanent reports whether the error chain contains a PermanentError.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// Category extracts the category from a typed pipeline error, or Unknown.
func Category(err error) ErrorCategory {
	var r *RetryableError
	if errors.As(err, &r) {
		return r.Category
	}
	var p *PermanentError
	if errors.As(err, &p) {
		return p.Category
	}
	return ErrorCategoryUnknown
}

// categorize infers a category from an error message.
func categorize(message string) ErrorCategory {
	m := strings.ToLower(message)
	switch {
	case containsAny(m, "timeout", "deadline", "timed out"):
		return ErrorCategoryTimeout
	case containsAny(m, "backend", "connection", "refused", "unavailable", "breaker"):
		return ErrorCategoryBackend
	case containsAny(m, "invalid", "malformed", "parse", "decode"):
		return ErrorCategoryData
	case containsAny(m, "artifact", "config", "degraded"):
		return ErrorCategoryConfig
	case containsAny(m, "corrupt", "inconsistent", "mismatch", "stale"):
		return ErrorCategoryConsistency
	case containsAny(m, "lock", "claimed", "contended", "capacity"):
		return ErrorCategoryResource
	default:
		return ErrorCategoryUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
