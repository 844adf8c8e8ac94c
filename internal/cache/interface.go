// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

// Package cache provides the cache gateway: a thin wrapper over a key/value
// store with TTL-bearing writes. It backs the embedding cache, per-activity
// processing claims, and the clustering lock.
//
// All operations are single-key and safe for concurrent use without
// app-level locking.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("cache: key not found")

// Store is the key/value cache store contract. Implementations must make
// single-key operations safe for concurrent use.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// SetWithTTL stores value under key; the entry expires after ttl.
	// A ttl of zero stores the entry without expiration.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// SetIfAbsent stores value under key only if the key does not exist.
	// Returns true if the value was stored. Used for claims and locks.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Close releases underlying resources.
	Close() error
}

// Key patterns. The embedding key layout is part of the external interface
// and must not change without a migration.
const (
	embeddingKeyPrefix   = "signal:embedding:"
	claimKeyPrefix       = "signal:claim:"
	clusterLockKeyPrefix = "signal:lock:clustering:"
)

// EmbeddingKey returns the cache key for an activity's embedding entry.
func EmbeddingKey(activityID string) string {
	return embeddingKeyPrefix + activityID
}

// ClaimKey returns the short-lived processing-claim key for an activity.
func ClaimKey(activityID string) string {
	return claimKeyPrefix + activityID
}

// ClusterLockKey returns the per-tenant clustering lock key.
func ClusterLockKey(tenantID string) string {
	return clusterLockKeyPrefix + tenantID
}
