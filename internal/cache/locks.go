// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

package cache

import (
	"context"
	"time"
)

// ClaimActivity acquires a short-lived processing claim for an activity id.
// Returns true if the claim was acquired. A held claim means another run is
// currently enriching the same activity; callers skip claimed ids rather
// than block.
func ClaimActivity(ctx context.Context, store Store, activityID, ownerID string, ttl time.Duration) (bool, error) {
	return store.SetIfAbsent(ctx, ClaimKey(activityID), []byte(ownerID), ttl)
}

// ReleaseClaim drops a processing claim after the activity reaches a
// terminal state. Best effort: an expired or missing claim is fine.
func ReleaseClaim(ctx context.Context, store Store, activityID string) error {
	return store.Delete(ctx, ClaimKey(activityID))
}

// AcquireClusterLock takes the per-tenant clustering lock. Cluster
// replacement is not safely concurrent, so only one clustering pass per
// tenant may be in flight; a contending run is deferred, not failed.
func AcquireClusterLock(ctx context.Context, store Store, tenantID, ownerID string, ttl time.Duration) (bool, error) {
	return store.SetIfAbsent(ctx, ClusterLockKey(tenantID), []byte(ownerID), ttl)
}

// ReleaseClusterLock releases the per-tenant clustering lock.
func ReleaseClusterLock(ctx context.Context, store Store, tenantID string) error {
	return store.Delete(ctx, ClusterLockKey(tenantID))
}
