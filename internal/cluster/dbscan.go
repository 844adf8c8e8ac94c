// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

// Package cluster implements the clustering orchestrator: periodic
// density-based clustering of enriched signal embeddings, per tenant, with
// mutual exclusion and all-or-nothing publication of the new cluster set.
package cluster

import (
	"math"

	"github.com/tomtom215/signalpipe/internal/models"
)

// Noise is the assignment for points that belong to no density cluster.
// It matches the outlier sentinel persisted on signals.
const Noise = models.OutlierClusterID

// DBSCAN assigns a cluster id to every point, or Noise for outliers.
// Distance is cosine distance (1 - cosine similarity); eps is the
// neighborhood radius and minPts the density threshold, counting the point
// itself. Cluster ids are contiguous from 0 and deterministic for a given
// point order.
func DBSCAN(points [][]float32, eps float64, minPts int) []int {
	const unvisited = -2

	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = unvisited
	}

	nextCluster := 0
	for i := range points {
		if labels[i] != unvisited {
			continue
		}

		neighbors := regionQuery(points, i, eps)
		if len(neighbors) < minPts {
			labels[i] = Noise
			continue
		}

		cluster := nextCluster
		nextCluster++
		labels[i] = cluster

		// Expand the cluster breadth-first. Border points claimed as
		// noise earlier are reclaimed; points already in a cluster stay.
		queue := append([]int(nil), neighbors...)
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]

			if labels[j] == Noise {
				labels[j] = cluster
				continue
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = cluster

			jNeighbors := regionQuery(points, j, eps)
			if len(jNeighbors) >= minPts {
				queue = append(queue, jNeighbors...)
			}
		}
	}

	return labels
}

// regionQuery returns the indices within eps cosine distance of point i,
// including i itself.
func regionQuery(points [][]float32, i int, eps float64) []int {
	var neighbors []int
	for j := range points {
		if cosineDistance(points[i], points[j]) <= eps {
			neighbors = append(neighbors, j)
		}
	}
	return neighbors
}

// cosineDistance is 1 minus cosine similarity. Mismatched shapes and zero
// vectors are maximally distant.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// centroid is the arithmetic mean of the given points, L2-normalized so
// centroids compare with cosine like the member embeddings do.
func centroid(points [][]float32) []float32 {
	if len(points) == 0 {
		return nil
	}
	dims := len(points[0])
	sum := make([]float64, dims)
	for _, p := range points {
		for i, v := range p {
			sum[i] += float64(v)
		}
	}

	var norm float64
	for i := range sum {
		sum[i] /= float64(len(points))
		norm += sum[i] * sum[i]
	}
	norm = math.Sqrt(norm)

	out := make([]float32, dims)
	for i := range sum {
		if norm > 0 {
			out[i] = float32(sum[i] / norm)
		}
	}
	return out
}
