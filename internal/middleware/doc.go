// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

/*
Package middleware provides HTTP middleware for the control API.

The middleware here is infrastructure only: request ID propagation for
tracing, Prometheus request instrumentation, and gzip compression. Route
composition happens in the api package with Chi's r.Use().

The conventional stack, outermost first:

	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)
	r.Use(middleware.Compression)

RequestID comes first so every downstream log line and metric belongs to a
traceable request.
*/
package middleware
