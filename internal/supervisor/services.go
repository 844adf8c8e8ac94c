// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// RunFunc adapts a blocking func(ctx) error into a suture.Service. The
// pipeline scheduler and retry worker already follow that shape.
type RunFunc struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Serve implements suture.Service.
func (r RunFunc) Serve(ctx context.Context) error {
	return r.Fn(ctx)
}

// String implements fmt.Stringer for suture's event log.
func (r RunFunc) String() string {
	return r.Name
}

// ClusterRunner is the clustering pass the ticker service drives.
type ClusterRunner interface {
	Run(ctx context.Context) error
}

// ClusteringService runs periodic clustering passes. Per-tenant failures
// are handled inside Run; an error returned here means the pass itself
// could not start and suture restarts the service.
type ClusteringService struct {
	runner   ClusterRunner
	interval time.Duration
}

// NewClusteringService creates the periodic clustering service.
func NewClusteringService(runner ClusterRunner, interval time.Duration) *ClusteringService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &ClusteringService{runner: runner, interval: interval}
}

// Serve implements suture.Service.
func (c *ClusteringService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := c.runner.Run(ctx); err != nil {
			return fmt.Errorf("clustering pass: %w", err)
		}
	}
}

// String implements fmt.Stringer.
func (c *ClusteringService) String() string {
	return "clustering"
}

// HTTPServer matches *http.Server's lifecycle methods.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService wraps an HTTP server as a supervised service, translating
// ListenAndServe's blocking pattern into suture's context-aware Serve.
type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

// NewHTTPService creates the HTTP server service wrapper.
func NewHTTPService(server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service. http.ErrServerClosed is expected on
// graceful shutdown and not treated as a failure.
func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		// The original context is canceled; shutdown needs its own.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()

		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

// String implements fmt.Stringer.
func (h *HTTPService) String() string {
	return "http-server"
}
