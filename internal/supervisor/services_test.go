// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingRunner struct {
	runs int32
	err  error
}

func (c *countingRunner) Run(context.Context) error {
	atomic.AddInt32(&c.runs, 1)
	return c.err
}

func TestRunFunc_PassesThrough(t *testing.T) {
	sentinel := errors.New("done")
	svc := RunFunc{Name: "scheduler", Fn: func(context.Context) error { return sentinel }}

	if err := svc.Serve(context.Background()); !errors.Is(err, sentinel) {
		t.Errorf("expected sentinel error, got %v", err)
	}
	if svc.String() != "scheduler" {
		t.Errorf("unexpected name %q", svc.String())
	}
}

func TestClusteringService_RunsOnTick(t *testing.T) {
	runner := &countingRunner{}
	svc := NewClusteringService(runner, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := svc.Serve(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error on shutdown, got %v", err)
	}
	if atomic.LoadInt32(&runner.runs) == 0 {
		t.Error("expected at least one clustering pass")
	}
}

func TestClusteringService_SurfacesRunError(t *testing.T) {
	runner := &countingRunner{err: errors.New("tenant enumeration failed")}
	svc := NewClusteringService(runner, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := svc.Serve(ctx); err == nil || errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("run errors should surface for suture to restart the service, got %v", err)
	}
}

type fakeHTTPServer struct {
	listenErr   error
	shutdownErr error
	shutdowns   int32
	block       chan struct{}
}

func (f *fakeHTTPServer) ListenAndServe() error {
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.block
	return nil
}

func (f *fakeHTTPServer) Shutdown(context.Context) error {
	atomic.AddInt32(&f.shutdowns, 1)
	close(f.block)
	return f.shutdownErr
}

func TestHTTPService_GracefulShutdown(t *testing.T) {
	server := &fakeHTTPServer{block: make(chan struct{})}
	svc := NewHTTPService(server, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("service did not stop")
	}
	if atomic.LoadInt32(&server.shutdowns) != 1 {
		t.Error("expected exactly one Shutdown call")
	}
}

func TestHTTPService_StartFailure(t *testing.T) {
	server := &fakeHTTPServer{listenErr: errors.New("address in use")}
	svc := NewHTTPService(server, time.Second)

	if err := svc.Serve(context.Background()); err == nil {
		t.Error("listen failure should be returned for suture to restart")
	}
}

func TestTree_Defaults(t *testing.T) {
	cfg := DefaultTreeConfig()
	if cfg.FailureThreshold != 5.0 || cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}
