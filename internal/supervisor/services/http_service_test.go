// Driftline - Real-Time Chat Event Distribution
// Copyright 2026 Driftline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftline/driftline

package services

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

// mockServer scripts ListenAndServe/Shutdown behavior.
type mockServer struct {
	serveErr    error
	serveDone   chan struct{}
	shutdownErr error
	shutdowns   int
}

func newMockServer() *mockServer {
	return &mockServer{serveDone: make(chan struct{})}
}

func (m *mockServer) ListenAndServe() error {
	<-m.serveDone
	if m.serveErr != nil {
		return m.serveErr
	}
	return http.ErrServerClosed
}

func (m *mockServer) Shutdown(_ context.Context) error {
	m.shutdowns++
	close(m.serveDone)
	return m.shutdownErr
}

func TestHTTPServerService_GracefulShutdown(t *testing.T) {
	srv := newMockServer()
	svc := NewHTTPServerService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if srv.shutdowns != 1 {
		t.Errorf("shutdowns = %d, want 1", srv.shutdowns)
	}
}

func TestHTTPServerService_SurfacesListenError(t *testing.T) {
	srv := newMockServer()
	srv.serveErr = errors.New("address already in use")
	close(srv.serveDone)

	svc := NewHTTPServerService(srv, time.Second)
	err := svc.Serve(context.Background())
	if err == nil || !errors.Is(err, srv.serveErr) {
		t.Errorf("Serve returned %v, want wrapped listen error", err)
	}
}

func TestHTTPServerService_ShutdownErrorReported(t *testing.T) {
	srv := newMockServer()
	srv.shutdownErr = errors.New("connections still open")
	svc := NewHTTPServerService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err == nil || !errors.Is(err, srv.shutdownErr) {
			t.Errorf("Serve returned %v, want wrapped shutdown error", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestHubService_DelegatesToRunWithContext(t *testing.T) {
	ran := make(chan struct{})
	svc := NewHubService(runnerFunc(func(ctx context.Context) error {
		close(ran)
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("hub never started")
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return")
	}
	if got := svc.String(); got != "event-hub" {
		t.Errorf("String() = %q", got)
	}
}

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) RunWithContext(ctx context.Context) error { return f(ctx) }
