// Driftline - Real-Time Chat Event Distribution
// Copyright 2026 Driftline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftline/driftline

package supervisor

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/driftline/driftline/internal/logging"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Format: "json", Output: io.Discard})
}

// blockingService runs until canceled and counts its starts.
type blockingService struct {
	name   string
	starts atomic.Int64
}

func (s *blockingService) Serve(ctx context.Context) error {
	s.starts.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func (s *blockingService) String() string { return s.name }

// crashOnceService fails its first start and then blocks.
type crashOnceService struct {
	starts atomic.Int64
}

func (s *crashOnceService) Serve(ctx context.Context) error {
	if s.starts.Add(1) == 1 {
		return errors.New("transient startup failure")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *crashOnceService) String() string { return "crash-once" }

func TestTree_RunsServicesInBothLayers(t *testing.T) {
	tree := NewTree(DefaultTreeConfig())
	eventSvc := &blockingService{name: "event-side"}
	apiSvc := &blockingService{name: "api-side"}
	tree.AddEventService(eventSvc)
	tree.AddAPIService(apiSvc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.After(2 * time.Second)
	for eventSvc.starts.Load() == 0 || apiSvc.starts.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("services did not start")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("tree returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not stop")
	}
}

func TestTree_RestartsCrashedService(t *testing.T) {
	cfg := DefaultTreeConfig()
	cfg.FailureBackoff = 10 * time.Millisecond
	tree := NewTree(cfg)

	svc := &crashOnceService{}
	tree.AddEventService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tree.ServeBackground(ctx)

	deadline := time.After(2 * time.Second)
	for svc.starts.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("starts = %d, want restart after crash", svc.starts.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestDefaultTreeConfig(t *testing.T) {
	cfg := DefaultTreeConfig()
	if cfg.FailureThreshold != 5.0 || cfg.FailureDecay != 30.0 {
		t.Errorf("failure knobs = %+v", cfg)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v", cfg.ShutdownTimeout)
	}
}
