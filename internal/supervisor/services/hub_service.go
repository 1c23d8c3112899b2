// Driftline - Real-Time Chat Event Distribution
// Copyright 2026 Driftline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftline/driftline

package services

import "context"

// ContextRunner matches the hub's RunWithContext method without importing
// the hub package.
type ContextRunner interface {
	RunWithContext(ctx context.Context) error
}

// HubService wraps the event hub as a supervised service. RunWithContext
// already follows the suture contract, so this only adds a name.
type HubService struct {
	hub ContextRunner
}

// NewHubService wraps a hub for supervision.
func NewHubService(hub ContextRunner) *HubService {
	return &HubService{hub: hub}
}

// Serve implements suture.Service.
func (s *HubService) Serve(ctx context.Context) error {
	return s.hub.RunWithContext(ctx)
}

func (s *HubService) String() string { return "event-hub" }
