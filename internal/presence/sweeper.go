// Driftline - Real-Time Chat Event Distribution
// Copyright 2026 Driftline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftline/driftline

package presence

import (
	"context"
	"time"

	"github.com/driftline/driftline/internal/logging"
)

// Sweeper periodically evicts per-user presence bookkeeping for users who
// have been offline longer than the retention window. Without it the busy
// flags and typing limiters of departed users accumulate forever.
type Sweeper struct {
	tracker   *Tracker
	interval  time.Duration
	retention time.Duration
}

// NewSweeper creates a sweeper over tracker. Zero durations get defaults of
// a 5 minute interval and 24 hour retention.
func NewSweeper(tracker *Tracker, interval, retention time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Sweeper{tracker: tracker, interval: interval, retention: retention}
}

// Serve runs the sweep loop until ctx is canceled. Implements
// suture.Service.
func (s *Sweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logging.Info().
		Dur("interval", s.interval).
		Dur("retention", s.retention).
		Msg("presence sweeper started")

	for {
		select {
		case <-ctx.Done():
			logging.Info().Str("component", "presence-sweeper").Msg("presence sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			if removed := s.tracker.sweep(s.retention); removed > 0 {
				logging.Debug().Int("removed", removed).Msg("swept stale presence entries")
			}
		}
	}
}

// String identifies the sweeper in supervisor logs.
func (s *Sweeper) String() string { return "presence-sweeper" }
