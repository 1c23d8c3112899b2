// Driftline - Real-Time Chat Event Distribution
// Copyright 2026 Driftline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftline/driftline

package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/driftline/driftline/internal/event"
	"github.com/driftline/driftline/internal/logging"
	"github.com/driftline/driftline/internal/metrics"
)

// Directory answers membership and identity questions from the data layer.
// The distribution core never mutates membership; it only reads it at event
// resolution time.
type Directory interface {
	// ChannelMembers returns the current member user IDs of a channel. An
	// unknown channel returns an empty slice, not an error.
	ChannelMembers(ctx context.Context, channelID int64) ([]int64, error)

	// Lookup returns display identity for a user, for embedding in payloads.
	Lookup(ctx context.Context, userID int64) (event.UserRef, error)
}

// StaticDirectory is an in-memory Directory. It backs tests and the
// single-process deployment where membership is seeded at startup and
// updated through conversation_update handling.
type StaticDirectory struct {
	mu       sync.RWMutex
	channels map[int64][]int64
	users    map[int64]event.UserRef
}

// NewStaticDirectory returns an empty in-memory directory.
func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{
		channels: make(map[int64][]int64),
		users:    make(map[int64]event.UserRef),
	}
}

// SetChannelMembers replaces the member list of a channel.
func (d *StaticDirectory) SetChannelMembers(channelID int64, members []int64) {
	sorted := append([]int64(nil), members...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[channelID] = sorted
}

// AddChannelMember adds one user to a channel. No-op when already present.
func (d *StaticDirectory) AddChannelMember(channelID, userID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range d.channels[channelID] {
		if id == userID {
			return
		}
	}
	members := append(d.channels[channelID], userID)
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	d.channels[channelID] = members
}

// RemoveChannelMember removes one user from a channel.
func (d *StaticDirectory) RemoveChannelMember(channelID, userID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	members := d.channels[channelID]
	for i, id := range members {
		if id == userID {
			d.channels[channelID] = append(members[:i], members[i+1:]...)
			return
		}
	}
}

// PutUser stores display identity for a user.
func (d *StaticDirectory) PutUser(u event.UserRef) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.UserID] = u
}

// ChannelMembers implements Directory.
func (d *StaticDirectory) ChannelMembers(_ context.Context, channelID int64) ([]int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]int64(nil), d.channels[channelID]...), nil
}

// Lookup implements Directory. Unknown users resolve to a bare UserRef so
// event payloads degrade to an ID-only mention instead of failing delivery.
func (d *StaticDirectory) Lookup(_ context.Context, userID int64) (event.UserRef, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if u, ok := d.users[userID]; ok {
		return u, nil
	}
	return event.UserRef{UserID: userID}, nil
}

// BreakerDirectory wraps another Directory with a circuit breaker so a
// failing data layer sheds load fast instead of stalling every fan-out.
type BreakerDirectory struct {
	inner   Directory
	members *gobreaker.CircuitBreaker[[]int64]
	lookups *gobreaker.CircuitBreaker[event.UserRef]
}

// NewBreakerDirectory wraps inner with independent breakers for membership
// and identity lookups. The breakers open after 5 consecutive failures and
// probe again after 30 seconds.
func NewBreakerDirectory(inner Directory) *BreakerDirectory {
	settings := func(name string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:        name,
			MaxRequests: 3,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				metrics.RecordBreakerTransition(name, from.String(), to.String())
				logging.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("directory circuit breaker state change")
			},
		}
	}
	return &BreakerDirectory{
		inner:   inner,
		members: gobreaker.NewCircuitBreaker[[]int64](settings("directory.channel_members")),
		lookups: gobreaker.NewCircuitBreaker[event.UserRef](settings("directory.lookup")),
	}
}

// ChannelMembers implements Directory through the membership breaker.
func (d *BreakerDirectory) ChannelMembers(ctx context.Context, channelID int64) ([]int64, error) {
	members, err := d.members.Execute(func() ([]int64, error) {
		return d.inner.ChannelMembers(ctx, channelID)
	})
	if err != nil {
		return nil, fmt.Errorf("channel %d members: %w", channelID, err)
	}
	return members, nil
}

// Lookup implements Directory through the lookup breaker.
func (d *BreakerDirectory) Lookup(ctx context.Context, userID int64) (event.UserRef, error) {
	u, err := d.lookups.Execute(func() (event.UserRef, error) {
		return d.inner.Lookup(ctx, userID)
	})
	if err != nil {
		return event.UserRef{}, fmt.Errorf("lookup user %d: %w", userID, err)
	}
	return u, nil
}
