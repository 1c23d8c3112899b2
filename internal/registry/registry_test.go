// Driftline - Real-Time Chat Event Distribution
// Copyright 2026 Driftline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftline/driftline

package registry

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/driftline/driftline/internal/event"
	"github.com/driftline/driftline/internal/logging"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Format: "json", Output: io.Discard})
}

func newTestRegistry(t *testing.T) (*Registry, *StaticDirectory) {
	t.Helper()
	dir := NewStaticDirectory()
	return New(dir), dir
}

func TestRegister_RejectsUnauthenticated(t *testing.T) {
	r, _ := newTestRegistry(t)
	for _, userID := range []int64{0, -1} {
		if _, err := r.Register(userID); !errors.Is(err, ErrUnauthenticated) {
			t.Errorf("Register(%d) error = %v, want ErrUnauthenticated", userID, err)
		}
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d after failed registrations, want 0", r.Len())
	}
}

func TestRegister_MultiTabKeepsBothConnections(t *testing.T) {
	r, _ := newTestRegistry(t)

	first, err := r.Register(7)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	second, err := r.Register(7)
	if err != nil {
		t.Fatalf("Register second tab: %v", err)
	}
	if first.ID() == second.ID() {
		t.Error("both connections share an ID")
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}

	// The first connection must still be deliverable.
	select {
	case <-first.Send():
		t.Error("first connection's send channel closed by second registration")
	default:
	}
}

func TestUnregister_Idempotent(t *testing.T) {
	r, _ := newTestRegistry(t)
	s, err := r.Register(3)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	r.Unregister(s)
	r.Unregister(s)
	r.Unregister(nil)

	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
	if _, open := <-s.Send(); open {
		t.Error("send channel still open after Unregister")
	}
}

func TestResolve_ChannelScopeUsesCurrentMembership(t *testing.T) {
	r, dir := newTestRegistry(t)
	dir.SetChannelMembers(5, []int64{1, 2})

	s1, _ := r.Register(1)
	s2, _ := r.Register(2)
	s3, _ := r.Register(3)

	subs, err := r.Resolve(context.Background(), event.ChannelScope(5))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := subscriberIDs(subs); !equalIDs(got, []uint64{s1.ID(), s2.ID()}) {
		t.Errorf("channel members resolved to %v, want %v", got, []uint64{s1.ID(), s2.ID()})
	}

	// Membership change takes effect for the next event.
	dir.AddChannelMember(5, 3)
	subs, err = r.Resolve(context.Background(), event.ChannelScope(5))
	if err != nil {
		t.Fatalf("Resolve after join: %v", err)
	}
	if got := subscriberIDs(subs); !equalIDs(got, []uint64{s1.ID(), s2.ID(), s3.ID()}) {
		t.Errorf("after join resolved to %v, want three subscribers", got)
	}
}

func TestResolve_EmptyScopeIsNotAnError(t *testing.T) {
	r, _ := newTestRegistry(t)

	tests := []struct {
		name  string
		scope event.Scope
	}{
		{"unknown channel", event.ChannelScope(999)},
		{"offline user", event.UserScope(42)},
		{"offline pair", event.DirectScope(1, 2)},
		{"empty broadcast", event.BroadcastScope()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subs, err := r.Resolve(context.Background(), tt.scope)
			if err != nil {
				t.Fatalf("Resolve(%s): %v", tt.scope, err)
			}
			if len(subs) != 0 {
				t.Errorf("Resolve(%s) = %d subscribers, want 0", tt.scope, len(subs))
			}
		})
	}
}

func TestResolve_DirectScopeTargetsBothParticipants(t *testing.T) {
	r, _ := newTestRegistry(t)
	sa, _ := r.Register(9)
	sb, _ := r.Register(4)
	r.Register(5) // bystander

	subs, err := r.Resolve(context.Background(), event.DirectScope(9, 4))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := subscriberIDs(subs); !equalIDs(got, []uint64{sa.ID(), sb.ID()}) {
		t.Errorf("direct scope resolved to %v, want both participants only", got)
	}
}

func TestResolve_UserScopeTargetsEveryConnectionOfUser(t *testing.T) {
	r, _ := newTestRegistry(t)
	tab1, _ := r.Register(6)
	tab2, _ := r.Register(6)
	r.Register(7)

	subs, err := r.Resolve(context.Background(), event.UserScope(6))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := subscriberIDs(subs); !equalIDs(got, []uint64{tab1.ID(), tab2.ID()}) {
		t.Errorf("user scope resolved to %v, want both tabs", got)
	}
}

func TestResolve_ChannelScopePropagatesDirectoryError(t *testing.T) {
	wantErr := errors.New("membership store down")
	r := New(failingDirectory{err: wantErr})
	r.Register(1)

	if _, err := r.Resolve(context.Background(), event.ChannelScope(1)); !errors.Is(err, wantErr) {
		t.Errorf("Resolve error = %v, want wrapped %v", err, wantErr)
	}
}

func TestPresenceHooks_FirstAndLastConnectionOnly(t *testing.T) {
	r, _ := newTestRegistry(t)

	var mu sync.Mutex
	var online, offline []int64
	r.SetPresenceHooks(
		func(id int64) { mu.Lock(); online = append(online, id); mu.Unlock() },
		func(id int64, _ time.Time) { mu.Lock(); offline = append(offline, id); mu.Unlock() },
	)

	tab1, _ := r.Register(8)
	tab2, _ := r.Register(8)
	r.Unregister(tab1)

	mu.Lock()
	if len(online) != 1 || online[0] != 8 {
		t.Errorf("online hooks = %v, want one firing for user 8", online)
	}
	if len(offline) != 0 {
		t.Errorf("offline hooks = %v before last disconnect, want none", offline)
	}
	mu.Unlock()

	r.Unregister(tab2)

	mu.Lock()
	if len(offline) != 1 || offline[0] != 8 {
		t.Errorf("offline hooks = %v, want one firing for user 8", offline)
	}
	mu.Unlock()
}

func TestOnlineUsers(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Register(2)
	r.Register(2)
	s, _ := r.Register(5)

	got := r.OnlineUsers()
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	if len(got) != 2 || got[0] != 2 || got[1] != 5 {
		t.Errorf("OnlineUsers() = %v, want [2 5]", got)
	}
	if !r.UserOnline(2) {
		t.Error("UserOnline(2) = false, want true")
	}

	r.Unregister(s)
	if r.UserOnline(5) {
		t.Error("UserOnline(5) = true after disconnect, want false")
	}
}

func TestCloseAll(t *testing.T) {
	r, _ := newTestRegistry(t)
	for i := int64(1); i <= 4; i++ {
		r.Register(i)
	}
	r.CloseAll()
	if r.Len() != 0 {
		t.Errorf("Len() = %d after CloseAll, want 0", r.Len())
	}
}

func TestSubscriber_OfferDropsWhenFull(t *testing.T) {
	r, _ := newTestRegistry(t)
	s, err := r.Register(1)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	frame := []byte(`{"type":"message"}`)
	delivered := 0
	for i := 0; i < DefaultSendBuffer; i++ {
		if s.Offer(frame) {
			delivered++
		}
	}
	if delivered != DefaultSendBuffer {
		t.Fatalf("delivered %d frames into empty buffer, want %d", delivered, DefaultSendBuffer)
	}
	if s.Offer(frame) {
		t.Error("offer succeeded on a full buffer, want drop")
	}
}

type failingDirectory struct {
	err error
}

func (d failingDirectory) ChannelMembers(context.Context, int64) ([]int64, error) {
	return nil, d.err
}

func (d failingDirectory) Lookup(_ context.Context, userID int64) (event.UserRef, error) {
	return event.UserRef{}, d.err
}

func subscriberIDs(subs []*Subscriber) []uint64 {
	ids := make([]uint64, 0, len(subs))
	for _, s := range subs {
		ids = append(ids, s.ID())
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func equalIDs(got, want []uint64) bool {
	if len(got) != len(want) {
		return false
	}
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
