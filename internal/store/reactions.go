// Driftline - Real-Time Chat Event Distribution
// Copyright 2026 Driftline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftline/driftline

// Package store persists reaction state in BadgerDB.
//
// Reactions are stored per message as the full group list, so reading a
// snapshot is a single key lookup and toggling is a single read-modify-write
// transaction. Badger serializes conflicting transactions, which keeps
// concurrent toggles on one message consistent without app-level locking.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/driftline/driftline/internal/event"
	"github.com/driftline/driftline/internal/logging"
	"github.com/driftline/driftline/internal/metrics"
	"github.com/driftline/driftline/internal/registry"
)

const (
	reactionKeyPrefix = "reaction:"
	maxToggleRetries  = 10
)

// ErrInvalidToggle is returned for toggle requests missing a message, emoji,
// or user.
var ErrInvalidToggle = errors.New("store: invalid reaction toggle")

// Open opens the on-disk reaction database at path.
func Open(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open reaction db at %s: %w", path, err)
	}
	return db, nil
}

// OpenInMemory opens an ephemeral database. Used by tests and by deployments
// that treat reactions as refetchable state.
func OpenInMemory() (*badger.DB, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory reaction db: %w", err)
	}
	return db, nil
}

// reactionRecord is the stored form of one message's reactions. Group order
// is first-use order; user order within a group is toggle order.
type reactionRecord struct {
	Groups []reactionGroupRecord `json:"groups"`
}

type reactionGroupRecord struct {
	Emoji   string  `json:"emoji"`
	UserIDs []int64 `json:"user_ids"`
}

// ReactionStore owns reaction state. Every mutation returns the resulting
// full snapshot so callers publish authoritative state, never deltas.
type ReactionStore struct {
	db  *badger.DB
	dir registry.Directory
}

// NewReactionStore creates a store reading user identity from dir.
func NewReactionStore(db *badger.DB, dir registry.Directory) *ReactionStore {
	return &ReactionStore{db: db, dir: dir}
}

// Toggle adds the user to the emoji's group, or removes them if already
// present. Groups emptied by removal disappear. The returned snapshot is the
// state after the toggle.
func (s *ReactionStore) Toggle(ctx context.Context, messageID int64, emoji string, userID int64) (snap *event.ReactionSnapshot, err error) {
	defer func() { metrics.RecordReactionStoreOp("toggle", err) }()

	if messageID <= 0 || userID <= 0 || emoji == "" {
		return nil, fmt.Errorf("%w: message=%d user=%d emoji=%q", ErrInvalidToggle, messageID, userID, emoji)
	}

	var rec reactionRecord
	key := reactionKey(messageID)
	update := func(txn *badger.Txn) error {
		rec = reactionRecord{}
		item, err := txn.Get(key)
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("get reactions for message %d: %w", messageID, err)
		}
		if err == nil {
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode reactions for message %d: %w", messageID, err)
			}
		}

		rec.toggle(emoji, userID)

		if len(rec.Groups) == 0 {
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("delete empty reactions for message %d: %w", messageID, err)
			}
			return nil
		}
		data, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("encode reactions for message %d: %w", messageID, err)
		}
		return txn.Set(key, data)
	}

	// Badger resolves write-write races optimistically; retry the txn on
	// conflict so concurrent toggles on one message all land.
	for attempt := 0; ; attempt++ {
		err = s.db.Update(update)
		if !errors.Is(err, badger.ErrConflict) || attempt >= maxToggleRetries {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	metrics.ReactionToggles.Inc()
	return s.buildSnapshot(ctx, messageID, rec), nil
}

// Snapshot returns the current reactions of a message. A message with no
// reactions yields an empty, non-nil group list.
func (s *ReactionStore) Snapshot(ctx context.Context, messageID int64) (snap *event.ReactionSnapshot, err error) {
	defer func() { metrics.RecordReactionStoreOp("snapshot", err) }()

	var rec reactionRecord
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(reactionKey(messageID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get reactions for message %d: %w", messageID, err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, err
	}
	return s.buildSnapshot(ctx, messageID, rec), nil
}

// toggle flips userID's membership in the emoji group.
func (r *reactionRecord) toggle(emoji string, userID int64) {
	for gi := range r.Groups {
		g := &r.Groups[gi]
		if g.Emoji != emoji {
			continue
		}
		for ui, id := range g.UserIDs {
			if id == userID {
				g.UserIDs = append(g.UserIDs[:ui], g.UserIDs[ui+1:]...)
				if len(g.UserIDs) == 0 {
					r.Groups = append(r.Groups[:gi], r.Groups[gi+1:]...)
				}
				return
			}
		}
		g.UserIDs = append(g.UserIDs, userID)
		return
	}
	r.Groups = append(r.Groups, reactionGroupRecord{Emoji: emoji, UserIDs: []int64{userID}})
}

// buildSnapshot resolves user identities for the wire payload. A failed
// lookup degrades to an ID-only reference instead of failing the snapshot.
func (s *ReactionStore) buildSnapshot(ctx context.Context, messageID int64, rec reactionRecord) *event.ReactionSnapshot {
	snap := &event.ReactionSnapshot{
		MessageID: messageID,
		Reactions: make([]event.ReactionGroup, 0, len(rec.Groups)),
	}
	for _, g := range rec.Groups {
		group := event.ReactionGroup{
			Emoji: g.Emoji,
			Users: make([]event.UserRef, 0, len(g.UserIDs)),
		}
		for _, id := range g.UserIDs {
			u, err := s.dir.Lookup(ctx, id)
			if err != nil {
				logging.Warn().Err(err).Int64("user_id", id).Msg("identity lookup failed, using bare reference")
				u = event.UserRef{UserID: id}
			}
			group.Users = append(group.Users, u)
		}
		snap.Reactions = append(snap.Reactions, group)
	}
	return snap
}

func reactionKey(messageID int64) []byte {
	return []byte(reactionKeyPrefix + strconv.FormatInt(messageID, 10))
}
