/*
Package chat contains the real-time presence and session engine.

This file defines Retention, which bounds stored history. It trims rooms and
private pairs after each insert, purges a private pair when its session ends,
and sweeps inactive pairs and ghost identities.
*/
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"lfchat/internal/app/store"
	"lfchat/internal/pkg/logx"
)

// Retention bounds stored history and deletes abandoned private chats.
type Retention struct {
	store    store.Store
	tracker  *SessionTracker
	registry *Registry
	locks    *keyedMutex
	now      func() time.Time
	logger   zerolog.Logger
}

// NewRetention wires Retention to the shared tracker, registry and lock table.
func NewRetention(st store.Store, tracker *SessionTracker, registry *Registry, locks *keyedMutex) *Retention {
	return &Retention{
		store:    st,
		tracker:  tracker,
		registry: registry,
		locks:    locks,
		now:      time.Now,
		logger:   logx.Component("Retention"),
	}
}

// EnforceRoomLimit keeps the newest max messages of roomID. Must run after the
// insert it follows, under the room lock.
func (r *Retention) EnforceRoomLimit(ctx context.Context, roomID string, max int) (int64, error) {
	n, err := r.store.TrimRoom(ctx, roomID, max)
	if err != nil {
		return 0, fmt.Errorf("trim room %s: %w", roomID, err)
	}
	if n > 0 {
		r.logger.Debug().Str("room_id", roomID).Int64("deleted", n).Msg("Room history trimmed")
	}
	return n, nil
}

// EnforcePrivateLimit keeps the newest max messages of pair, under the pair lock.
func (r *Retention) EnforcePrivateLimit(ctx context.Context, pair store.Pair, max int) (int64, error) {
	n, err := r.store.TrimPrivate(ctx, pair, max)
	if err != nil {
		return 0, fmt.Errorf("trim pair %s: %w", pair.Key(), err)
	}
	if n > 0 {
		r.logger.Debug().Str("pair", pair.Key()).Int64("deleted", n).Msg("Private history trimmed")
	}
	return n, nil
}

// PurgePair deletes every stored message of pair, drops its tracker entry and
// tells both participants the conversation is gone. The caller holds the pair
// lock. Nothing in memory changes when the delete fails.
func (r *Retention) PurgePair(ctx context.Context, pair store.Pair) error {
	n, err := r.store.DeletePrivateMessages(ctx, pair)
	if err != nil {
		return fmt.Errorf("purge pair %s: %w", pair.Key(), err)
	}

	r.tracker.Remove(pair)

	for _, id := range pair.Members() {
		conn, ok := r.registry.Conn(id)
		if !ok {
			continue
		}
		payload := PrivateChatRemovedPayload{UserID: id, OtherUserID: pair.Other(id)}
		if err := conn.Send(EventPrivateChatRemoved, payload); err != nil {
			r.logger.Warn().Err(err).Str("user_id", id).Msg("Dropped private_chat_removed")
		}
	}

	r.logger.Info().Str("pair", pair.Key()).Int64("deleted", n).Msg("Private chat purged")
	return nil
}

// SweepInactive purges every pair idle for longer than threshold. Idle means
// the tracked activity of a tracked pair, or the newest stored message of an
// untracked one, predates now-threshold. Each candidate is re-checked under its
// pair lock before it is purged.
func (r *Retention) SweepInactive(ctx context.Context, threshold time.Duration) (int, error) {
	cutoff := r.now().Add(-threshold)

	candidates := make(map[string]store.Pair)
	for _, pair := range r.tracker.Inactive(threshold) {
		candidates[pair.Key()] = pair
	}

	var errList []error

	stored, err := r.store.InactivePrivatePairs(ctx, cutoff)
	if err != nil {
		errList = append(errList, fmt.Errorf("list inactive pairs: %w", err))
	}
	for _, pair := range stored {
		if !r.tracker.IsTracked(pair) {
			candidates[pair.Key()] = pair
		}
	}

	purged := 0
	for _, pair := range candidates {
		if ctx.Err() != nil {
			errList = append(errList, ctx.Err())
			break
		}

		ok, err := r.purgeIfIdle(ctx, pair, cutoff)
		if err != nil {
			errList = append(errList, err)
			continue
		}
		if ok {
			purged++
		}
	}

	return purged, errors.Join(errList...)
}

func (r *Retention) purgeIfIdle(ctx context.Context, pair store.Pair, cutoff time.Time) (bool, error) {
	unlock := r.locks.Lock(pairLock(pair))
	defer unlock()

	idle, err := r.isIdle(ctx, pair, cutoff)
	if err != nil || !idle {
		return false, err
	}

	if err := r.PurgePair(ctx, pair); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Retention) isIdle(ctx context.Context, pair store.Pair, cutoff time.Time) (bool, error) {
	if lastActive, ok := r.tracker.LastActive(pair); ok {
		return lastActive.Before(cutoff), nil
	}

	newest, err := r.store.PrivateMessages(ctx, pair, store.Page{Limit: 1})
	if err != nil {
		return false, fmt.Errorf("check pair %s: %w", pair.Key(), err)
	}
	if len(newest) == 0 {
		return false, nil
	}
	return newest[0].CreatedAt.Before(cutoff), nil
}

// SweepGhosts deletes offline identities that never sent a message and were
// created more than olderThan ago.
func (r *Retention) SweepGhosts(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := r.store.DeleteStaleGhosts(ctx, r.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("delete stale ghosts: %w", err)
	}
	return n, nil
}
