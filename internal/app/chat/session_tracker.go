/*
Package chat contains the real-time presence and session engine.

This file defines the SessionTracker, which records who currently has each
private chat open and when the chat was last active.
*/
package chat

import (
	"slices"
	"time"

	"lfchat/internal/app/store"
)

// privateSession is the tracker entry of one pair.
type privateSession struct {
	pair       store.Pair
	present    []string
	lastActive time.Time
}

func (s privateSession) has(id string) bool {
	return slices.Contains(s.present, id)
}

// SessionTracker records which participants of a private chat currently have
// it open. An entry exists only while someone is present.
type SessionTracker struct {
	sessions *shardedMap[privateSession]
	now      func() time.Time
}

// NewSessionTracker creates an empty tracker using the wall clock.
func NewSessionTracker() *SessionTracker {
	return &SessionTracker{
		sessions: newShardedMap[privateSession](),
		now:      time.Now,
	}
}

// Join marks who present in pair and refreshes its activity. It reports
// whether who was newly added; repeat joins change nothing else.
func (t *SessionTracker) Join(pair store.Pair, who string) bool {
	added := false
	t.sessions.update(pair.Key(), func(s privateSession, ok bool) (privateSession, bool) {
		if !ok {
			s = privateSession{pair: pair}
		}
		if !s.has(who) {
			s.present = append(slices.Clone(s.present), who)
			added = true
		}
		s.lastActive = t.now()
		return s, true
	})
	return added
}

// Leave removes who from pair and reports whether nobody is left. The entry
// itself is kept until Remove so the caller can purge first.
func (t *SessionTracker) Leave(pair store.Pair, who string) bool {
	ended := true
	t.sessions.update(pair.Key(), func(s privateSession, ok bool) (privateSession, bool) {
		if !ok {
			return s, false
		}
		s.present = slices.DeleteFunc(slices.Clone(s.present), func(id string) bool { return id == who })
		s.lastActive = t.now()
		ended = len(s.present) == 0
		return s, true
	})
	return ended
}

// WouldEnd reports whether removing who would leave pair with nobody present.
// An untracked pair has nobody present.
func (t *SessionTracker) WouldEnd(pair store.Pair, who string) bool {
	s, ok := t.sessions.get(pair.Key())
	if !ok {
		return true
	}
	for _, id := range s.present {
		if id != who {
			return false
		}
	}
	return true
}

// Touch refreshes activity of a tracked pair.
func (t *SessionTracker) Touch(pair store.Pair) {
	t.sessions.update(pair.Key(), func(s privateSession, ok bool) (privateSession, bool) {
		if ok {
			s.lastActive = t.now()
		}
		return s, ok
	})
}

// Remove drops the entry of pair.
func (t *SessionTracker) Remove(pair store.Pair) {
	t.sessions.update(pair.Key(), func(s privateSession, _ bool) (privateSession, bool) {
		return s, false
	})
}

// Present returns the participants currently present in pair.
func (t *SessionTracker) Present(pair store.Pair) []string {
	s, ok := t.sessions.get(pair.Key())
	if !ok {
		return nil
	}
	return slices.Clone(s.present)
}

// IsPresent reports whether who currently has pair open.
func (t *SessionTracker) IsPresent(pair store.Pair, who string) bool {
	s, ok := t.sessions.get(pair.Key())
	return ok && s.has(who)
}

// IsTracked reports whether pair has an entry.
func (t *SessionTracker) IsTracked(pair store.Pair) bool {
	_, ok := t.sessions.get(pair.Key())
	return ok
}

// LastActive returns the tracked activity time of pair.
func (t *SessionTracker) LastActive(pair store.Pair) (time.Time, bool) {
	s, ok := t.sessions.get(pair.Key())
	return s.lastActive, ok
}

// SessionsOf returns every pair who is present in.
func (t *SessionTracker) SessionsOf(who string) []store.Pair {
	var pairs []store.Pair
	t.sessions.rangeAll(func(_ string, s privateSession) {
		if s.has(who) {
			pairs = append(pairs, s.pair)
		}
	})
	return pairs
}

// Inactive returns the pairs whose last activity predates now-threshold.
func (t *SessionTracker) Inactive(threshold time.Duration) []store.Pair {
	cutoff := t.now().Add(-threshold)

	var pairs []store.Pair
	t.sessions.rangeAll(func(_ string, s privateSession) {
		if s.lastActive.Before(cutoff) {
			pairs = append(pairs, s.pair)
		}
	})
	return pairs
}

// Len returns the number of tracked pairs.
func (t *SessionTracker) Len() int {
	return t.sessions.len()
}
