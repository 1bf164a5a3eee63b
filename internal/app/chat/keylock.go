/*
Package chat contains the real-time presence and session engine.

This file defines keyedMutex, a table of per-key locks that are released from
memory once unused, and the namespaced lock keys the engine uses.
*/
package chat

import (
	"sync"

	"lfchat/internal/app/identity"
	"lfchat/internal/app/store"
)

// Lock key namespaces. Locks are always taken in the order nick, identity, pair.
const (
	nickLockPrefix     = "nick:"
	identityLockPrefix = "identity:"
	roomLockPrefix     = "room:"
	pairLockPrefix     = "pair:"
)

func nickLock(nickname string) string { return nickLockPrefix + identity.NicknameKey(nickname) }
func identityLock(id string) string   { return identityLockPrefix + id }
func roomLock(roomID string) string   { return roomLockPrefix + roomID }
func pairLock(pair store.Pair) string { return pairLockPrefix + pair.Key() }

// keyedMutex hands out one mutex per key. Entries are reference counted and
// dropped once nobody holds or waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is held and returns the matching unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()

	return func() {
		m.Unlock()

		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// size is the number of live entries.
func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
