/*
Package chat contains the real-time presence and session engine.

This file defines Rooms, the fixed set of public rooms and their transient
membership used for typing notifications.
*/
package chat

import (
	"maps"
	"slices"
)

// Rooms is the fixed set of broadcast rooms and their transient membership.
// Membership only scopes typing notifications; room messages reach everyone online.
type Rooms struct {
	known       map[string]struct{}
	defaultRoom string
	members     *shardedMap[map[string]struct{}]
}

// NewRooms creates the room set. defaultRoom must be one of names.
func NewRooms(names []string, defaultRoom string) *Rooms {
	known := make(map[string]struct{}, len(names))
	for _, n := range names {
		known[n] = struct{}{}
	}

	return &Rooms{
		known:       known,
		defaultRoom: defaultRoom,
		members:     newShardedMap[map[string]struct{}](),
	}
}

// Exists reports whether roomID is configured.
func (r *Rooms) Exists(roomID string) bool {
	_, ok := r.known[roomID]
	return ok
}

// Default returns the room every new connection joins.
func (r *Rooms) Default() string {
	return r.defaultRoom
}

// Names returns the configured rooms in sorted order.
func (r *Rooms) Names() []string {
	return slices.Sorted(maps.Keys(r.known))
}

// Join adds id to roomID and reports whether it was newly added.
func (r *Rooms) Join(roomID, id string) bool {
	added := false
	r.members.update(roomID, func(set map[string]struct{}, ok bool) (map[string]struct{}, bool) {
		if _, in := set[id]; in {
			return set, true
		}
		next := make(map[string]struct{}, len(set)+1)
		maps.Copy(next, set)
		next[id] = struct{}{}
		added = true
		return next, true
	})
	return added
}

// Leave removes id from roomID and reports whether it was a member.
func (r *Rooms) Leave(roomID, id string) bool {
	removed := false
	r.members.update(roomID, func(set map[string]struct{}, ok bool) (map[string]struct{}, bool) {
		if _, in := set[id]; !in {
			return set, ok
		}
		removed = true
		next := maps.Clone(set)
		delete(next, id)
		return next, len(next) > 0
	})
	return removed
}

// LeaveAll removes id from every room.
func (r *Rooms) LeaveAll(id string) {
	for roomID := range r.known {
		r.Leave(roomID, id)
	}
}

// Members returns the ids joined to roomID, sorted.
func (r *Rooms) Members(roomID string) []string {
	set, _ := r.members.get(roomID)
	return slices.Sorted(maps.Keys(set))
}

// IsMember reports whether id joined roomID.
func (r *Rooms) IsMember(roomID, id string) bool {
	set, _ := r.members.get(roomID)
	_, ok := set[id]
	return ok
}
