/*
Package chat contains the real-time presence and session engine.

This file defines the Registry, the map from identity id to its single live
connection. Unregistering by connection lets a stale disconnect of a replaced
connection leave the newer one in place.
*/
package chat

import (
	"slices"
)

// Conn is a live connection owned by the Registry while registered.
type Conn interface {
	// ID identifies this particular connection, distinct from the identity it serves.
	ID() string

	// Send enqueues an event without blocking. A full or closed queue yields an error.
	Send(event EventType, payload any) error

	// Close terminates the connection, telling the client why.
	Close(reason string)
}

// Registry maps an identity id to its single live connection. It is the only
// source of truth for who is online.
type Registry struct {
	conns    *shardedMap[Conn]
	onChange func()
}

// NewRegistry creates an empty Registry. onChange, when set, runs after every
// mutation with no shard lock held.
func NewRegistry(onChange func()) *Registry {
	return &Registry{
		conns:    newShardedMap[Conn](),
		onChange: onChange,
	}
}

// Register maps id to conn and returns the connection it replaced, if any.
func (r *Registry) Register(id string, conn Conn) Conn {
	var prev Conn
	r.conns.update(id, func(cur Conn, ok bool) (Conn, bool) {
		if ok && cur != conn {
			prev = cur
		}
		return conn, true
	})

	r.changed()
	return prev
}

// Unregister drops whatever connection id holds.
func (r *Registry) Unregister(id string) bool {
	removed := false
	r.conns.update(id, func(cur Conn, ok bool) (Conn, bool) {
		removed = ok
		return cur, false
	})

	if removed {
		r.changed()
	}
	return removed
}

// UnregisterConn drops the mapping only if id is still served by conn.
// A connection that has already been replaced is left alone.
func (r *Registry) UnregisterConn(id string, conn Conn) bool {
	removed := false
	r.conns.update(id, func(cur Conn, ok bool) (Conn, bool) {
		if ok && cur == conn {
			removed = true
			return cur, false
		}
		return cur, ok
	})

	if removed {
		r.changed()
	}
	return removed
}

// IsOnline reports whether id holds a live connection.
func (r *Registry) IsOnline(id string) bool {
	_, ok := r.conns.get(id)
	return ok
}

// Conn returns the live connection of id.
func (r *Registry) Conn(id string) (Conn, bool) {
	return r.conns.get(id)
}

// OnlineIDs returns the registered identity ids in sorted order.
func (r *Registry) OnlineIDs() []string {
	ids := make([]string, 0, r.conns.len())
	r.conns.rangeAll(func(id string, _ Conn) {
		ids = append(ids, id)
	})
	slices.Sort(ids)
	return ids
}

// Len is the number of online identities.
func (r *Registry) Len() int {
	return r.conns.len()
}

// snapshot returns every registered connection keyed by identity.
func (r *Registry) snapshot() map[string]Conn {
	out := make(map[string]Conn, r.conns.len())
	r.conns.rangeAll(func(id string, c Conn) {
		out[id] = c
	})
	return out
}

func (r *Registry) changed() {
	if r.onChange != nil {
		r.onChange()
	}
}
