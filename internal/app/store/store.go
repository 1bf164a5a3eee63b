/*
Package store defines the durable storage contract of the chat engine.

The chat package depends only on the Store interface declared here; the Postgres
implementation lives in internal/app/db and test fakes live next to the tests.
The package also holds the persisted Message record and the unordered Pair key
that identifies a private conversation.
*/
package store

import (
	"context"
	"errors"
	"time"

	"lfchat/internal/app/identity"
)

var (
	// ErrNotFound is returned when a row addressed by key does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("store: conflict")

	// ErrInvalidReference is returned when a write references a missing row.
	ErrInvalidReference = errors.New("store: invalid reference")
)

// Kind is the content type of a message.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindText || k == KindImage
}

// Message is a persisted chat message. Exactly one of RoomID and RecipientID is set.
type Message struct {
	ID          int64     `json:"id"`
	SenderID    string    `json:"userId"`
	Nickname    string    `json:"nickname"`
	RoomID      string    `json:"room,omitempty"`
	RecipientID string    `json:"recipientId,omitempty"`
	Content     string    `json:"content"`
	Kind        Kind      `json:"type"`
	IsPrivate   bool      `json:"isPrivate"`
	CreatedAt   time.Time `json:"timestamp"`
}

// NewMessage is the insert payload for a message.
type NewMessage struct {
	SenderID    string
	RoomID      string
	RecipientID string
	Content     string
	Kind        Kind
	IsPrivate   bool
}

// Page bounds a history read.
type Page struct {
	Limit  int
	Offset int
}

// ReadTarget names the conversation marked read. Exactly one field is set.
type ReadTarget struct {
	RoomID      string `json:"roomId,omitempty"`
	OtherUserID string `json:"otherUserId,omitempty"`
}

// UnreadCounts maps room ids and private peer ids to unread message counts.
type UnreadCounts struct {
	Rooms        map[string]int `json:"rooms"`
	PrivateChats map[string]int `json:"privateChats"`
}

// Store is the durable query interface consumed by the chat engine.
type Store interface {
	// GetIdentity returns ErrNotFound for an unknown id.
	GetIdentity(ctx context.Context, id string) (identity.Identity, error)

	// GetIdentityByNickname matches case-insensitively and returns ErrNotFound when absent.
	GetIdentityByNickname(ctx context.Context, nickname string) (identity.Identity, error)

	// CreateIdentity inserts an online identity. A taken nickname yields ErrConflict.
	CreateIdentity(ctx context.Context, ident identity.Identity) (identity.Identity, error)

	// MarkOnline sets the online flag and refreshes last_active. ErrNotFound if the row is gone.
	MarkOnline(ctx context.Context, id string) (identity.Identity, error)

	// MarkOffline clears the online flag and refreshes last_active.
	MarkOffline(ctx context.Context, id string) error

	// TouchIdentity refreshes last_active.
	TouchIdentity(ctx context.Context, id string) error

	// DeleteIdentity removes the identity row.
	DeleteIdentity(ctx context.Context, id string) error

	// HasSentMessage reports whether the identity ever authored a message. The
	// marker is set on insert and survives trimming and purges.
	HasSentMessage(ctx context.Context, id string) (bool, error)

	// ListIdentities returns the identities for ids ordered by nickname. Unknown ids are skipped.
	ListIdentities(ctx context.Context, ids []string) ([]identity.Identity, error)

	// ResetOnline marks every identity offline. Used at process start.
	ResetOnline(ctx context.Context) (int64, error)

	// DeleteStaleGhosts removes offline identities that never sent a message and
	// were created before cutoff.
	DeleteStaleGhosts(ctx context.Context, cutoff time.Time) (int64, error)

	// InsertMessage persists msg, marks the sender as having sent, and returns the
	// message with id, sender nickname and timestamp.
	// A missing sender or recipient yields ErrInvalidReference.
	InsertMessage(ctx context.Context, msg NewMessage) (Message, error)

	// TrimRoom keeps the newest keep messages of a room and deletes the rest.
	TrimRoom(ctx context.Context, roomID string, keep int) (int64, error)

	// TrimPrivate keeps the newest keep messages of a pair and deletes the rest.
	TrimPrivate(ctx context.Context, pair Pair, keep int) (int64, error)

	// DeletePrivateMessages removes every message exchanged within pair.
	DeletePrivateMessages(ctx context.Context, pair Pair) (int64, error)

	// InactivePrivatePairs returns the pairs whose newest message predates cutoff.
	InactivePrivatePairs(ctx context.Context, cutoff time.Time) ([]Pair, error)

	// RoomMessages returns a page of room history, oldest first.
	RoomMessages(ctx context.Context, roomID string, page Page) ([]Message, error)

	// PrivateMessages returns a page of private history for pair, oldest first.
	PrivateMessages(ctx context.Context, pair Pair, page Page) ([]Message, error)

	// MarkRead records every unread message of target as read by userID and
	// returns how many were newly marked. Own messages are never counted.
	MarkRead(ctx context.Context, userID string, target ReadTarget) (int64, error)

	// UnreadCounts returns the unread message counts of userID per room and per
	// private peer. Targets without unread messages are absent.
	UnreadCounts(ctx context.Context, userID string) (UnreadCounts, error)
}
