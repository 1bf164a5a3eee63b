/*
Package chat contains the real-time presence and session engine.

It tracks which identities hold a live websocket connection (Registry), publishes
the online list (Presence), routes room and private messages (MessageRouter),
tracks two-sided presence in private chats (SessionTracker), bounds stored
history (Retention, Sweeper) and ties them together on connect and disconnect
(Coordinator).

This file defines the JSON envelope exchanged over the websocket and the event
payloads in both directions.
*/
package chat

import (
	"encoding/json"

	"lfchat/internal/app/store"
)

// EventType names an envelope exchanged with the client.
type EventType string

const (
	// EventJoinRoom subscribes the connection to a room's typing notifications.
	EventJoinRoom EventType = "join_room"

	// EventLeaveRoom drops a room subscription.
	EventLeaveRoom EventType = "leave_room"

	// EventJoinPrivateChat marks the sender present in a private chat.
	EventJoinPrivateChat EventType = "join_private_chat"

	// EventLeavePrivateChat marks the sender absent from a private chat.
	EventLeavePrivateChat EventType = "leave_private_chat"

	// EventSendMessage carries a SendRequest.
	EventSendMessage EventType = "send_message"

	// EventTyping and EventStopTyping carry a TypingRequest.
	EventTyping     EventType = "typing"
	EventStopTyping EventType = "stop_typing"
)

const (
	// EventOnlineUsersUpdated carries the full online list.
	EventOnlineUsersUpdated EventType = "online_users_updated"

	// EventNewMessage carries a persisted store.Message.
	EventNewMessage EventType = "new_message"

	// EventPrivateChatLeft tells the remaining participant the other one left.
	EventPrivateChatLeft EventType = "private_chat_left"

	// EventPrivateChatRemoved tells a participant the conversation was deleted.
	EventPrivateChatRemoved EventType = "private_chat_removed"

	EventUserTyping     EventType = "user_typing"
	EventUserStopTyping EventType = "user_stop_typing"

	// EventError carries an ErrorPayload for the originating connection only.
	EventError EventType = "error"
)

// Envelope is the outbound frame.
type Envelope struct {
	Event EventType `json:"event"`
	Data  any       `json:"data"`
}

// inboundEnvelope is the inbound frame; Data is decoded per event.
type inboundEnvelope struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SendRequest is the send_message payload.
type SendRequest struct {
	Content     string     `json:"content"`
	Kind        store.Kind `json:"type"`
	RoomID      string     `json:"roomId,omitempty"`
	RecipientID string     `json:"recipientId,omitempty"`
	IsPrivate   bool       `json:"isPrivate"`
}

// TypingRequest is the typing and stop_typing payload.
type TypingRequest struct {
	RoomID      string `json:"roomId,omitempty"`
	RecipientID string `json:"recipientId,omitempty"`
	IsPrivate   bool   `json:"isPrivate"`
}

// PrivateChatLeftPayload identifies the participant that left.
type PrivateChatLeftPayload struct {
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
}

// PrivateChatRemovedPayload is addressed to UserID about the chat with OtherUserID.
type PrivateChatRemovedPayload struct {
	UserID      string `json:"userId"`
	OtherUserID string `json:"otherUserId"`
}

// UserTypingPayload tells recipients that a user started typing.
type UserTypingPayload struct {
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
}

// UserStopTypingPayload tells recipients that a user stopped typing.
type UserStopTypingPayload struct {
	UserID string `json:"userId"`
}

// ErrorPayload mirrors errs.CustomError on the wire.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
