/*
Package chat contains the real-time presence and session engine.

This file defines the MessageRouter. It validates a send, persists it under the
lock of its room or pair, and delivers the stored message to the recipients.
*/
package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"lfchat/internal/app/storage"
	"lfchat/internal/app/store"
	"lfchat/internal/pkg/errs"
	"lfchat/internal/pkg/logx"
)

const (
	// MaxContentBytes is the maximum allowed size in bytes of a message body.
	MaxContentBytes = 5000

	// persistTimeout bounds the store calls of one send.
	persistTimeout = 10 * time.Second
)

// ImageStore confirms that an uploaded image exists before it is referenced.
type ImageStore interface {
	GetObjectMetadata(ctx context.Context, key string) (map[string]string, error)
}

// RouterConfig holds the retention limits applied after each insert.
type RouterConfig struct {
	RoomMessageLimit    int
	PrivateMessageLimit int
}

// MessageRouter validates, persists and fans out messages.
type MessageRouter struct {
	store     store.Store
	registry  *Registry
	rooms     *Rooms
	tracker   *SessionTracker
	retention *Retention
	presence  *Presence
	locks     *keyedMutex
	images    ImageStore
	cfg       RouterConfig
	logger    zerolog.Logger
}

// route is a validated send target.
type route struct {
	roomID string
	pair   store.Pair
}

func (r route) private() bool { return r.roomID == "" }

func (r route) lockKey() string {
	if r.private() {
		return pairLock(r.pair)
	}
	return roomLock(r.roomID)
}

// Send persists req from senderID and delivers it. The returned message is the
// stored record delivered to every recipient.
func (m *MessageRouter) Send(ctx context.Context, senderID string, req SendRequest) (store.Message, error) {
	if !m.registry.IsOnline(senderID) {
		return store.Message{}, errs.NewError(errs.ErrUnauthenticated)
	}

	rt, cerr := m.validate(ctx, senderID, req)
	if cerr != nil {
		return store.Message{}, cerr
	}

	// the sender may disconnect mid-send; the insert still has to land
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	msg, err := m.persistAndDeliver(ctx, senderID, req, rt)
	if err != nil {
		return store.Message{}, err
	}

	if err := m.store.TouchIdentity(ctx, senderID); err != nil {
		m.logger.Warn().Err(err).Str("user_id", senderID).Msg("Failed to refresh sender activity")
	}
	m.presence.Trigger()

	return msg, nil
}

// persistAndDeliver runs under the stream lock so every recipient sees one
// stream in persisted order and trimming never races the next insert.
func (m *MessageRouter) persistAndDeliver(ctx context.Context, senderID string, req SendRequest, rt route) (store.Message, error) {
	unlock := m.locks.Lock(rt.lockKey())
	defer unlock()

	msg, err := m.store.InsertMessage(ctx, store.NewMessage{
		SenderID:    senderID,
		RoomID:      rt.roomID,
		RecipientID: req.RecipientID,
		Content:     req.Content,
		Kind:        req.Kind,
		IsPrivate:   rt.private(),
	})
	if err != nil {
		if errors.Is(err, store.ErrInvalidReference) {
			return store.Message{}, errs.NewError(errs.ErrMalformedMessage, "unknown recipient")
		}
		return store.Message{}, errs.NewError(errs.ErrPersistenceFailure, err)
	}

	if rt.private() {
		recipient := rt.pair.Other(senderID)
		m.tracker.Touch(rt.pair)
		m.deliver(msg, recipient, senderID)

		// a recipient with the chat open has seen it
		if m.tracker.IsPresent(rt.pair, recipient) && m.registry.IsOnline(recipient) {
			if _, err := m.store.MarkRead(ctx, recipient, store.ReadTarget{OtherUserID: senderID}); err != nil {
				m.logger.Warn().Err(err).Str("pair", rt.pair.Key()).Msg("Failed to mark delivered message read")
			}
		}

		if _, err := m.retention.EnforcePrivateLimit(ctx, rt.pair, m.cfg.PrivateMessageLimit); err != nil {
			m.logger.Error().Err(err).Str("pair", rt.pair.Key()).Msg("Private retention failed")
		}
		return msg, nil
	}

	recipients := make([]string, 0, m.registry.Len()+1)
	for _, id := range m.registry.OnlineIDs() {
		if id != senderID {
			recipients = append(recipients, id)
		}
	}
	m.deliver(msg, append(recipients, senderID)...)

	if _, err := m.retention.EnforceRoomLimit(ctx, rt.roomID, m.cfg.RoomMessageLimit); err != nil {
		m.logger.Error().Err(err).Str("room_id", rt.roomID).Msg("Room retention failed")
	}
	return msg, nil
}

// deliver enqueues msg once per id. Offline ids and full queues are skipped.
func (m *MessageRouter) deliver(msg store.Message, ids ...string) {
	for _, id := range ids {
		conn, ok := m.registry.Conn(id)
		if !ok {
			continue
		}
		if err := conn.Send(EventNewMessage, msg); err != nil {
			m.logger.Warn().Err(err).
				Str("user_id", id).
				Int64("message_id", msg.ID).
				Msg("Dropped message delivery")
		}
	}
}

func (m *MessageRouter) validate(ctx context.Context, senderID string, req SendRequest) (route, *errs.CustomError) {
	var rt route

	hasRoom := req.RoomID != ""
	hasRecipient := req.RecipientID != ""

	switch {
	case hasRoom == hasRecipient:
		return rt, errs.NewError(errs.ErrMalformedMessage, "exactly one of roomId and recipientId is required")
	case req.IsPrivate != hasRecipient:
		return rt, errs.NewError(errs.ErrMalformedMessage, "isPrivate does not match the target")
	case hasRoom && !m.rooms.Exists(req.RoomID):
		return rt, errs.NewError(errs.ErrMalformedMessage, "unknown room")
	case hasRecipient && req.RecipientID == senderID:
		return rt, errs.NewError(errs.ErrMalformedMessage, "cannot message yourself")
	}

	switch req.Kind {
	case store.KindText:
		if strings.TrimSpace(req.Content) == "" {
			return rt, errs.NewError(errs.ErrMalformedMessage, "empty content")
		}
		if len(req.Content) > MaxContentBytes {
			return rt, errs.NewError(errs.ErrMessageContentTooLong)
		}
	case store.KindImage:
		if cerr := m.validateImage(ctx, senderID, req.Content); cerr != nil {
			return rt, cerr
		}
	default:
		return rt, errs.NewError(errs.ErrMalformedMessage, "unsupported message type")
	}

	if hasRoom {
		rt.roomID = req.RoomID
	} else {
		rt.pair = store.NewPair(senderID, req.RecipientID)
	}
	return rt, nil
}

func (m *MessageRouter) validateImage(ctx context.Context, senderID, key string) *errs.CustomError {
	if !OwnsImageKey(senderID, key) {
		return errs.NewError(errs.ErrMalformedMessage, "invalid image key")
	}
	if m.images == nil {
		return nil
	}

	if _, err := m.images.GetObjectMetadata(ctx, key); err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return errs.NewError(errs.ErrMalformedMessage, "image not uploaded")
		}
		m.logger.Error().Err(err).Str("key", key).Msg("Failed to verify image upload")
		return errs.NewError(errs.ErrFileStorageFailed)
	}
	return nil
}

// Typing relays a typing or stop_typing notification. Room notifications go to
// room members, private ones to the recipient. Nothing is stored.
func (m *MessageRouter) Typing(senderID, nickname string, req TypingRequest, stop bool) error {
	if !m.registry.IsOnline(senderID) {
		return errs.NewError(errs.ErrUnauthenticated)
	}

	event := EventUserTyping
	var payload any = UserTypingPayload{UserID: senderID, Nickname: nickname}
	if stop {
		event = EventUserStopTyping
		payload = UserStopTypingPayload{UserID: senderID}
	}

	var targets []string
	switch {
	case req.IsPrivate && req.RecipientID != "" && req.RecipientID != senderID:
		targets = []string{req.RecipientID}
	case !req.IsPrivate && m.rooms.Exists(req.RoomID):
		targets = m.rooms.Members(req.RoomID)
	default:
		return errs.NewError(errs.ErrMalformedMessage, "invalid typing target")
	}

	for _, id := range targets {
		if id == senderID {
			continue
		}
		if conn, ok := m.registry.Conn(id); ok {
			if err := conn.Send(event, payload); err != nil {
				m.logger.Debug().Err(err).Str("user_id", id).Msg("Dropped typing notification")
			}
		}
	}
	return nil
}

func newMessageRouter(
	st store.Store,
	registry *Registry,
	rooms *Rooms,
	tracker *SessionTracker,
	retention *Retention,
	presence *Presence,
	locks *keyedMutex,
	images ImageStore,
	cfg RouterConfig,
) *MessageRouter {
	return &MessageRouter{
		store:     st,
		registry:  registry,
		rooms:     rooms,
		tracker:   tracker,
		retention: retention,
		presence:  presence,
		locks:     locks,
		images:    images,
		cfg:       cfg,
		logger:    logx.Component("MessageRouter"),
	}
}
