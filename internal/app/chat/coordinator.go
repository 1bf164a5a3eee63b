/*
Package chat contains the real-time presence and session engine.

This file defines the Coordinator, which owns the connection lifecycle. Connect
resolves or creates the identity and registers its connection, Disconnect drains
in-flight sends and performs the implicit private leave before retiring the
identity, and the private join and leave operations drive the SessionTracker.
*/
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lfchat/internal/app/identity"
	"lfchat/internal/app/store"
	"lfchat/internal/pkg/errs"
	"lfchat/internal/pkg/logx"
)

const (
	// KickReasonReplaced is sent to a connection replaced by a newer one.
	KickReasonReplaced = "session replaced by a new connection"

	// KickReasonLoggedOut is sent to a connection whose identity logged out.
	KickReasonLoggedOut = "logged out"

	// KickReasonShutdown is sent to every connection when the server stops.
	KickReasonShutdown = "server shutting down"

	teardownTimeout = 15 * time.Second
)

// Config holds the engine settings.
type Config struct {
	Rooms               []string
	DefaultRoom         string
	RoomMessageLimit    int
	PrivateMessageLimit int
}

// Claims is the verified identity claim attached to a connection attempt.
// ID is empty for a nickname that has never been stored.
type Claims struct {
	ID       string
	Nickname string
	Gender   identity.Gender
}

// Session is one connected identity as seen by its connection.
type Session struct {
	Identity identity.Identity

	conn Conn

	mu       sync.Mutex
	closing  bool
	inflight sync.WaitGroup
}

// begin registers an in-flight operation. It fails once teardown started.
func (s *Session) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return false
	}
	s.inflight.Add(1)
	return true
}

func (s *Session) end() { s.inflight.Done() }

// drain blocks new operations and waits for running ones.
func (s *Session) drain() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	s.inflight.Wait()
}

// Coordinator ties connection lifecycle to the registry, rooms, private
// sessions and retention, and dispatches client events.
type Coordinator struct {
	store     store.Store
	registry  *Registry
	presence  *Presence
	tracker   *SessionTracker
	rooms     *Rooms
	retention *Retention
	router    *MessageRouter
	locks     *keyedMutex

	// sessions counts connected sessions not yet disconnected.
	sessions sync.WaitGroup

	logger zerolog.Logger
}

// NewCoordinator builds the engine around st. images may be nil.
func NewCoordinator(st store.Store, images ImageStore, cfg Config) *Coordinator {
	locks := newKeyedMutex()
	presence := NewPresence(st)
	registry := NewRegistry(presence.Trigger)
	presence.Attach(registry)

	tracker := NewSessionTracker()
	rooms := NewRooms(cfg.Rooms, cfg.DefaultRoom)
	retention := NewRetention(st, tracker, registry, locks)

	router := newMessageRouter(st, registry, rooms, tracker, retention, presence, locks, images, RouterConfig{
		RoomMessageLimit:    cfg.RoomMessageLimit,
		PrivateMessageLimit: cfg.PrivateMessageLimit,
	})

	return &Coordinator{
		store:     st,
		registry:  registry,
		presence:  presence,
		tracker:   tracker,
		rooms:     rooms,
		retention: retention,
		router:    router,
		locks:     locks,
		logger:    logx.Component("Coordinator"),
	}
}

// Registry returns the live connection registry.
func (c *Coordinator) Registry() *Registry { return c.registry }

// Presence returns the online list publisher.
func (c *Coordinator) Presence() *Presence { return c.presence }

// Retention returns the history retention enforcer used by the sweeper.
func (c *Coordinator) Retention() *Retention { return c.retention }

// Rooms returns the configured public rooms.
func (c *Coordinator) Rooms() *Rooms { return c.rooms }

// Tracker returns the private session tracker.
func (c *Coordinator) Tracker() *SessionTracker { return c.tracker }

// ResolveGuest checks that nickname can be used right now and returns the
// claims to sign. An offline identity holding the nickname is reused; an
// unseen nickname gets a fresh id that is stored on first connect.
func (c *Coordinator) ResolveGuest(ctx context.Context, nickname string, gender identity.Gender) (Claims, error) {
	nickname = identity.NormalizeNickname(nickname)

	unlock := c.locks.Lock(nickLock(nickname))
	defer unlock()

	ident, err := c.store.GetIdentityByNickname(ctx, nickname)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return Claims{ID: uuid.NewString(), Nickname: nickname, Gender: gender}, nil
	case err != nil:
		return Claims{}, errs.NewError(errs.ErrPersistenceFailure, err)
	case c.registry.IsOnline(ident.ID):
		return Claims{}, errs.NewError(errs.ErrNicknameTaken)
	default:
		return Claims{ID: ident.ID, Nickname: ident.Nickname, Gender: ident.Gender}, nil
	}
}

// Connect attaches conn for the identity named by claims. Nil claims are
// rejected without touching any state.
func (c *Coordinator) Connect(ctx context.Context, claims *Claims, conn Conn) (*Session, error) {
	if claims == nil || identity.NormalizeNickname(claims.Nickname) == "" {
		return nil, errs.NewError(errs.ErrUnauthenticated)
	}
	nickname := identity.NormalizeNickname(claims.Nickname)

	unlockNick := c.locks.Lock(nickLock(nickname))
	defer unlockNick()

	ident, err := c.resolveIdentity(ctx, claims, nickname)
	if err != nil {
		return nil, err
	}

	unlockID := c.locks.Lock(identityLock(ident.ID))
	defer unlockID()

	online, err := c.store.MarkOnline(ctx, ident.ID)
	if errors.Is(err, store.ErrNotFound) {
		// ghost-deleted by a disconnect that finished after resolveIdentity
		online, err = c.createIdentity(ctx, ident)
	}
	if err != nil {
		return nil, asPersistence(err)
	}

	session := &Session{Identity: online, conn: conn}
	c.sessions.Add(1)

	if prev := c.registry.Register(online.ID, conn); prev != nil {
		c.logger.Info().Str("user_id", online.ID).Msg("Replacing existing connection")
		kicked := errs.NewError(errs.ErrSessionKicked)
		_ = prev.Send(EventError, ErrorPayload{Code: kicked.Code, Message: kicked.Message})
		prev.Close(KickReasonReplaced)
	}
	c.rooms.Join(c.rooms.Default(), online.ID)

	c.logger.Info().
		Str("user_id", online.ID).
		Str("nickname", online.Nickname).
		Str("conn_id", conn.ID()).
		Msg("Identity connected")

	return session, nil
}

// resolveIdentity finds or creates the identity for claims. Caller holds the nickname lock.
func (c *Coordinator) resolveIdentity(ctx context.Context, claims *Claims, nickname string) (identity.Identity, error) {
	if claims.ID != "" {
		ident, err := c.store.GetIdentity(ctx, claims.ID)
		if err == nil {
			return ident, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return identity.Identity{}, errs.NewError(errs.ErrPersistenceFailure, err)
		}
	}

	ident, err := c.store.GetIdentityByNickname(ctx, nickname)
	switch {
	case err == nil:
		// a token bound to another id must not take this identity over
		if c.registry.IsOnline(ident.ID) || (claims.ID != "" && claims.ID != ident.ID) {
			return identity.Identity{}, errs.NewError(errs.ErrNicknameTaken)
		}
		return ident, nil
	case errors.Is(err, store.ErrNotFound):
		return c.createIdentity(ctx, identity.Identity{ID: claims.ID, Nickname: nickname, Gender: claims.Gender})
	default:
		return identity.Identity{}, errs.NewError(errs.ErrPersistenceFailure, err)
	}
}

func (c *Coordinator) createIdentity(ctx context.Context, ident identity.Identity) (identity.Identity, error) {
	if _, err := uuid.Parse(ident.ID); err != nil {
		ident.ID = uuid.NewString()
	}
	if _, ok := identity.ParseGender(string(ident.Gender)); !ok {
		return identity.Identity{}, errs.NewError(errs.ErrInvalidGender)
	}

	created, err := c.store.CreateIdentity(ctx, ident)
	if errors.Is(err, store.ErrConflict) {
		return identity.Identity{}, errs.NewError(errs.ErrNicknameTaken)
	}
	if err != nil {
		return identity.Identity{}, errs.NewError(errs.ErrPersistenceFailure, err)
	}

	c.logger.Info().Str("user_id", created.ID).Str("nickname", created.Nickname).Msg("Identity created")
	return created, nil
}

// Disconnect tears the session down once its in-flight sends completed. A
// session already replaced by a newer connection is ignored.
func (c *Coordinator) Disconnect(ctx context.Context, s *Session) error {
	defer c.sessions.Done()
	s.drain()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()

	id := s.Identity.ID

	unlock := c.locks.Lock(identityLock(id))
	defer unlock()

	if cur, ok := c.registry.Conn(id); !ok || cur != s.conn {
		c.logger.Debug().Str("user_id", id).Str("conn_id", s.conn.ID()).Msg("Ignoring stale disconnect")
		return nil
	}

	var errList []error

	for _, pair := range c.tracker.SessionsOf(id) {
		if err := c.leavePrivate(ctx, s.Identity, pair); err != nil {
			errList = append(errList, err)
		}
	}

	c.rooms.LeaveAll(id)
	c.registry.UnregisterConn(id, s.conn)

	if err := c.retire(ctx, id); err != nil {
		errList = append(errList, err)
	}

	err := errors.Join(errList...)
	if err != nil {
		c.logger.Error().Err(err).Str("user_id", id).Msg("Disconnect finished with errors")
	} else {
		c.logger.Info().Str("user_id", id).Str("conn_id", s.conn.ID()).Msg("Identity disconnected")
	}
	return err
}

// retire deletes a ghost identity or marks a real one offline. Caller holds the identity lock.
func (c *Coordinator) retire(ctx context.Context, id string) error {
	sent, err := c.store.HasSentMessage(ctx, id)
	if err != nil {
		return fmt.Errorf("check messages of %s: %w", id, err)
	}

	if !sent {
		if err := c.store.DeleteIdentity(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("delete ghost %s: %w", id, err)
		}
		c.logger.Info().Str("user_id", id).Msg("Ghost identity removed")
		return nil
	}

	if err := c.store.MarkOffline(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("mark %s offline: %w", id, err)
	}
	return nil
}

// Logout retires id. A live connection is closed and retired by its own Disconnect.
func (c *Coordinator) Logout(ctx context.Context, id string) error {
	unlock := c.locks.Lock(identityLock(id))
	defer unlock()

	if conn, ok := c.registry.Conn(id); ok {
		conn.Close(KickReasonLoggedOut)
		return nil
	}

	if err := c.retire(ctx, id); err != nil {
		return errs.NewError(errs.ErrPersistenceFailure, err)
	}
	return nil
}

// isCurrent reports whether s still owns its identity's registry slot.
func (c *Coordinator) isCurrent(s *Session) bool {
	cur, ok := c.registry.Conn(s.Identity.ID)
	return ok && cur == s.conn
}

// JoinRoom subscribes the session to a room.
func (c *Coordinator) JoinRoom(s *Session, roomID string) error {
	if !c.isCurrent(s) {
		return errs.NewError(errs.ErrUnauthenticated)
	}
	if !c.rooms.Exists(roomID) {
		return errs.NewError(errs.ErrRoomNotFound)
	}

	c.rooms.Join(roomID, s.Identity.ID)
	return nil
}

// LeaveRoom drops a room subscription.
func (c *Coordinator) LeaveRoom(s *Session, roomID string) error {
	if !c.isCurrent(s) {
		return errs.NewError(errs.ErrUnauthenticated)
	}
	if !c.rooms.Exists(roomID) {
		return errs.NewError(errs.ErrRoomNotFound)
	}

	c.rooms.Leave(roomID, s.Identity.ID)
	return nil
}

// JoinPrivate marks the session present in its private chat with otherID and
// marks the messages otherID sent in it as read. Joining twice is the same as
// joining once.
func (c *Coordinator) JoinPrivate(ctx context.Context, s *Session, otherID string) error {
	pair, err := c.privatePair(ctx, s, otherID)
	if err != nil {
		return err
	}

	unlock := c.locks.Lock(pairLock(pair))
	defer unlock()

	if c.tracker.Join(pair, s.Identity.ID) {
		c.logger.Debug().Str("user_id", s.Identity.ID).Str("pair", pair.Key()).Msg("Joined private chat")
	}

	if _, err := c.store.MarkRead(ctx, s.Identity.ID, store.ReadTarget{OtherUserID: otherID}); err != nil {
		c.logger.Warn().Err(err).Str("user_id", s.Identity.ID).Str("pair", pair.Key()).Msg("Failed to mark private chat read")
	}
	return nil
}

// LeavePrivate marks the session absent from its private chat with otherID.
// The chat is purged when nobody is left in it.
func (c *Coordinator) LeavePrivate(ctx context.Context, s *Session, otherID string) error {
	if !c.isCurrent(s) {
		return errs.NewError(errs.ErrUnauthenticated)
	}
	if otherID == "" || otherID == s.Identity.ID {
		return errs.NewError(errs.ErrInvalidParams)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := c.leavePrivate(ctx, s.Identity, store.NewPair(s.Identity.ID, otherID)); err != nil {
		return errs.NewError(errs.ErrPersistenceFailure, err)
	}
	return nil
}

// leavePrivate is the shared explicit and implicit leave. Tracker state only
// changes after a purge succeeded.
func (c *Coordinator) leavePrivate(ctx context.Context, who identity.Identity, pair store.Pair) error {
	unlock := c.locks.Lock(pairLock(pair))
	defer unlock()

	if c.tracker.WouldEnd(pair, who.ID) {
		return c.retention.PurgePair(ctx, pair)
	}

	c.tracker.Leave(pair, who.ID)

	other := pair.Other(who.ID)
	if conn, ok := c.registry.Conn(other); ok {
		payload := PrivateChatLeftPayload{UserID: who.ID, Nickname: who.Nickname}
		if err := conn.Send(EventPrivateChatLeft, payload); err != nil {
			c.logger.Warn().Err(err).Str("user_id", other).Msg("Dropped private_chat_left")
		}
	}
	return nil
}

func (c *Coordinator) privatePair(ctx context.Context, s *Session, otherID string) (store.Pair, error) {
	if !c.isCurrent(s) {
		return store.Pair{}, errs.NewError(errs.ErrUnauthenticated)
	}
	if otherID == "" || otherID == s.Identity.ID {
		return store.Pair{}, errs.NewError(errs.ErrInvalidParams)
	}

	if _, err := c.store.GetIdentity(ctx, otherID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Pair{}, errs.NewError(errs.ErrRecipientNotFound)
		}
		return store.Pair{}, errs.NewError(errs.ErrPersistenceFailure, err)
	}
	return store.NewPair(s.Identity.ID, otherID), nil
}

// SendMessage routes req from the session. Disconnect waits for it to finish.
func (c *Coordinator) SendMessage(ctx context.Context, s *Session, req SendRequest) (store.Message, error) {
	if !s.begin() {
		return store.Message{}, errs.NewError(errs.ErrUnauthenticated)
	}
	defer s.end()

	if !c.isCurrent(s) {
		return store.Message{}, errs.NewError(errs.ErrUnauthenticated)
	}
	return c.router.Send(ctx, s.Identity.ID, req)
}

// Typing relays a typing indicator from the session.
func (c *Coordinator) Typing(s *Session, req TypingRequest, stop bool) error {
	if !c.isCurrent(s) {
		return errs.NewError(errs.ErrUnauthenticated)
	}
	return c.router.Typing(s.Identity.ID, s.Identity.Nickname, req, stop)
}

// Shutdown closes every live connection and waits until their Disconnect
// calls finished or ctx is done.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	conns := c.registry.snapshot()
	c.logger.Info().Int("connections", len(conns)).Msg("Shutting down chat engine...")

	for _, conn := range conns {
		conn.Close(KickReasonShutdown)
	}

	done := make(chan struct{})
	go func() {
		c.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info().Msg("Chat engine shutdown complete.")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("chat engine shutdown: %w", ctx.Err())
	}
}

// asPersistence keeps CustomErrors and wraps anything else as ErrPersistenceFailure.
func asPersistence(err error) error {
	var customErr *errs.CustomError
	if errors.As(err, &customErr) {
		return customErr
	}
	return errs.NewError(errs.ErrPersistenceFailure, err)
}
