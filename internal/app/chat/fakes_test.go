package chat

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"lfchat/internal/app/identity"
	"lfchat/internal/app/store"
)

// fakeClock is a settable time source shared by the store and the engine.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeStore is an in-memory store.Store.
type fakeStore struct {
	mu         sync.Mutex
	now        func() time.Time
	identities map[string]identity.Identity
	messages   []store.Message
	nextID     int64

	// sent marks identities that ever authored a message.
	sent map[string]bool
	// reads holds message ids read per identity.
	reads map[string]map[int64]bool

	// failures injected by tests
	insertErr error
	deleteErr error
}

var _ store.Store = (*fakeStore)(nil)

func newFakeStore(now func() time.Time) *fakeStore {
	return &fakeStore{
		now:        now,
		identities: make(map[string]identity.Identity),
		sent:       make(map[string]bool),
		reads:      make(map[string]map[int64]bool),
	}
}

func (s *fakeStore) GetIdentity(_ context.Context, id string) (identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.identities[id]
	if !ok {
		return identity.Identity{}, store.ErrNotFound
	}
	return ident, nil
}

func (s *fakeStore) GetIdentityByNickname(_ context.Context, nickname string) (identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ident := range s.identities {
		if strings.EqualFold(ident.Nickname, nickname) {
			return ident, nil
		}
	}
	return identity.Identity{}, store.ErrNotFound
}

func (s *fakeStore) CreateIdentity(_ context.Context, ident identity.Identity) (identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.identities {
		if strings.EqualFold(existing.Nickname, ident.Nickname) || existing.ID == ident.ID {
			return identity.Identity{}, store.ErrConflict
		}
	}
	if ident.ID == "" {
		ident.ID = uuid.NewString()
	}
	ident.IsOnline = true
	ident.CreatedAt = s.now()
	ident.LastActive = s.now()
	s.identities[ident.ID] = ident
	return ident, nil
}

func (s *fakeStore) MarkOnline(_ context.Context, id string) (identity.Identity, error) {
	return s.setOnline(id, true)
}

func (s *fakeStore) MarkOffline(_ context.Context, id string) error {
	_, err := s.setOnline(id, false)
	return err
}

func (s *fakeStore) setOnline(id string, online bool) (identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.identities[id]
	if !ok {
		return identity.Identity{}, store.ErrNotFound
	}
	ident.IsOnline = online
	ident.LastActive = s.now()
	s.identities[id] = ident
	return ident, nil
}

func (s *fakeStore) TouchIdentity(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.identities[id]
	if !ok {
		return store.ErrNotFound
	}
	ident.LastActive = s.now()
	s.identities[id] = ident
	return nil
}

func (s *fakeStore) DeleteIdentity(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.identities[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.identities, id)
	delete(s.sent, id)
	delete(s.reads, id)
	s.messages = slices.DeleteFunc(s.messages, func(m store.Message) bool {
		return m.SenderID == id || m.RecipientID == id
	})
	return nil
}

func (s *fakeStore) HasSentMessage(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sent[id], nil
}

func (s *fakeStore) ListIdentities(_ context.Context, ids []string) ([]identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []identity.Identity{}
	for _, id := range ids {
		if ident, ok := s.identities[id]; ok {
			out = append(out, ident)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nickname < out[j].Nickname })
	return out, nil
}

func (s *fakeStore) ResetOnline(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, ident := range s.identities {
		if ident.IsOnline {
			ident.IsOnline = false
			s.identities[id] = ident
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) DeleteStaleGhosts(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, ident := range s.identities {
		if !ident.IsOnline && !s.sent[id] && ident.CreatedAt.Before(cutoff) {
			delete(s.identities, id)
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) InsertMessage(_ context.Context, msg store.NewMessage) (store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.insertErr != nil {
		return store.Message{}, s.insertErr
	}

	sender, ok := s.identities[msg.SenderID]
	if !ok {
		return store.Message{}, store.ErrInvalidReference
	}
	if msg.IsPrivate {
		if _, ok := s.identities[msg.RecipientID]; !ok {
			return store.Message{}, store.ErrInvalidReference
		}
	}

	s.nextID++
	stored := store.Message{
		ID:          s.nextID,
		SenderID:    msg.SenderID,
		Nickname:    sender.Nickname,
		RoomID:      msg.RoomID,
		RecipientID: msg.RecipientID,
		Content:     msg.Content,
		Kind:        msg.Kind,
		IsPrivate:   msg.IsPrivate,
		CreatedAt:   s.now(),
	}
	s.messages = append(s.messages, stored)
	s.sent[msg.SenderID] = true
	return stored, nil
}

func inPair(m store.Message, pair store.Pair) bool {
	return m.IsPrivate && store.NewPair(m.SenderID, m.RecipientID) == pair
}

func inRoom(m store.Message, roomID string) bool {
	return !m.IsPrivate && m.RoomID == roomID
}

// trim keeps the newest keep messages matching match.
func (s *fakeStore) trim(match func(store.Message) bool, keep int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int64
	for _, m := range s.messages {
		if match(m) {
			ids = append(ids, m.ID)
		}
	}
	if len(ids) <= keep {
		return 0
	}

	slices.Sort(ids)
	drop := ids[:len(ids)-keep]
	s.messages = slices.DeleteFunc(s.messages, func(m store.Message) bool {
		return slices.Contains(drop, m.ID)
	})
	return int64(len(drop))
}

func (s *fakeStore) TrimRoom(_ context.Context, roomID string, keep int) (int64, error) {
	return s.trim(func(m store.Message) bool { return inRoom(m, roomID) }, keep), nil
}

func (s *fakeStore) TrimPrivate(_ context.Context, pair store.Pair, keep int) (int64, error) {
	return s.trim(func(m store.Message) bool { return inPair(m, pair) }, keep), nil
}

func (s *fakeStore) DeletePrivateMessages(_ context.Context, pair store.Pair) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deleteErr != nil {
		return 0, s.deleteErr
	}

	before := len(s.messages)
	s.messages = slices.DeleteFunc(s.messages, func(m store.Message) bool { return inPair(m, pair) })
	return int64(before - len(s.messages)), nil
}

func (s *fakeStore) InactivePrivatePairs(_ context.Context, cutoff time.Time) ([]store.Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	newest := make(map[store.Pair]time.Time)
	for _, m := range s.messages {
		if !m.IsPrivate {
			continue
		}
		p := store.NewPair(m.SenderID, m.RecipientID)
		if m.CreatedAt.After(newest[p]) {
			newest[p] = m.CreatedAt
		}
	}

	var pairs []store.Pair
	for p, t := range newest {
		if t.Before(cutoff) {
			pairs = append(pairs, p)
		}
	}
	return pairs, nil
}

func (s *fakeStore) page(match func(store.Message) bool, page store.Page) []store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []store.Message
	for i := len(s.messages) - 1; i >= 0; i-- {
		if match(s.messages[i]) {
			matched = append(matched, s.messages[i])
		}
	}

	if page.Offset >= len(matched) {
		return []store.Message{}
	}
	matched = matched[page.Offset:]
	if page.Limit > 0 && len(matched) > page.Limit {
		matched = matched[:page.Limit]
	}
	slices.Reverse(matched)
	return matched
}

func (s *fakeStore) RoomMessages(_ context.Context, roomID string, page store.Page) ([]store.Message, error) {
	return s.page(func(m store.Message) bool { return inRoom(m, roomID) }, page), nil
}

func (s *fakeStore) PrivateMessages(_ context.Context, pair store.Pair, page store.Page) ([]store.Message, error) {
	return s.page(func(m store.Message) bool { return inPair(m, pair) }, page), nil
}

// readable reports whether m counts toward userID's read state for target.
func readable(m store.Message, userID string, target store.ReadTarget) bool {
	if target.RoomID != "" {
		return inRoom(m, target.RoomID) && m.SenderID != userID
	}
	return m.IsPrivate && m.SenderID == target.OtherUserID && m.RecipientID == userID
}

func (s *fakeStore) MarkRead(_ context.Context, userID string, target store.ReadTarget) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if (target.RoomID == "") == (target.OtherUserID == "") {
		return 0, fmt.Errorf("mark read: bad target %+v", target)
	}

	read := s.reads[userID]
	if read == nil {
		read = make(map[int64]bool)
		s.reads[userID] = read
	}

	var n int64
	for _, m := range s.messages {
		if readable(m, userID, target) && !read[m.ID] {
			read[m.ID] = true
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) UnreadCounts(_ context.Context, userID string) (store.UnreadCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := store.UnreadCounts{Rooms: map[string]int{}, PrivateChats: map[string]int{}}
	for _, m := range s.messages {
		if s.reads[userID][m.ID] {
			continue
		}
		switch {
		case !m.IsPrivate && m.SenderID != userID:
			counts.Rooms[m.RoomID]++
		case m.IsPrivate && m.RecipientID == userID:
			counts.PrivateChats[m.SenderID]++
		}
	}
	return counts, nil
}

// unread returns userID's unread private count from otherID.
func (e *testEngine) unread(t *testing.T, userID, otherID string) int {
	t.Helper()

	counts, err := e.store.UnreadCounts(context.Background(), userID)
	require.NoError(t, err)
	return counts.PrivateChats[otherID]
}

// count returns the number of stored messages matching match.
func (s *fakeStore) count(match func(store.Message) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, m := range s.messages {
		if match(m) {
			n++
		}
	}
	return n
}

func (s *fakeStore) hasIdentity(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.identities[id]
	return ok
}

// recorded is one event captured by recordingConn.
type recorded struct {
	Event EventType
	Data  any
}

// recordingConn is a Conn that keeps every event it is sent.
type recordingConn struct {
	id string

	mu       sync.Mutex
	events   []recorded
	closed   bool
	reason   string
	failSend bool
}

func newRecordingConn() *recordingConn {
	return &recordingConn{id: uuid.NewString()}
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Send(event EventType, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failSend || c.closed {
		return ErrSendQueueFull
	}
	c.events = append(c.events, recorded{Event: event, Data: payload})
	return nil
}

func (c *recordingConn) Close(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.reason = reason
}

// of returns the payloads of every event of type event.
func (c *recordingConn) of(event EventType) []any {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []any
	for _, r := range c.events {
		if r.Event == event {
			out = append(out, r.Data)
		}
	}
	return out
}

func (c *recordingConn) messages() []store.Message {
	var out []store.Message
	for _, d := range c.of(EventNewMessage) {
		out = append(out, d.(store.Message))
	}
	return out
}

func (c *recordingConn) isClosed() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.reason
}

func (c *recordingConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

// testEngine bundles a coordinator with its fake store and clock.
type testEngine struct {
	*Coordinator
	store *fakeStore
	clock *fakeClock
}

var testRooms = []string{"public", "girls", "boys", "couple"}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	return newTestEngineWithLimits(t, 500, 100)
}

func newTestEngineWithLimits(t *testing.T, roomLimit, privateLimit int) *testEngine {
	t.Helper()

	clock := newFakeClock()
	st := newFakeStore(clock.Now)

	c := NewCoordinator(st, nil, Config{
		Rooms:               testRooms,
		DefaultRoom:         "public",
		RoomMessageLimit:    roomLimit,
		PrivateMessageLimit: privateLimit,
	})
	c.tracker.now = clock.Now
	c.retention.now = clock.Now

	t.Cleanup(c.presence.Wait)

	return &testEngine{Coordinator: c, store: st, clock: clock}
}

// connect attaches a fresh recording connection for nickname.
func (e *testEngine) connect(t *testing.T, nickname string) (*Session, *recordingConn) {
	t.Helper()

	conn := newRecordingConn()
	s, err := e.Connect(context.Background(), &Claims{Nickname: nickname, Gender: identity.GenderFemale}, conn)
	require.NoError(t, err)
	return s, conn
}

// seedRoom stores n messages in roomID from authorID.
func (e *testEngine) seedRoom(t *testing.T, roomID, authorID string, n int) {
	t.Helper()

	for i := 0; i < n; i++ {
		_, err := e.store.InsertMessage(context.Background(), store.NewMessage{
			SenderID: authorID,
			RoomID:   roomID,
			Content:  fmt.Sprintf("seed %d", i),
			Kind:     store.KindText,
		})
		require.NoError(t, err)
	}
}
