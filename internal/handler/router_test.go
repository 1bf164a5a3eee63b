package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lfchat/internal/app/chat"
	"lfchat/internal/app/identity"
	"lfchat/internal/app/store"
	"lfchat/internal/configs"
	"lfchat/internal/pkg/auth/jwt"
	"lfchat/internal/pkg/errs"
	"lfchat/internal/pkg/resp"
)

const testSecret = "handler-test-secret"

// memStore keeps identities in memory; message reads return the seeded slice.
// Methods the handlers never reach are left to the nil embedded interface.
type memStore struct {
	store.Store

	mu         sync.Mutex
	identities map[string]identity.Identity
	messages   []store.Message
	unread     store.UnreadCounts
	readMarks  []store.ReadTarget
}

func newMemStore() *memStore {
	return &memStore{identities: make(map[string]identity.Identity)}
}

func (s *memStore) GetIdentity(_ context.Context, id string) (identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.identities[id]
	if !ok {
		return identity.Identity{}, store.ErrNotFound
	}
	return ident, nil
}

func (s *memStore) GetIdentityByNickname(_ context.Context, nickname string) (identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ident := range s.identities {
		if strings.EqualFold(ident.Nickname, nickname) {
			return ident, nil
		}
	}
	return identity.Identity{}, store.ErrNotFound
}

func (s *memStore) CreateIdentity(_ context.Context, ident identity.Identity) (identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident.IsOnline = true
	s.identities[ident.ID] = ident
	return ident, nil
}

func (s *memStore) MarkOnline(_ context.Context, id string) (identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.identities[id]
	if !ok {
		return identity.Identity{}, store.ErrNotFound
	}
	ident.IsOnline = true
	s.identities[id] = ident
	return ident, nil
}

func (s *memStore) HasSentMessage(context.Context, string) (bool, error) { return false, nil }

func (s *memStore) DeleteIdentity(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.identities, id)
	return nil
}

func (s *memStore) ListIdentities(_ context.Context, ids []string) ([]identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []identity.Identity{}
	for _, id := range ids {
		if ident, ok := s.identities[id]; ok {
			out = append(out, ident)
		}
	}
	return out, nil
}

func (s *memStore) RoomMessages(context.Context, string, store.Page) ([]store.Message, error) {
	return s.messages, nil
}

func (s *memStore) MarkRead(_ context.Context, _ string, target store.ReadTarget) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.readMarks = append(s.readMarks, target)
	return 1, nil
}

func (s *memStore) UnreadCounts(context.Context, string) (store.UnreadCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.unread, nil
}

// memStorage records deletes and signs fake URLs.
type memStorage struct {
	deleted []string
}

func (m *memStorage) PresignUpload(_ context.Context, key, _ string, _ int64, _ time.Duration) (string, error) {
	return "https://bucket.example/" + key + "?upload", nil
}

func (m *memStorage) PresignDownload(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://bucket.example/" + key, nil
}

func (m *memStorage) Delete(_ context.Context, key string) error {
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *memStorage) GetObjectMetadata(context.Context, string) (map[string]string, error) {
	return map[string]string{}, nil
}

type testServer struct {
	*httptest.Server
	deps  *AppDeps
	store *memStore
}

func newTestServer(t *testing.T, storage *memStorage) *testServer {
	t.Helper()

	st := newMemStore()
	cfg := &configs.AppConfig{
		Environment:         configs.DevelopmentEnv,
		JWTSecret:           testSecret,
		Rooms:               []string{"public", "girls"},
		DefaultRoom:         "public",
		RoomMessageLimit:    500,
		PrivateMessageLimit: 100,
	}
	deps := &AppDeps{
		Coordinator: chat.NewCoordinator(st, nil, chat.Config{
			Rooms:               cfg.Rooms,
			DefaultRoom:         cfg.DefaultRoom,
			RoomMessageLimit:    cfg.RoomMessageLimit,
			PrivateMessageLimit: cfg.PrivateMessageLimit,
		}),
		Config: cfg,
		Store:  st,
	}
	if storage != nil {
		deps.StorageService = storage
	}

	srv := httptest.NewServer(Router(deps))
	t.Cleanup(func() {
		srv.Close()
		deps.Coordinator.Presence().Wait()
	})
	return &testServer{Server: srv, deps: deps, store: st}
}

func (s *testServer) token(t *testing.T, id, nickname string) string {
	t.Helper()

	token, err := jwt.GenerateToken(&jwt.Payload{ID: id, Nickname: nickname, Gender: "female"}, testSecret, time.Hour)
	require.NoError(t, err)
	return token
}

// do sends a request and decodes the standard response envelope.
func (s *testServer) do(t *testing.T, method, path, token, body string) (int, resp.JSONResponse) {
	t.Helper()

	r, err := http.NewRequest(method, s.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		r.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	res, err := client.Do(r)
	require.NoError(t, err)
	defer res.Body.Close()

	var out resp.JSONResponse
	if res.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	}
	return res.StatusCode, out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)

	status, body := s.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0, body.Code)
}

func TestGuestLogin(t *testing.T) {
	s := newTestServer(t, nil)

	status, body := s.do(t, http.MethodPost, "/api/auth/guest-login", "", `{"nickname":" alice ","gender":"female"}`)
	require.Equal(t, http.StatusOK, status)

	data := body.Data.(map[string]any)
	payload, err := jwt.ParseToken(data["token"].(string), testSecret)
	require.NoError(t, err)
	assert.Equal(t, "alice", payload.Nickname)
	assert.NotEmpty(t, payload.ID)
	assert.False(t, s.store.identities[payload.ID].IsOnline, "identity is stored on first connect")

	tests := []struct {
		name string
		body string
		code int
	}{
		{name: "short nickname", body: `{"nickname":"a","gender":"female"}`, code: errs.ErrInvalidNickname},
		{name: "bad gender", body: `{"nickname":"alice","gender":"robot"}`, code: errs.ErrInvalidGender},
		{name: "unknown field", body: `{"nickname":"alice","gender":"male","age":3}`, code: errs.ErrInvalidJSONFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := s.do(t, http.MethodPost, "/api/auth/guest-login", "", tt.body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, tt.code, body.Code)
		})
	}
}

func TestGuestLogin_NicknameHeldByOnlineIdentity(t *testing.T) {
	s := newTestServer(t, nil)

	token := s.token(t, uuid.NewString(), "alice")
	ws := s.dial(t, token)
	defer ws.Close()
	s.waitOnline(t, 1)

	status, body := s.do(t, http.MethodPost, "/api/auth/guest-login", "", `{"nickname":"ALICE","gender":"male"}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, errs.ErrNicknameTaken, body.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t, nil)

	for _, path := range []string{"/api/auth/me", "/api/users/online", "/api/messages/room/public"} {
		status, body := s.do(t, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusUnauthorized, status, path)
		assert.Equal(t, errs.ErrUnauthenticated, body.Code, path)
	}

	status, _ := s.do(t, http.MethodGet, "/api/auth/me", "not-a-token", "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestMeDescribesUnstoredIdentity(t *testing.T) {
	s := newTestServer(t, nil)
	id := uuid.NewString()

	status, body := s.do(t, http.MethodGet, "/api/auth/me", s.token(t, id, "alice"), "")
	require.Equal(t, http.StatusOK, status)

	user := body.Data.(map[string]any)["user"].(map[string]any)
	assert.Equal(t, id, user["id"])
	assert.Equal(t, false, user["isOnline"])
}

func TestRoomHistory(t *testing.T) {
	s := newTestServer(t, nil)
	token := s.token(t, uuid.NewString(), "alice")
	s.store.messages = []store.Message{{ID: 1, Content: "hi", Kind: store.KindText, RoomID: "public"}}

	status, body := s.do(t, http.MethodGet, "/api/messages/room/public?limit=10", token, "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body.Data.(map[string]any)["messages"], 1)

	status, body = s.do(t, http.MethodGet, "/api/messages/room/lobby", token, "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, errs.ErrRoomNotFound, body.Code)

	status, _ = s.do(t, http.MethodGet, "/api/messages/room/public?limit=0", token, "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestReadState(t *testing.T) {
	s := newTestServer(t, nil)
	token := s.token(t, uuid.NewString(), "alice")
	bobID := uuid.NewString()
	s.store.unread = store.UnreadCounts{Rooms: map[string]int{"public": 3}, PrivateChats: map[string]int{bobID: 1}}

	status, body := s.do(t, http.MethodGet, "/api/messages/unread-counts", token, "")
	require.Equal(t, http.StatusOK, status)
	counts := body.Data.(map[string]any)["unreadCounts"].(map[string]any)
	assert.Equal(t, map[string]any{"public": float64(3)}, counts["rooms"])
	assert.Equal(t, map[string]any{bobID: float64(1)}, counts["privateChats"])

	status, _ = s.do(t, http.MethodPost, "/api/messages/mark-read", token, `{"otherUserId":"`+bobID+`"}`)
	require.Equal(t, http.StatusOK, status)
	status, _ = s.do(t, http.MethodPost, "/api/messages/mark-read", token, `{"roomId":"girls"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []store.ReadTarget{{OtherUserID: bobID}, {RoomID: "girls"}}, s.store.readMarks)

	tests := []struct {
		name   string
		body   string
		status int
		code   int
	}{
		{name: "no target", body: `{}`, status: http.StatusBadRequest, code: errs.ErrInvalidParams},
		{name: "both targets", body: `{"roomId":"public","otherUserId":"` + bobID + `"}`, status: http.StatusBadRequest, code: errs.ErrInvalidParams},
		{name: "unknown room", body: `{"roomId":"lobby"}`, status: http.StatusNotFound, code: errs.ErrRoomNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := s.do(t, http.MethodPost, "/api/messages/mark-read", token, tt.body)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, body.Code)
		})
	}
	assert.Len(t, s.store.readMarks, 2)

	status, _ = s.do(t, http.MethodGet, "/api/messages/unread-counts", "", "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestImageEndpoints(t *testing.T) {
	t.Run("storage disabled", func(t *testing.T) {
		s := newTestServer(t, nil)
		token := s.token(t, uuid.NewString(), "alice")

		status, body := s.do(t, http.MethodPost, "/api/messages/image/presign", token,
			`{"fileName":"cat.png","mimeType":"image/png","fileSize":100}`)
		assert.Equal(t, http.StatusServiceUnavailable, status)
		assert.Equal(t, errs.ErrFileStorageFailed, body.Code)
	})

	t.Run("storage enabled", func(t *testing.T) {
		storage := &memStorage{}
		s := newTestServer(t, storage)
		id := uuid.NewString()
		token := s.token(t, id, "alice")

		status, body := s.do(t, http.MethodPost, "/api/messages/image/presign", token,
			`{"fileName":"cat.png","mimeType":"image/png","fileSize":100}`)
		require.Equal(t, http.StatusOK, status)
		key := body.Data.(map[string]any)["fileKey"].(string)
		assert.True(t, chat.OwnsImageKey(id, key))

		status, body = s.do(t, http.MethodPost, "/api/messages/image/presign", token,
			`{"fileName":"cat.png","mimeType":"image/png","fileSize":104857600}`)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, errs.ErrFileSizeTooLarge, body.Code)

		status, _ = s.do(t, http.MethodGet, "/api/messages/image?key="+key, token, "")
		assert.Equal(t, http.StatusFound, status)

		other := chat.ImageKeyPrefix(uuid.NewString()) + "dog.png"
		status, body = s.do(t, http.MethodDelete, "/api/messages/image?key="+other, token, "")
		assert.Equal(t, http.StatusForbidden, status)
		assert.Equal(t, errs.ErrForbidden, body.Code)

		status, _ = s.do(t, http.MethodDelete, "/api/messages/image?key="+key, token, "")
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, []string{key}, storage.deleted)
	})
}

func (s *testServer) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()

	u := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws?token=" + token
	ws, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	return ws
}

func (s *testServer) waitOnline(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return s.deps.Coordinator.Registry().Len() == n },
		2*time.Second, 5*time.Millisecond)
}

func TestWebSocket(t *testing.T) {
	s := newTestServer(t, nil)

	t.Run("rejects missing token before upgrade", func(t *testing.T) {
		_, res, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.URL, "http")+"/ws", nil)
		require.Error(t, err)
		require.NotNil(t, res)
		assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	})

	t.Run("connect publishes presence and close retires the ghost", func(t *testing.T) {
		id := uuid.NewString()
		ws := s.dial(t, s.token(t, id, "alice"))

		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		var env struct {
			Event string              `json:"event"`
			Data  []identity.Presence `json:"data"`
		}
		require.NoError(t, ws.ReadJSON(&env))
		assert.Equal(t, string(chat.EventOnlineUsersUpdated), env.Event)
		require.Len(t, env.Data, 1)
		assert.Equal(t, id, env.Data[0].ID)

		status, body := s.do(t, http.MethodGet, "/api/users/online", s.token(t, id, "alice"), "")
		require.Equal(t, http.StatusOK, status)
		assert.Len(t, body.Data.(map[string]any)["users"], 1)

		require.NoError(t, ws.Close())
		s.waitOnline(t, 0)
		require.Eventually(t, func() bool {
			_, err := s.store.GetIdentity(context.Background(), id)
			return err != nil
		}, 2*time.Second, 5*time.Millisecond)
	})
}
