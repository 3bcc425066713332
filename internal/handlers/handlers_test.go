package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yakka/backend/internal/apperrors"
	"github.com/yakka/backend/internal/auth"
	"github.com/yakka/backend/internal/envelope"
	"github.com/yakka/backend/internal/models"
	"github.com/yakka/backend/internal/repository"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func strPtr(s string) *string { return &s }

type memChats struct {
	chats  map[uuid.UUID]*models.ChatWithParticipants
	unread map[uuid.UUID]map[uuid.UUID]bool
	list   []repository.ChatListItem
	offset int

	// missFind makes FindDirectChat report nothing, as when another
	// request creates the chat between find and create.
	missFind bool
}

func newMemChats() *memChats {
	return &memChats{
		chats:  map[uuid.UUID]*models.ChatWithParticipants{},
		unread: map[uuid.UUID]map[uuid.UUID]bool{},
	}
}

func (m *memChats) FindDirectChat(_ context.Context, a, b uuid.UUID) (uuid.UUID, bool, error) {
	if m.missFind {
		return uuid.Nil, false, nil
	}
	return m.find(a, b)
}

func (m *memChats) find(a, b uuid.UUID) (uuid.UUID, bool, error) {
	for id, c := range m.chats {
		if len(c.Participants) == 2 &&
			(c.Participants[0].ID == a && c.Participants[1].ID == b || c.Participants[0].ID == b && c.Participants[1].ID == a) {
			return id, true, nil
		}
	}
	return uuid.Nil, false, nil
}

func (m *memChats) CreateDirectChat(_ context.Context, a, b uuid.UUID, wrapped string) (uuid.UUID, bool, error) {
	if id, ok, _ := m.find(a, b); ok {
		return id, false, nil
	}
	id := uuid.New()
	m.chats[id] = &models.ChatWithParticipants{
		Chat:         models.Chat{ID: id, DataKey: wrapped},
		Participants: []models.User{{ID: a}, {ID: b}},
	}
	return id, true, nil
}

func (m *memChats) GetChatWithParticipants(_ context.Context, chatID, userID uuid.UUID) (*models.ChatWithParticipants, error) {
	c, ok := m.chats[chatID]
	if !ok {
		return nil, apperrors.NotFound("chat not found")
	}
	for _, p := range c.Participants {
		if p.ID == userID {
			return c, nil
		}
	}
	return nil, apperrors.NotFound("chat not found")
}

func (m *memChats) SetUnread(_ context.Context, chatID, userID uuid.UUID, unread bool) error {
	if m.unread[chatID] == nil {
		m.unread[chatID] = map[uuid.UUID]bool{}
	}
	m.unread[chatID][userID] = unread
	return nil
}

func (m *memChats) ListForUser(_ context.Context, _ uuid.UUID, limit, offset int) ([]repository.ChatListItem, error) {
	m.offset = offset
	if len(m.list) > limit {
		return m.list[:limit], nil
	}
	return m.list, nil
}

type memMessages struct {
	msgs   []models.Message
	limit  int
	offset int
}

func (m *memMessages) ListByChat(_ context.Context, _ uuid.UUID, limit, offset int) ([]models.Message, error) {
	m.limit, m.offset = limit, offset
	return m.msgs, nil
}

type memUsers struct {
	users    map[uuid.UUID]*models.User
	banned   map[uuid.UUID]bool
	sessions map[uuid.UUID]uuid.UUID
}

func newMemUsers() *memUsers {
	return &memUsers{
		users:    map[uuid.UUID]*models.User{},
		banned:   map[uuid.UUID]bool{},
		sessions: map[uuid.UUID]uuid.UUID{},
	}
}

func (m *memUsers) Create(_ context.Context, u *models.User) error {
	m.users[u.ID] = u
	return nil
}

func (m *memUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, apperrors.NotFound("user not found")
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, apperrors.NotFound("user not found")
}

func (m *memUsers) IsBanned(_ context.Context, id uuid.UUID) (bool, error) {
	return m.banned[id], nil
}

func (m *memUsers) CreateSession(_ context.Context, userID uuid.UUID, ttl time.Duration) (*models.Session, error) {
	s := &models.Session{ID: uuid.New(), UserID: userID, ExpiresAt: time.Now().Add(ttl)}
	m.sessions[s.ID] = userID
	return s, nil
}

func (m *memUsers) DeleteSession(_ context.Context, id uuid.UUID) error {
	delete(m.sessions, id)
	return nil
}

type fakeMedia struct{}

func (fakeMedia) PresignGet(_ context.Context, dir, fileName string) (string, error) {
	return "https://signed.test/" + dir + "/" + fileName, nil
}

func (fakeMedia) PublicURL(dir, fileName string) string {
	return "https://cdn.test/" + dir + "/" + fileName
}

func testVault(t *testing.T) *envelope.Vault {
	t.Helper()
	v, err := envelope.NewVault(make([]byte, envelope.KeySize))
	require.NoError(t, err)
	return v
}

func asUser(userID uuid.UUID) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("user_id", userID)
		c.Set("session_id", uuid.New())
	}
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type chatFixture struct {
	router   *gin.Engine
	chats    *memChats
	messages *memMessages
	users    *memUsers
	vault    *envelope.Vault
	me       uuid.UUID
	other    uuid.UUID
}

func newChatFixture(t *testing.T) *chatFixture {
	f := &chatFixture{
		chats:    newMemChats(),
		messages: &memMessages{},
		users:    newMemUsers(),
		vault:    testVault(t),
		me:       uuid.New(),
		other:    uuid.New(),
	}
	f.users.users[f.me] = &models.User{ID: f.me, FirstName: strPtr("Ana")}
	f.users.users[f.other] = &models.User{ID: f.other, FirstName: strPtr("Ben"), ImageName: strPtr("ben.jpg")}

	h := NewChatHandler(f.chats, f.messages, f.users, f.vault, fakeMedia{})
	r := gin.New()
	api := r.Group("/api", asUser(f.me))
	api.POST("/chats/:userId", h.CreateChat)
	api.GET("/chats", h.GetChats)
	api.GET("/chats/:chatId", h.GetChat)
	api.PUT("/chats/:chatId/read", h.MarkRead)
	f.router = r
	return f
}

func TestCreateChat(t *testing.T) {
	f := newChatFixture(t)

	w := do(f.router, http.MethodPost, "/api/chats/"+f.me.String(), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(f.router, http.MethodPost, "/api/chats/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(f.router, http.MethodPost, "/api/chats/"+f.other.String(), "")
	require.Equal(t, http.StatusCreated, w.Code)
	var created models.CreateChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	key, err := f.vault.Unwrap(f.chats.chats[created.ChatID].DataKey)
	require.NoError(t, err)
	assert.Len(t, key, envelope.KeySize)

	w = do(f.router, http.MethodPost, "/api/chats/"+f.other.String(), "")
	require.Equal(t, http.StatusOK, w.Code)
	var existing models.CreateChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &existing))
	assert.Equal(t, created.ChatID, existing.ChatID)
}

func TestCreateChat_ConcurrentCreateReturnsExisting(t *testing.T) {
	f := newChatFixture(t)
	chatID, _ := f.seedChat(t)
	f.chats.missFind = true

	w := do(f.router, http.MethodPost, "/api/chats/"+f.other.String(), "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.CreateChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, chatID, resp.ChatID)
	assert.Len(t, f.chats.chats, 1)
}

func (f *chatFixture) seedChat(t *testing.T) (uuid.UUID, []byte) {
	t.Helper()
	wrapped, err := f.vault.CreateWrappedKey()
	require.NoError(t, err)
	chatID, _, err := f.chats.CreateDirectChat(context.Background(), f.me, f.other, wrapped)
	require.NoError(t, err)
	key, err := f.vault.Unwrap(wrapped)
	require.NoError(t, err)
	return chatID, key
}

func TestGetChat_DecryptsAndPresigns(t *testing.T) {
	f := newChatFixture(t)
	chatID, key := f.seedChat(t)

	ct, err := envelope.Encrypt("hello there", key)
	require.NoError(t, err)
	legacy, err := envelope.EncryptLegacy("old message", key)
	require.NoError(t, err)

	f.messages.msgs = []models.Message{
		{ID: uuid.New(), ChatID: chatID, SenderID: f.other, Type: models.MessageTypeText, Content: ct},
		{ID: uuid.New(), ChatID: chatID, SenderID: f.me, Type: models.MessageTypeImage, Content: "Ana sent an image", MediaURL: strPtr("a.jpeg")},
		{ID: uuid.New(), ChatID: chatID, SenderID: f.other, Type: models.MessageTypeText, Content: legacy},
	}

	w := do(f.router, http.MethodGet, "/api/chats/"+chatID.String()+"?page=1&limit=3", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.MessagesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 3)
	assert.Equal(t, "hello there", resp.Messages[0].Content)
	require.NotNil(t, resp.Messages[1].MediaURL)
	assert.Equal(t, "https://signed.test/chats/"+chatID.String()+"/images/a.jpeg", *resp.Messages[1].MediaURL)
	assert.Equal(t, "old message", resp.Messages[2].Content)
	require.NotNil(t, resp.NextPage)
	assert.Equal(t, 2, *resp.NextPage)
	assert.Equal(t, 3, f.messages.offset)
}

func TestGetChat_NotMember(t *testing.T) {
	f := newChatFixture(t)
	wrapped, err := f.vault.CreateWrappedKey()
	require.NoError(t, err)
	chatID, _, err := f.chats.CreateDirectChat(context.Background(), f.other, uuid.New(), wrapped)
	require.NoError(t, err)

	w := do(f.router, http.MethodGet, "/api/chats/"+chatID.String(), "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGetChat_BadPage(t *testing.T) {
	f := newChatFixture(t)
	chatID, _ := f.seedChat(t)

	w := do(f.router, http.MethodGet, "/api/chats/"+chatID.String()+"?limit=1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetChats(t *testing.T) {
	f := newChatFixture(t)
	chatID, key := f.seedChat(t)
	ct, err := envelope.Encrypt("see you at five", key)
	require.NoError(t, err)

	f.chats.list = []repository.ChatListItem{{
		ChatID:    chatID,
		DataKey:   f.chats.chats[chatID].DataKey,
		HasUnread: true,
		Recipient: *f.users.users[f.other],
		LastMessage: models.Message{
			ID: uuid.New(), ChatID: chatID, SenderID: f.me, Type: models.MessageTypeText, Content: ct,
		},
	}}

	w := do(f.router, http.MethodGet, "/api/chats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.ChatListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Chats, 1)
	assert.True(t, resp.HasUnreadMessages)
	assert.Nil(t, resp.NextPage)

	got := resp.Chats[0]
	assert.Equal(t, "see you at five", got.LastMessage.Content)
	assert.Equal(t, "You", got.LastMessage.SenderName)
	require.NotNil(t, got.Recipient.Image)
	assert.Equal(t, "https://cdn.test/users/"+f.other.String()+"/ben.jpg", *got.Recipient.Image)
}

func TestMarkRead(t *testing.T) {
	f := newChatFixture(t)
	chatID, _ := f.seedChat(t)
	f.chats.unread[chatID] = map[uuid.UUID]bool{f.me: true, f.other: true}

	w := do(f.router, http.MethodPut, "/api/chats/"+chatID.String()+"/read", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, f.chats.unread[chatID][f.me])
	assert.True(t, f.chats.unread[chatID][f.other])
}

func TestAuthHandler_LoginLogout(t *testing.T) {
	users := newMemUsers()
	jwtService := auth.NewJWTService("test-secret", 1)
	h := NewAuthHandler(users, jwtService)

	hash, err := auth.HashPassword("password123")
	require.NoError(t, err)
	userID := uuid.New()
	users.users[userID] = &models.User{ID: userID, Email: "ana@yakka.app", PasswordHash: hash}

	r := gin.New()
	r.POST("/auth/login", h.Login)

	w := do(r, http.MethodPost, "/auth/login", `{"email":"ana@yakka.app","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/auth/login", `{"email":"ana@yakka.app","password":"password123"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	claims, err := jwtService.Verify(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Contains(t, users.sessions, claims.SessionID)
	assert.NotContains(t, w.Body.String(), hash)

	r.POST("/auth/logout", func(c *gin.Context) {
		c.Set("user_id", userID)
		c.Set("session_id", claims.SessionID)
	}, h.Logout)
	w = do(r, http.MethodPost, "/auth/logout", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotContains(t, users.sessions, claims.SessionID)
}

func TestAuthHandler_BannedUserCannotLogin(t *testing.T) {
	users := newMemUsers()
	h := NewAuthHandler(users, auth.NewJWTService("test-secret", 1))

	hash, err := auth.HashPassword("password123")
	require.NoError(t, err)
	userID := uuid.New()
	users.users[userID] = &models.User{ID: userID, Email: "ben@yakka.app", PasswordHash: hash}
	users.banned[userID] = true

	r := gin.New()
	r.POST("/auth/login", h.Login)
	w := do(r, http.MethodPost, "/auth/login", `{"email":"ben@yakka.app","password":"password123"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, users.sessions)
}

func TestAuthHandler_RegisterAndGetMe(t *testing.T) {
	users := newMemUsers()
	h := NewAuthHandler(users, auth.NewJWTService("test-secret", 1))

	r := gin.New()
	r.POST("/auth/register", h.Register)

	w := do(r, http.MethodPost, "/auth/register", `{"email":"cal@yakka.app","password":"short"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/auth/register", `{"email":"cal@yakka.app","password":"longenough","firstName":"Cal"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var resp models.LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	r.GET("/api/me", asUser(resp.User.ID), h.GetMe)
	w = do(r, http.MethodGet, "/api/me", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "cal@yakka.app")

	r.GET("/api/me-missing", asUser(uuid.New()), h.GetMe)
	w = do(r, http.MethodGet, "/api/me-missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRespondError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperrors.NotFound("x"), http.StatusNotFound},
		{apperrors.Forbidden("x"), http.StatusForbidden},
		{apperrors.InvalidArg("x"), http.StatusBadRequest},
		{apperrors.Crypto("x", nil), http.StatusInternalServerError},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		RespondError(c, tt.err, "failed")
		assert.Equal(t, tt.want, w.Code, tt.err.Error())
	}
}
