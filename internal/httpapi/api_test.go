package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loquihq/loqui/internal/auth"
	"github.com/loquihq/loqui/internal/store"
)

type apiHarness struct {
	api      *API
	router   http.Handler
	users    *store.Users
	messages *store.Messages
	tokens   *auth.Tokens
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()

	db, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	users := store.NewUsers(db, log)
	messages := store.NewMessages(db, log)
	tokens := auth.NewTokens("test-secret", time.Hour)

	api := NewAPI(users, messages, tokens, 100, log)
	gateway := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusSwitchingProtocols)
	})

	return &apiHarness{
		api:      api,
		router:   Routes(api, gateway),
		users:    users,
		messages: messages,
		tokens:   tokens,
	}
}

func (h *apiHarness) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	r := httptest.NewRequest(method, path, reader)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, r)
	return w
}

func (h *apiHarness) register(t *testing.T, username, email string) authResponse {
	t.Helper()

	w := h.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": username,
		"email":    email,
		"password": "password123",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp authResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestRegisterIssuesToken(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.register(t, "alice", "alice@example.com")
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "alice", resp.User.Username)

	claims, err := h.tokens.Verify(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, claims.UserID)
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	h := newAPIHarness(t)
	h.register(t, "alice", "alice@example.com")

	w := h.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "alice",
		"email":    "alice@example.com",
		"password": "password123",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody[map[string]string](t, w)
	assert.Equal(t, "user already exists", body["error"])
}

func TestRegisterValidation(t *testing.T) {
	h := newAPIHarness(t)

	cases := []map[string]string{
		{"username": "a", "email": "a@example.com", "password": "password123"},
		{"username": "alice", "email": "not-an-email", "password": "password123"},
		{"username": "alice", "email": "a@example.com", "password": "short"},
		{},
	}
	for i, c := range cases {
		w := h.do(t, http.MethodPost, "/api/auth/register", "", c)
		assert.Equal(t, http.StatusBadRequest, w.Code, "case %d", i)
	}
}

func TestLogin(t *testing.T) {
	h := newAPIHarness(t)
	h.register(t, "alice", "alice@example.com")

	w := h.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "password123",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decodeBody[authResponse](t, w)
	assert.NotEmpty(t, resp.Token)
	assert.True(t, resp.User.Online)

	// Login marks the durable record online as well.
	stored, err := h.users.ByID(resp.User.ID)
	require.NoError(t, err)
	assert.True(t, stored.Online)
}

func TestLoginUniformRejection(t *testing.T) {
	h := newAPIHarness(t)
	h.register(t, "alice", "alice@example.com")

	wrongPassword := h.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "not-the-password",
	})
	unknownEmail := h.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "nobody@example.com",
		"password": "password123",
	})

	assert.Equal(t, http.StatusBadRequest, wrongPassword.Code)
	assert.Equal(t, http.StatusBadRequest, unknownEmail.Code)
	assert.Equal(t, wrongPassword.Body.String(), unknownEmail.Body.String())
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(t, http.MethodGet, "/api/users", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(t, http.MethodGet, "/api/users", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListUsersExcludesCaller(t *testing.T) {
	h := newAPIHarness(t)
	alice := h.register(t, "alice", "alice@example.com")
	bob := h.register(t, "bob", "bob@example.com")

	w := h.do(t, http.MethodGet, "/api/users", alice.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	list := decodeBody[[]store.PublicUser](t, w)
	require.Len(t, list, 1)
	assert.Equal(t, bob.User.ID, list[0].ID)
}

func TestConversationHistory(t *testing.T) {
	h := newAPIHarness(t)
	alice := h.register(t, "alice", "alice@example.com")
	bob := h.register(t, "bob", "bob@example.com")

	base := time.Now().UTC()
	for i, content := range []string{"hi bob", "hi alice", "how are you"} {
		sender, receiver := alice.User.ID, bob.User.ID
		if i == 1 {
			sender, receiver = bob.User.ID, alice.User.ID
		}
		require.NoError(t, h.messages.Insert(store.Message{
			ID:         fmt.Sprintf("m%d", i),
			SenderID:   sender,
			ReceiverID: receiver,
			Content:    content,
			Type:       "text",
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}))
	}

	w := h.do(t, http.MethodGet, "/api/messages/"+bob.User.ID, alice.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	views := decodeBody[[]store.MessageView](t, w)
	require.Len(t, views, 3)
	assert.Equal(t, "hi bob", views[0].Content)
	assert.Equal(t, "alice", views[0].Sender.Username)
	assert.Equal(t, "bob", views[1].Sender.Username)
}

func TestConversationEmpty(t *testing.T) {
	h := newAPIHarness(t)
	alice := h.register(t, "alice", "alice@example.com")
	bob := h.register(t, "bob", "bob@example.com")

	w := h.do(t, http.MethodGet, "/api/messages/"+bob.User.ID, alice.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestMarkRead(t *testing.T) {
	h := newAPIHarness(t)
	alice := h.register(t, "alice", "alice@example.com")
	bob := h.register(t, "bob", "bob@example.com")

	require.NoError(t, h.messages.Insert(store.Message{
		ID:         "m1",
		SenderID:   bob.User.ID,
		ReceiverID: alice.User.ID,
		Content:    "unread",
		Type:       "text",
		CreatedAt:  time.Now().UTC(),
	}))

	// Alice marks Bob's messages to her as read.
	w := h.do(t, http.MethodPut, "/api/messages/read/"+bob.User.ID, alice.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody[map[string]bool](t, w)
	assert.True(t, body["success"])

	msgs, err := h.messages.Conversation(alice.User.ID, bob.User.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Read)
}

func TestHealth(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody[map[string]string](t, w)
	assert.Equal(t, "OK", body["status"])
}
