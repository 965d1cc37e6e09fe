package relay

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loquihq/loqui/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMessages struct {
	mu        sync.Mutex
	inserted  []store.Message
	insertErr error
}

func (f *fakeMessages) Insert(msg store.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, msg)
	return nil
}

func (f *fakeMessages) stored() []store.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Message(nil), f.inserted...)
}

type fakeUsers struct {
	mu           sync.Mutex
	users        map[string]store.User
	online       map[string]bool
	lastSeen     map[string]*time.Time
	setOnlineErr error
}

func newFakeUsers(ids ...string) *fakeUsers {
	f := &fakeUsers{
		users:    make(map[string]store.User),
		online:   make(map[string]bool),
		lastSeen: make(map[string]*time.Time),
	}
	for _, id := range ids {
		f.users[id] = store.User{ID: id, Username: "user-" + id, Avatar: "https://ui-avatars.com/api/?name=" + id}
	}
	return f
}

func (f *fakeUsers) ByID(id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func (f *fakeUsers) SetOnline(id string, online bool, lastSeen *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setOnlineErr != nil {
		return f.setOnlineErr
	}
	f.online[id] = online
	if lastSeen != nil {
		f.lastSeen[id] = lastSeen
	}
	return nil
}

func (f *fakeUsers) isOnline(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[id]
}

// harness wires a hub, registry, and router against fakes. Sessions are
// inserted into the hub directly so tests can inspect their send buffers
// without running transport pumps.
type harness struct {
	hub      *Hub
	registry *Registry
	router   *Router
	users    *fakeUsers
	messages *fakeMessages
}

func newHarness(userIDs ...string) *harness {
	log := testLogger()
	h := &harness{
		hub:      NewHub(log),
		registry: NewRegistry(),
		users:    newFakeUsers(userIDs...),
		messages: &fakeMessages{},
	}
	h.router = NewRouter(h.hub, h.registry, h.messages, h.users, log)
	return h
}

func (h *harness) addSession(t *testing.T) *Session {
	t.Helper()
	s := NewSession(nil, h.hub, h.router, h.registry, h.users, SessionConfig{
		MaxMessageSize: 4096,
		RateBurst:      100,
		RateInterval:   time.Second,
	}, testLogger())
	h.hub.mu.Lock()
	h.hub.sessions[s.id] = s
	h.hub.mu.Unlock()
	return s
}

// recvEvent pops the next event buffered for a session.
func recvEvent(t *testing.T, s *Session) Envelope {
	t.Helper()
	select {
	case payload := <-s.send:
		var env Envelope
		require.NoError(t, json.Unmarshal(payload, &env))
		return env
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected an event but none was buffered")
		return Envelope{}
	}
}

func expectNoEvent(t *testing.T, s *Session) {
	t.Helper()
	select {
	case payload := <-s.send:
		t.Fatalf("expected no event, got %s", payload)
	default:
	}
}

func decodePayload[T any](t *testing.T, env Envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func drainEvents(s *Session) {
	for {
		select {
		case <-s.send:
		default:
			return
		}
	}
}
