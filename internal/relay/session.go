package relay

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/loquihq/loqui/internal/store"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// SessionState tracks which identity, if any, has claimed a connection.
type SessionState int

const (
	StateAnonymous SessionState = iota
	StateIdentified
	StateClosed
)

// UserDirectory is the slice of the user store the relay needs: resolving
// display fields and flipping the online flag.
type UserDirectory interface {
	ByID(id string) (store.User, error)
	SetOnline(id string, online bool, lastSeen *time.Time) error
}

// Session is one live WebSocket connection. It runs a read pump and a write
// pump, dispatches inbound events in arrival order, and walks the
// Anonymous -> Identified -> Closed state machine.
type Session struct {
	id       string
	conn     *websocket.Conn
	send     chan []byte
	addr     string
	hub      *Hub
	router   *Router
	registry *Registry
	users    UserDirectory
	limiter  *limiter
	log      *slog.Logger

	maxMessageSize int64

	mu     sync.Mutex
	state  SessionState
	userID string
}

// SessionConfig carries the per-connection tunables.
type SessionConfig struct {
	MaxMessageSize int64
	RateBurst      int
	RateInterval   time.Duration
}

// NewSession wraps an upgraded connection. The connection ID exists only
// for the connection's lifetime and is what the presence registry maps to.
func NewSession(conn *websocket.Conn, hub *Hub, router *Router, registry *Registry, users UserDirectory, cfg SessionConfig, log *slog.Logger) *Session {
	if conn != nil && cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	return &Session{
		id:             uuid.New().String(),
		conn:           conn,
		send:           make(chan []byte, 256),
		addr:           remoteAddr(conn),
		hub:            hub,
		router:         router,
		registry:       registry,
		users:          users,
		limiter:        newLimiter(cfg.RateBurst, cfg.RateInterval),
		log:            log,
		maxMessageSize: cfg.MaxMessageSize,
		state:          StateAnonymous,
	}
}

func remoteAddr(conn *websocket.Conn) string {
	if conn == nil {
		return "unknown"
	}
	return conn.RemoteAddr().String()
}

// ID returns the transport-assigned connection identifier.
func (s *Session) ID() string { return s.id }

// UserID returns the identity claimed via join, if any.
func (s *Session) UserID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID, s.state == StateIdentified
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateClosed
}

// HandleEvent decodes one inbound envelope and dispatches it. Malformed
// events are logged and dropped; they never terminate the session.
func (s *Session) HandleEvent(raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.log.Warn("dropping malformed event", "conn", s.id, "error", err)
		return
	}

	switch env.Event {
	case EventJoin:
		var p JoinPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.UserID == "" {
			s.log.Warn("dropping join with missing userId", "conn", s.id)
			return
		}
		s.join(p.UserID)

	case EventSendMessage:
		var p SendMessagePayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.SenderID == "" || p.ReceiverID == "" {
			s.log.Warn("dropping send_message with missing fields", "conn", s.id)
			return
		}
		// The payload's senderId is authoritative for routing; it is not
		// cross-checked against the joined user.
		s.router.DeliverMessage(s.id, p)

	case EventTyping:
		s.dispatchTyping(env.Data, true)

	case EventStopTyping:
		s.dispatchTyping(env.Data, false)

	default:
		s.log.Debug("ignoring unknown event", "conn", s.id, "event", env.Event)
	}
}

func (s *Session) dispatchTyping(data json.RawMessage, isTyping bool) {
	var p TypingPayload
	if err := json.Unmarshal(data, &p); err != nil || p.SenderID == "" || p.ReceiverID == "" {
		s.log.Warn("dropping typing event with missing fields", "conn", s.id)
		return
	}
	s.router.DeliverTyping(p.SenderID, p.ReceiverID, isTyping)
}

// join claims this connection for userID: the session becomes Identified,
// the registry maps the user here (superseding any previous connection),
// the directory is marked online, and presence is broadcast. A directory
// failure is logged but does not revoke the in-memory identity claim.
func (s *Session) join(userID string) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.userID = userID
	s.state = StateIdentified
	s.mu.Unlock()

	s.registry.Set(userID, s.id)

	if err := s.users.SetOnline(userID, true, nil); err != nil {
		s.log.Warn("failed to mark user online, session stays identified", "user", userID, "error", err)
	}

	s.router.BroadcastPresence(userID, true)
	s.log.Info("user joined", "user", userID, "conn", s.id)
}

// teardown transitions to Closed and runs the disconnect side effects.
// The registry entry is removed only if it still points at this connection:
// when the user has already reconnected elsewhere, a late teardown must not
// evict the newer mapping or emit a spurious offline event.
func (s *Session) teardown() {
	s.mu.Lock()
	wasIdentified := s.state == StateIdentified
	userID := s.userID
	s.state = StateClosed
	s.mu.Unlock()

	if !wasIdentified {
		return
	}

	if !s.registry.RemoveIfMatches(userID, s.id) {
		s.log.Debug("stale teardown, user already reconnected", "user", userID, "conn", s.id)
		return
	}

	now := time.Now().UTC()
	if err := s.users.SetOnline(userID, false, &now); err != nil {
		s.log.Warn("failed to mark user offline", "user", userID, "error", err)
	}

	s.router.BroadcastPresence(userID, false)
	s.log.Info("user disconnected", "user", userID, "conn", s.id)
}

func (s *Session) setupReadConnection() {
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.log.Warn("error setting read deadline", "conn", s.id, "error", err)
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// handleReadError classifies a read failure for logging. Every read error
// ends the pump.
func (s *Session) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		s.log.Warn("message exceeded size limit", "conn", s.id, "limit", s.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		s.log.Debug("session closed", "conn", s.id, "error", err)
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		s.log.Debug("connection closed", "conn", s.id, "error", err)
	default:
		s.log.Warn("websocket read error", "conn", s.id, "error", err)
	}
}

// readPump processes inbound events one at a time, which is what gives the
// per-connection arrival-order guarantee. It owns the disconnect sequence.
func (s *Session) readPump() {
	defer func() {
		s.teardown()
		s.hub.Unregister(s)
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.Warn("error closing connection", "conn", s.id, "error", err)
		}
	}()

	s.setupReadConnection()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.handleReadError(err)
			return
		}

		if !s.limiter.allow() {
			s.log.Warn("rate limit exceeded, discarding event", "conn", s.id, "addr", s.addr)
			continue
		}

		s.HandleEvent(raw)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.Warn("error closing connection in write pump", "conn", s.id, "error", err)
		}
	}()

	for {
		select {
		case payload, ok := <-s.send:
			if !s.writeMessage(payload, ok) {
				return
			}
		case <-ticker.C:
			if !s.writePing() {
				return
			}
		}
	}
}

func (s *Session) writeMessage(payload []byte, ok bool) bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if !ok {
		// Send channel closed by the hub; tell the peer we are done.
		_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
		return false
	}

	w, err := s.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return false
	}
	if _, err := w.Write(payload); err != nil {
		return false
	}

	// Drain anything already queued into the same frame batch.
	n := len(s.send)
	for i := 0; i < n; i++ {
		if _, err := w.Write([]byte{'\n'}); err != nil {
			return false
		}
		if _, err := w.Write(<-s.send); err != nil {
			return false
		}
	}

	return w.Close() == nil
}

func (s *Session) writePing() bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	return s.conn.WriteMessage(websocket.PingMessage, nil) == nil
}

// isExpectedCloseError reports whether an error is part of normal
// connection teardown.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "websocket: close sent") ||
		strings.Contains(msg, "broken pipe")
}
