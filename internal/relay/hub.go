// Package relay implements the connection-presence-delivery core of loqui:
// the hub of live WebSocket sessions, the user-to-connection presence
// registry, and the router that decides whether an event is pushed live,
// left to storage, or both.
package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loquihq/loqui/internal/metrics"
)

// Hub owns the set of live sessions. It serializes registration and
// unregistration through channels and guards the session map with a mutex
// so targeted pushes and broadcasts can run from any goroutine.
type Hub struct {
	log        *slog.Logger
	sessions   map[string]*Session // connID -> session
	register   chan *Session
	unregister chan *Session
	mu         sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

func NewHub(log *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		log:        log,
		sessions:   make(map[string]*Session),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Register hands a new session to the hub, which starts its pumps. It is a
// no-op once shutdown has begun.
func (h *Hub) Register(s *Session) {
	select {
	case h.register <- s:
	case <-h.ctx.Done():
	}
}

// Unregister removes a session from the hub and closes its send channel.
// During shutdown the hub loop is gone, so the send is abandoned instead of
// blocking the pump goroutine forever.
func (h *Hub) Unregister(s *Session) {
	select {
	case h.unregister <- s:
	case <-h.ctx.Done():
	}
}

// Run is the hub's event loop. It must run in its own goroutine and exits
// when Shutdown cancels the hub context.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.closeAllSessions()
			return

		case s := <-h.register:
			if s == nil {
				h.log.Warn("nil session registration skipped")
				continue
			}
			h.mu.Lock()
			h.sessions[s.id] = s
			count := len(h.sessions)
			h.mu.Unlock()
			metrics.ConnectionsActive.Set(float64(count))
			h.log.Info("session registered", "conn", s.id, "addr", s.addr, "total", count)

			// Sessions without a transport connection occur only in tests.
			if s.conn != nil {
				h.wg.Add(2)
				go func() {
					defer h.wg.Done()
					s.writePump()
				}()
				go func() {
					defer h.wg.Done()
					s.readPump()
				}()
			}

		case s := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.sessions[s.id]; ok {
				delete(h.sessions, s.id)
				count := len(h.sessions)
				h.mu.Unlock()
				close(s.send)
				metrics.ConnectionsActive.Set(float64(count))
				h.log.Info("session unregistered", "conn", s.id, "addr", s.addr, "total", count)
			} else {
				h.mu.Unlock()
			}
		}
	}
}

// Push sends a payload to the session identified by connID. It reports
// false when the session is gone or its send buffer is full; callers treat
// both as "unreachable" and rely on storage.
func (h *Hub) Push(connID string, payload []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.sessions[connID]
	if !ok || s.isClosed() {
		return false
	}
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

// BroadcastAll pushes a payload to every live session. Sessions whose send
// buffer is full are dropped from the hub; a stalled client must not block
// presence fanout.
//
// Sends happen under the read lock. Send channels are only ever closed
// after the session is deleted from the map under the write lock, so a
// session reached through the map here cannot have a closed channel.
func (h *Hub) BroadcastAll(payload []byte) {
	h.mu.RLock()
	var failed []*Session
	for _, s := range h.sessions {
		if s.isClosed() {
			continue
		}
		select {
		case s.send <- payload:
		default:
			failed = append(failed, s)
		}
	}
	h.mu.RUnlock()

	h.removeFailed(failed)
}

func (h *Hub) removeFailed(failed []*Session) {
	if len(failed) == 0 {
		return
	}

	h.mu.Lock()
	var toClose []chan []byte
	for _, s := range failed {
		if _, ok := h.sessions[s.id]; ok {
			delete(h.sessions, s.id)
			toClose = append(toClose, s.send)
			h.log.Warn("session dropped, send buffer full", "conn", s.id, "addr", s.addr)
		}
	}
	count := len(h.sessions)
	h.mu.Unlock()

	metrics.ConnectionsActive.Set(float64(count))
	// Close only after the delete above; broadcasters sending under the
	// read lock rely on map membership implying an open channel.
	for _, ch := range toClose {
		close(ch)
	}
}

func (h *Hub) closeAllSessions() {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		if s.conn != nil {
			if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
				h.log.Warn("error closing session connection", "conn", s.id, "error", err)
			}
		}
	}
	h.log.Info("closed all session connections", "count", len(sessions))
}

// Shutdown stops the hub, closes every connection, and waits for the pump
// goroutines to finish or the timeout to expire.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("hub shutting down")
	h.cancel()
	<-h.done

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		h.log.Info("hub shutdown complete")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timed out, some session goroutines may still be running")
		return context.DeadlineExceeded
	}
}
