package relay

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// Gateway accepts WebSocket upgrades and binds each resulting connection to
// a Session driven by the hub. It holds no state of its own beyond wiring.
type Gateway struct {
	hub      *Hub
	router   *Router
	registry *Registry
	users    UserDirectory
	cfg      SessionConfig
	origins  *OriginChecker
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewGateway(hub *Hub, router *Router, registry *Registry, users UserDirectory, cfg SessionConfig, origins *OriginChecker, log *slog.Logger) *Gateway {
	return &Gateway{
		hub:      hub,
		router:   router,
		registry: registry,
		users:    users,
		cfg:      cfg,
		origins:  origins,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.Check,
		},
		log: log,
	}
}

// ServeHTTP upgrades the request and registers the new session; the hub
// launches the session's pumps.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	session := NewSession(conn, g.hub, g.router, g.registry, g.users, g.cfg, g.log)
	g.hub.Register(session)
}
