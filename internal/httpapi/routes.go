package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes assembles the full route table: REST endpoints, the WebSocket
// gateway, health, and metrics.
func Routes(api *API, gateway http.Handler) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", api.Health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.Handle("/ws", gateway).Methods(http.MethodGet)

	r.HandleFunc("/api/auth/register", api.Register).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/login", api.Login).Methods(http.MethodPost)

	protected := r.PathPrefix("/api").Subrouter()
	protected.Use(api.RequireAuth)
	protected.HandleFunc("/users", api.ListUsers).Methods(http.MethodGet)
	protected.HandleFunc("/messages/{userId}", api.Conversation).Methods(http.MethodGet)
	protected.HandleFunc("/messages/read/{userId}", api.MarkRead).Methods(http.MethodPut)

	return r
}
