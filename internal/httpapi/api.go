// Package httpapi exposes the REST surface of loqui: account registration
// and login, the user list, conversation history, and read receipts.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/samber/lo"

	"github.com/loquihq/loqui/internal/auth"
	"github.com/loquihq/loqui/internal/store"
)

// API bundles the handlers' dependencies.
type API struct {
	users        *store.Users
	messages     *store.Messages
	tokens       *auth.Tokens
	validate     *validator.Validate
	historyLimit int
	log          *slog.Logger
}

func NewAPI(users *store.Users, messages *store.Messages, tokens *auth.Tokens, historyLimit int, log *slog.Logger) *API {
	return &API{
		users:        users,
		messages:     messages,
		tokens:       tokens,
		validate:     validator.New(),
		historyLimit: historyLimit,
		log:          log,
	}
}

type registerRequest struct {
	Username string `json:"username" validate:"required,min=2,max=32"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type authResponse struct {
	Token string           `json:"token"`
	User  store.PublicUser `json:"user"`
}

// Register creates an account and returns a session token.
func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		a.serverError(w, "password hashing failed", err)
		return
	}

	user, err := a.users.Create(req.Username, req.Email, hash)
	if err != nil {
		if errors.Is(err, store.ErrUserExists) {
			writeError(w, http.StatusBadRequest, "user already exists")
			return
		}
		a.serverError(w, "user creation failed", err)
		return
	}

	token, err := a.tokens.Issue(user.ID)
	if err != nil {
		a.serverError(w, "token issuance failed", err)
		return
	}

	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: user.Public()})
}

// Login verifies credentials, marks the user online, and returns a token.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	user, err := a.users.ByEmail(req.Email)
	if err != nil {
		// Same answer for unknown email and wrong password.
		writeError(w, http.StatusBadRequest, "invalid credentials")
		return
	}

	match, err := auth.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil || !match {
		writeError(w, http.StatusBadRequest, "invalid credentials")
		return
	}

	if err := a.users.SetOnline(user.ID, true, nil); err != nil {
		a.log.Warn("failed to mark user online at login", "user", user.ID, "error", err)
	}
	user.Online = true

	token, err := a.tokens.Issue(user.ID)
	if err != nil {
		a.serverError(w, "token issuance failed", err)
		return
	}

	writeJSON(w, http.StatusOK, authResponse{Token: token, User: user.Public()})
}

// ListUsers returns every user except the caller, online users first.
func (a *API) ListUsers(w http.ResponseWriter, r *http.Request) {
	callerID := callerFromContext(r.Context())

	users, err := a.users.ListOthers(callerID)
	if err != nil {
		a.serverError(w, "user listing failed", err)
		return
	}
	if users == nil {
		users = []store.PublicUser{}
	}
	writeJSON(w, http.StatusOK, users)
}

// Conversation returns the chronological history between the caller and the
// user in the path, denormalized with display fields.
func (a *API) Conversation(w http.ResponseWriter, r *http.Request) {
	callerID := callerFromContext(r.Context())
	otherID := mux.Vars(r)["userId"]

	msgs, err := a.messages.Conversation(callerID, otherID, a.historyLimit)
	if err != nil {
		a.serverError(w, "history fetch failed", err)
		return
	}

	caller, err := a.users.ByID(callerID)
	if err != nil {
		a.log.Debug("caller lookup failed for history view", "user", callerID, "error", err)
	}
	other, err := a.users.ByID(otherID)
	if err != nil {
		a.log.Debug("peer lookup failed for history view", "user", otherID, "error", err)
	}

	views := lo.Map(msgs, func(m store.Message, _ int) store.MessageView {
		if m.SenderID == callerID {
			return store.NewMessageView(m, caller, other)
		}
		return store.NewMessageView(m, other, caller)
	})
	if views == nil {
		views = []store.MessageView{}
	}
	writeJSON(w, http.StatusOK, views)
}

// MarkRead flags every unread message from the path user to the caller.
func (a *API) MarkRead(w http.ResponseWriter, r *http.Request) {
	callerID := callerFromContext(r.Context())
	otherID := mux.Vars(r)["userId"]

	if _, err := a.messages.MarkRead(otherID, callerID); err != nil {
		a.serverError(w, "read receipt update failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Health reports that the server is up.
func (a *API) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK", "message": "loqui server is running"})
}

func (a *API) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation failed: "+err.Error())
		return false
	}
	return true
}

func (a *API) serverError(w http.ResponseWriter, msg string, err error) {
	a.log.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, "server error")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
