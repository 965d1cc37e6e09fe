package httpapi

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const callerKey contextKey = "callerID"

// RequireAuth verifies the bearer token and injects the caller's user ID
// into the request context.
func (a *API) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "no token provided")
			return
		}

		claims, err := a.tokens.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), callerKey, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerFromContext(ctx context.Context) string {
	id, _ := ctx.Value(callerKey).(string)
	return id
}
