package middleware

import (
	"context"
	"net/http"

	"github.com/supportchat/internal/storage"
)

// SessionAuth resolves the session token (X-Session-Id header, or session_id
// query for WebSocket upgrades where custom headers are unavailable) to a
// user id via the session store and puts it on the request context.
func SessionAuth(store storage.SessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("X-Session-Id")
			if token == "" {
				token = r.URL.Query().Get("session_id")
			}
			if token == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			userID, err := store.GetSession(r.Context(), token)
			if err != nil || userID == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
