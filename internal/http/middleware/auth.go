package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/hlog"

	"github.com/briangreenhill/bperks/internal/auth"
	"github.com/briangreenhill/bperks/internal/entities"
)

type contextKey string

const UserIDKey contextKey = "user_id"

// UserID returns the authenticated user id, or "" for anonymous requests.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(UserIDKey).(string)
	return id
}

func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, UserIDKey, id)
}

// Error writes {"error": msg} with the given status.
func Error(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// BearerToken authenticates requests carrying "Authorization: Bearer <token>".
// Requests without the header pass through untouched so a session can still
// authenticate them; a malformed or expired token is rejected.
func BearerToken(tokens auth.Tokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if h == "" {
				next.ServeHTTP(w, r)
				return
			}
			scheme, tok, ok := strings.Cut(h, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				Error(w, http.StatusUnauthorized, "unsupported authorization scheme")
				return
			}
			userID, err := tokens.Verify(strings.TrimSpace(tok))
			if err != nil {
				hlog.FromRequest(r).Debug().Err(err).Msg("bearer token rejected")
				Error(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserID(r.Context()) == "" {
			Error(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UserLookup resolves the authenticated user for role checks.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (entities.User, error)
}

// RequireAdmin must run after RequireAuth.
func RequireAdmin(users UserLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, err := users.GetUser(r.Context(), UserID(r.Context()))
			if err != nil {
				Error(w, http.StatusUnauthorized, "unknown user")
				return
			}
			if !u.IsAdmin() {
				Error(w, http.StatusForbidden, "admin only")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
