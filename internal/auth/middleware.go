package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/sakif/coding-leaderboard/internal/model"
	"github.com/sakif/coding-leaderboard/internal/session"
)

// contextKey is an unexported type used for context keys in this package.
//
// WHY A CUSTOM TYPE FOR CONTEXT KEYS?
// context.WithValue uses any as the key type. A package-private key type
// means only this package can store or read the authenticated user.
type contextKey string

const (
	userKey      contextKey = "user"
	sessionIDKey contextKey = "sessionID"
)

// SessionVerifier resolves a session id. *session.Manager implements it.
type SessionVerifier interface {
	Verify(ctx context.Context, id string) (*model.Session, error)
}

// UserLoader loads the live user record. The sqlite repository implements it.
type UserLoader interface {
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
}

// Middleware resolves the session on a request into the current user.
//
// The session only names the user; the user row is reloaded on every
// request. A ban or a deletion therefore takes effect immediately, even for
// sessions created before it.
type Middleware struct {
	sessions SessionVerifier
	users    UserLoader
	logger   *slog.Logger
}

// NewMiddleware creates the session middleware set.
func NewMiddleware(sessions SessionVerifier, users UserLoader, logger *slog.Logger) *Middleware {
	return &Middleware{sessions: sessions, users: users, logger: logger}
}

// RequireSession rejects requests without a valid session with 401.
// Banned and deleted users count as unauthenticated.
func (m *Middleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, id := m.resolve(r)
		if user == nil {
			writeAuthError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user, id)))
	})
}

// OptionalSession attaches the user when a valid session is present but
// never blocks the request. Handlers check UserFromContext.
func (m *Middleware) OptionalSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, id := m.resolve(r); user != nil {
			r = r.WithContext(withUser(r.Context(), user, id))
		} else if id != "" {
			r = r.WithContext(context.WithValue(r.Context(), sessionIDKey, id))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin must run after RequireSession. Non-admins get 403.
func (m *Middleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			writeAuthError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		if !user.IsAdmin {
			m.logger.Warn("admin route denied",
				slog.Int64("userID", user.ID),
				slog.String("path", r.URL.Path),
			)
			writeAuthError(w, http.StatusForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// resolve returns the live, non-banned user behind the request's session and
// the session id it found (even when it did not resolve).
func (m *Middleware) resolve(r *http.Request) (*model.User, string) {
	id := session.ExtractID(r)
	if id == "" {
		return nil, ""
	}

	s, err := m.sessions.Verify(r.Context(), id)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			m.logger.Error("session lookup failed", slog.String("error", err.Error()))
		}
		return nil, id
	}

	user, err := m.users.GetUserByID(r.Context(), s.UserID)
	if err != nil {
		m.logger.Debug("session user not loadable",
			slog.Int64("userID", s.UserID),
			slog.String("error", err.Error()),
		)
		return nil, id
	}
	if user.IsBanned {
		return nil, id
	}
	return user, id
}

func withUser(ctx context.Context, user *model.User, sessionID string) context.Context {
	ctx = context.WithValue(ctx, userKey, user)
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// WithUser returns a context carrying user, as RequireSession would set it.
// Handler tests use it to skip the session round trip.
func WithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok && u != nil
}

// SessionIDFromContext returns the session id the request carried, even if
// it did not resolve to a user.
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey).(string)
	return id
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
