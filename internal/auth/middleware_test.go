package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sakif/coding-leaderboard/internal/apperror"
	"github.com/sakif/coding-leaderboard/internal/model"
	"github.com/sakif/coding-leaderboard/internal/session"
)

// fakeSessions maps session ids to sessions.
type fakeSessions map[string]*model.Session

func (f fakeSessions) Verify(ctx context.Context, id string) (*model.Session, error) {
	if s, ok := f[id]; ok {
		return s, nil
	}
	return nil, session.ErrNotFound
}

// fakeUsers maps user ids to users.
type fakeUsers map[int64]*model.User

func (f fakeUsers) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	if u, ok := f[id]; ok {
		return u, nil
	}
	return nil, apperror.NotFound("user", id)
}

func newTestMiddleware() *Middleware {
	sessions := fakeSessions{
		"sess-alice":   {UserID: 1, ExternalID: "waka-1"},
		"sess-admin":   {UserID: 2, ExternalID: "waka-2"},
		"sess-banned":  {UserID: 3, ExternalID: "waka-3"},
		"sess-deleted": {UserID: 99, ExternalID: "waka-99"},
	}
	users := fakeUsers{
		1: {ID: 1, Username: "alice"},
		2: {ID: 2, Username: "root", IsAdmin: true},
		3: {ID: 3, Username: "mallory", IsBanned: true},
	}
	return NewMiddleware(sessions, users, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// echoUser writes the username from the context, or "anonymous".
var echoUser = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if u, ok := UserFromContext(r.Context()); ok {
		io.WriteString(w, u.Username)
		return
	}
	io.WriteString(w, "anonymous")
})

func serve(h http.Handler, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequireSession(t *testing.T) {
	m := newTestMiddleware()
	h := m.RequireSession(echoUser)

	tests := []struct {
		name     string
		session  string
		wantCode int
		wantBody string
	}{
		{"valid session", "sess-alice", http.StatusOK, "alice"},
		{"no session", "", http.StatusUnauthorized, ""},
		{"unknown session", "nope", http.StatusUnauthorized, ""},
		{"banned user", "sess-banned", http.StatusUnauthorized, ""},
		{"deleted user", "sess-deleted", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, tt.session)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode == http.StatusOK {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			} else {
				assert.JSONEq(t, `{"error":"Not authenticated"}`, rec.Body.String())
			}
		})
	}
}

func TestRequireSession_Cookie(t *testing.T) {
	h := newTestMiddleware().RequireSession(echoUser)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: "sess-alice"})
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Body.String())
}

func TestOptionalSession(t *testing.T) {
	h := newTestMiddleware().OptionalSession(echoUser)

	assert.Equal(t, "alice", serve(h, "sess-alice").Body.String())
	assert.Equal(t, "anonymous", serve(h, "").Body.String())
	assert.Equal(t, "anonymous", serve(h, "sess-banned").Body.String())

	rec := serve(h, "garbage")
	assert.Equal(t, http.StatusOK, rec.Code, "optional auth never blocks")
}

func TestOptionalSession_KeepsUnresolvedSessionID(t *testing.T) {
	var got string
	h := newTestMiddleware().OptionalSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = SessionIDFromContext(r.Context())
	}))

	serve(h, "stale-id")

	assert.Equal(t, "stale-id", got)
}

func TestRequireAdmin(t *testing.T) {
	m := newTestMiddleware()
	h := m.RequireSession(m.RequireAdmin(echoUser))

	assert.Equal(t, http.StatusOK, serve(h, "sess-admin").Code)
	assert.Equal(t, http.StatusForbidden, serve(h, "sess-alice").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(h, "").Code)
}

func TestUserFromContext_Empty(t *testing.T) {
	_, ok := UserFromContext(context.Background())
	assert.False(t, ok)

	u, ok := UserFromContext(WithUser(context.Background(), &model.User{ID: 5}))
	assert.True(t, ok)
	assert.Equal(t, int64(5), u.ID)
}

type failingSessions struct{}

func (failingSessions) Verify(ctx context.Context, id string) (*model.Session, error) {
	return nil, errors.New("redis down")
}

func TestRequireSession_StoreFailureIsUnauthenticated(t *testing.T) {
	m := NewMiddleware(failingSessions{}, fakeUsers{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec := serve(m.RequireSession(echoUser), "sess-alice")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
