// Package session stores login sessions in Redis.
//
// A session is an opaque random id mapped to {userId, externalId, createdAt}
// under the key "session:<id>". The key carries a fixed TTL set at creation;
// reading a session does not extend it.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sakif/coding-leaderboard/internal/model"
)

// DefaultTTL is the lifetime of a session.
const DefaultTTL = 7 * 24 * time.Hour

// CookieName is the cookie the session id may be carried in.
const CookieName = "session"

const keyPrefix = "session:"

// ErrNotFound is returned for an unknown, expired or malformed session id.
var ErrNotFound = errors.New("session: not found")

// Manager creates, verifies and deletes sessions.
type Manager struct {
	rdb redis.Cmdable
	ttl time.Duration
	now func() time.Time
}

// NewManager creates a Manager on top of a Redis client. A ttl <= 0 means
// DefaultTTL.
func NewManager(rdb redis.Cmdable, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{rdb: rdb, ttl: ttl, now: time.Now}
}

// Create stores a new session for the user and returns its id.
//
// Ids are random (v4) UUIDs: 122 bits from crypto/rand, so they cannot be
// guessed or enumerated.
func (m *Manager) Create(ctx context.Context, userID int64, externalID string) (string, error) {
	id := uuid.NewString()
	payload, err := json.Marshal(model.Session{
		UserID:     userID,
		ExternalID: externalID,
		CreatedAt:  m.now().UnixMilli(),
	})
	if err != nil {
		return "", fmt.Errorf("session: encoding: %w", err)
	}

	if err := m.rdb.Set(ctx, keyPrefix+id, payload, m.ttl).Err(); err != nil {
		return "", fmt.Errorf("session: storing: %w", err)
	}
	return id, nil
}

// Verify returns the session stored under id.
func (m *Manager) Verify(ctx context.Context, id string) (*model.Session, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	raw, err := m.rdb.Get(ctx, keyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("session: loading: %w", err)
	}

	var s model.Session
	if err := json.Unmarshal(raw, &s); err != nil || s.UserID == 0 {
		return nil, ErrNotFound
	}
	return &s, nil
}

// Delete removes a session. Deleting an unknown id is not an error.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := m.rdb.Del(ctx, keyPrefix+id).Err(); err != nil {
		return fmt.Errorf("session: deleting: %w", err)
	}
	return nil
}

// ExtractID reads the session id from a request: the Authorization bearer
// value first, then the session cookie. Returns "" when neither is present.
func ExtractID(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, value, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			if value = strings.TrimSpace(value); value != "" {
				return value
			}
		}
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}
