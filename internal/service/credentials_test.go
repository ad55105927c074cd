package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/coding-leaderboard/internal/model"
)

var credNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestCredentialManager(refresher TokenRefresher, store CredentialStore) *CredentialManager {
	m := NewCredentialManager(refresher, store, discardLogger())
	m.now = func() time.Time { return credNow }
	return m
}

func TestAccessToken_NoExpiryIsTrusted(t *testing.T) {
	refresher := &fakeRefresher{}
	m := newTestCredentialManager(refresher, newFakeStore())

	token, err := m.AccessToken(context.Background(), &model.User{ID: 1, AccessToken: "tok"})
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
	assert.Zero(t, refresher.calls)
}

func TestAccessToken_NotYetExpired(t *testing.T) {
	refresher := &fakeRefresher{}
	m := newTestCredentialManager(refresher, newFakeStore())
	expires := credNow.Add(time.Minute)

	token, err := m.AccessToken(context.Background(), &model.User{
		ID: 1, AccessToken: "tok", RefreshToken: "rt", TokenExpiresAt: &expires,
	})
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
	assert.Zero(t, refresher.calls)
}

func TestAccessToken_ExpiredRefreshesOnceAndPersists(t *testing.T) {
	store := newFakeStore()
	expired := credNow.Add(-time.Hour)
	user := store.addUser(model.User{
		ExternalID: "w-1", Username: "ada",
		AccessToken: "old", RefreshToken: "rt-old", TokenExpiresAt: &expired,
	})

	newExpiry := credNow.Add(time.Hour)
	refresher := &fakeRefresher{result: &model.Credentials{
		AccessToken: "new", RefreshToken: "rt-new", ExpiresAt: &newExpiry,
	}}
	m := newTestCredentialManager(refresher, store)

	token, err := m.AccessToken(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, "new", token)
	assert.Equal(t, 1, refresher.calls)

	// caller's copy is updated in place
	assert.Equal(t, "rt-new", user.RefreshToken)
	require.NotNil(t, user.TokenExpiresAt)
	assert.True(t, user.TokenExpiresAt.Equal(newExpiry))

	stored, err := store.GetUserByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", stored.AccessToken)
	assert.Equal(t, "rt-new", stored.RefreshToken)

	// a second call with the fresh credential does not refresh again
	_, err = m.AccessToken(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, 1, refresher.calls)
}

func TestAccessToken_ExpiredWithoutRefreshCredential(t *testing.T) {
	refresher := &fakeRefresher{}
	m := newTestCredentialManager(refresher, newFakeStore())
	expired := credNow.Add(-time.Second)

	_, err := m.AccessToken(context.Background(), &model.User{ID: 3, AccessToken: "tok", TokenExpiresAt: &expired})
	require.ErrorIs(t, err, ErrCredentialExpiredNoRefresh)
	assert.Zero(t, refresher.calls)
}

func TestAccessToken_RefreshFailure(t *testing.T) {
	store := newFakeStore()
	expired := credNow.Add(-time.Hour)
	user := store.addUser(model.User{ExternalID: "w-1", AccessToken: "old", RefreshToken: "rt", TokenExpiresAt: &expired})
	refresher := &fakeRefresher{err: errors.New("invalid_grant")}
	m := newTestCredentialManager(refresher, store)

	_, err := m.AccessToken(context.Background(), user)
	require.ErrorIs(t, err, ErrRefreshFailed)
	assert.Contains(t, err.Error(), "invalid_grant")
	assert.Equal(t, 1, refresher.calls)
	assert.Empty(t, store.saved)
	assert.Equal(t, "old", user.AccessToken)
}

func TestAccessToken_PersistFailureIsReturned(t *testing.T) {
	store := newFakeStore()
	store.saveErr = errors.New("disk full")
	expired := credNow.Add(-time.Hour)
	user := store.addUser(model.User{ExternalID: "w-1", AccessToken: "old", RefreshToken: "rt", TokenExpiresAt: &expired})
	refresher := &fakeRefresher{result: &model.Credentials{AccessToken: "new", RefreshToken: "rt2"}}
	m := newTestCredentialManager(refresher, store)

	_, err := m.AccessToken(context.Background(), user)
	require.Error(t, err)
	assert.Equal(t, "old", user.AccessToken, "a credential that was not persisted must not be handed out")
}
