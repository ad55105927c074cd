package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/coding-leaderboard/internal/metrics"
	"github.com/sakif/coding-leaderboard/internal/model"
)

var (
	// ErrRefreshFailed means the provider refused or could not be reached for
	// a refresh. The user is skipped until the next cycle.
	ErrRefreshFailed = errors.New("service: credential refresh failed")

	// ErrCredentialExpiredNoRefresh means the access credential has expired
	// and there is nothing to refresh it with. Only a new login recovers.
	ErrCredentialExpiredNoRefresh = errors.New("service: credential expired and no refresh credential")
)

// TokenRefresher trades a refresh credential for a new pair.
// *auth.WakaTimeProvider implements it.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*model.Credentials, error)
}

// CredentialStore persists rotated credentials keyed by external id.
type CredentialStore interface {
	SaveCredentials(ctx context.Context, externalID string, creds model.Credentials) error
}

// CredentialManager hands out a usable access credential for a user,
// refreshing it first when the stored one has expired.
type CredentialManager struct {
	refresher TokenRefresher
	store     CredentialStore
	logger    *slog.Logger
	now       func() time.Time
}

// NewCredentialManager creates a CredentialManager.
func NewCredentialManager(refresher TokenRefresher, store CredentialStore, logger *slog.Logger) *CredentialManager {
	return &CredentialManager{
		refresher: refresher,
		store:     store,
		logger:    logger,
		now:       time.Now,
	}
}

// AccessToken returns a currently valid access credential for user.
//
// RULES:
//   - No expiry recorded: the stored credential is trusted as is.
//   - Expired with a refresh credential: exactly one refresh call. The new
//     pair is persisted before it is returned, and user is updated in place
//     so the caller does not read a stale copy back.
//   - Expired without a refresh credential: ErrCredentialExpiredNoRefresh,
//     with no upstream call.
func (m *CredentialManager) AccessToken(ctx context.Context, user *model.User) (string, error) {
	if user.TokenExpiresAt == nil || !user.TokenExpiresAt.Before(m.now()) {
		return user.AccessToken, nil
	}

	if user.RefreshToken == "" {
		return "", fmt.Errorf("%w (user %d)", ErrCredentialExpiredNoRefresh, user.ID)
	}

	creds, err := m.refresher.Refresh(ctx, user.RefreshToken)
	if err != nil {
		metrics.CredentialRefreshes.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w (user %d): %v", ErrRefreshFailed, user.ID, err)
	}

	if err := m.store.SaveCredentials(ctx, user.ExternalID, *creds); err != nil {
		metrics.CredentialRefreshes.WithLabelValues("error").Inc()
		return "", fmt.Errorf("service: persisting refreshed credential (user %d): %w", user.ID, err)
	}
	metrics.CredentialRefreshes.WithLabelValues("success").Inc()

	user.AccessToken = creds.AccessToken
	user.RefreshToken = creds.RefreshToken
	user.TokenExpiresAt = creds.ExpiresAt

	m.logger.Info("credential refreshed",
		slog.Int64("userID", user.ID),
		slog.String("username", user.Username),
	)
	return creds.AccessToken, nil
}
