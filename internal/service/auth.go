// Package service holds the business logic of the leaderboard.
//
// The HTTP handlers call into it, and it calls out to the repositories, the
// WakaTime client, the OAuth provider and the session store:
//
//	handler (HTTP) → service (rules) → repository (SQLite)
//	                                 ↘ wakatime / auth / session
//
// Nothing here knows about HTTP status codes or cookies.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/coding-leaderboard/internal/apperror"
	"github.com/sakif/coding-leaderboard/internal/model"
	"github.com/sakif/coding-leaderboard/internal/repository"
	"github.com/sakif/coding-leaderboard/internal/wakatime"
)

// ErrAccountRestricted is returned by Login for a banned user. No session is
// created.
var ErrAccountRestricted = errors.New("service: account restricted")

// RestrictedMessage is what a banned user is shown on the login page.
const RestrictedMessage = "Your account has been restricted by an administrator"

// CodeExchanger trades an OAuth authorization code for credentials.
// *auth.WakaTimeProvider implements it.
type CodeExchanger interface {
	Exchange(ctx context.Context, code string) (*model.Credentials, error)
}

// ProfileFetcher loads the WakaTime profile behind an access credential.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, accessToken string) (*wakatime.Profile, error)
}

// SessionStore creates and deletes login sessions. *session.Manager
// implements it.
type SessionStore interface {
	Create(ctx context.Context, userID int64, externalID string) (string, error)
	Delete(ctx context.Context, id string) error
}

// TodayWarmer syncs today's total for a single user. *Syncer implements it.
type TodayWarmer interface {
	SyncTodayForUser(ctx context.Context, user *model.User) error
}

// AuthService runs the login callback and the account lifecycle.
type AuthService struct {
	exchanger      CodeExchanger
	profiles       ProfileFetcher
	users          repository.UserRepository
	sessions       SessionStore
	warmer         TodayWarmer
	bootstrapAdmin string
	logger         *slog.Logger
}

// NewAuthService creates an AuthService. bootstrapAdmin, when set, is the
// WakaTime username or id that is granted the admin role on login.
func NewAuthService(
	exchanger CodeExchanger,
	profiles ProfileFetcher,
	users repository.UserRepository,
	sessions SessionStore,
	warmer TodayWarmer,
	bootstrapAdmin string,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		exchanger:      exchanger,
		profiles:       profiles,
		users:          users,
		sessions:       sessions,
		warmer:         warmer,
		bootstrapAdmin: strings.TrimSpace(bootstrapAdmin),
		logger:         logger,
	}
}

// LoginResult is what the callback handler needs to finish the redirect.
type LoginResult struct {
	User      *model.User
	SessionID string
}

// Login completes the OAuth callback for code.
//
// FLOW:
//  1. exchange the code for credentials
//  2. load the WakaTime profile with the new access credential
//  3. upsert the user by WakaTime id (flags are kept)
//  4. grant admin if the user is the configured bootstrap admin
//  5. refuse banned users with ErrAccountRestricted
//  6. create a session
//  7. warm today's total; a failure here is logged, not returned
func (s *AuthService) Login(ctx context.Context, code string) (*LoginResult, error) {
	if code == "" {
		return nil, apperror.ValidationFailed("code", "Missing authorization code")
	}

	creds, err := s.exchanger.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("service/auth: %w", err)
	}

	profile, err := s.profiles.FetchProfile(ctx, creds.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching profile: %w", err)
	}

	user := &model.User{
		ExternalID:     profile.ID,
		Username:       profile.Username,
		DisplayName:    profile.DisplayName,
		Email:          profile.Email,
		PhotoURL:       profile.PhotoURL,
		AccessToken:    creds.AccessToken,
		RefreshToken:   creds.RefreshToken,
		TokenExpiresAt: creds.ExpiresAt,
	}
	if err := s.users.Upsert(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: upserting user %s: %w", profile.ID, err)
	}

	if s.isBootstrapAdmin(user) && !user.IsAdmin {
		if err := s.users.SetAdmin(ctx, user.ID, true); err != nil {
			return nil, fmt.Errorf("service/auth: granting bootstrap admin: %w", err)
		}
		user.IsAdmin = true
		s.logger.Info("bootstrap admin granted", slog.Int64("userID", user.ID), slog.String("username", user.Username))
	}

	if user.IsBanned {
		s.logger.Warn("banned user tried to log in", slog.Int64("userID", user.ID))
		return nil, ErrAccountRestricted
	}

	sessionID, err := s.sessions.Create(ctx, user.ID, user.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: creating session: %w", err)
	}

	s.logger.Info("user logged in",
		slog.Int64("userID", user.ID),
		slog.String("username", user.Username),
	)

	if err := s.warmer.SyncTodayForUser(ctx, user); err != nil {
		s.logger.Warn("initial sync failed",
			slog.Int64("userID", user.ID),
			slog.String("error", err.Error()),
		)
	}

	return &LoginResult{User: user, SessionID: sessionID}, nil
}

func (s *AuthService) isBootstrapAdmin(user *model.User) bool {
	if s.bootstrapAdmin == "" {
		return false
	}
	return strings.EqualFold(s.bootstrapAdmin, user.Username) || s.bootstrapAdmin == user.ExternalID
}

// Logout deletes a session. An unknown or empty id is not an error.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("service/auth: logging out: %w", err)
	}
	return nil
}

// DeleteAccount removes the user with all their stats and ends the session.
func (s *AuthService) DeleteAccount(ctx context.Context, user *model.User, sessionID string) error {
	if err := s.users.DeleteUser(ctx, user.ID); err != nil {
		return fmt.Errorf("service/auth: deleting account %d: %w", user.ID, err)
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		// The user is gone; a dangling session resolves to nobody.
		s.logger.Warn("session not deleted after account deletion",
			slog.Int64("userID", user.ID),
			slog.String("error", err.Error()),
		)
	}
	s.logger.Info("account deleted", slog.Int64("userID", user.ID), slog.String("username", user.Username))
	return nil
}
