package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/coding-leaderboard/internal/apperror"
	"github.com/sakif/coding-leaderboard/internal/calendar"
	"github.com/sakif/coding-leaderboard/internal/model"
	"github.com/sakif/coding-leaderboard/internal/repository"
)

// CreateUserInput is a manually registered user. Used when someone hands an
// admin a WakaTime API credential instead of going through OAuth.
type CreateUserInput struct {
	ExternalID   string `json:"wakatime_id"   validate:"required,max=128"`
	Username     string `json:"username"      validate:"required,max=100"`
	DisplayName  string `json:"display_name"  validate:"max=200"`
	Email        string `json:"email"         validate:"omitempty,email"`
	AccessToken  string `json:"access_token"  validate:"required"`
	RefreshToken string `json:"refresh_token"`
	PhotoURL     string `json:"photo_url"     validate:"omitempty,url"`
}

// AdminService implements the admin actions on users.
type AdminService struct {
	users  repository.UserRepository
	stats  repository.StatsRepository
	log    repository.FetchLogRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewAdminService creates an AdminService.
func NewAdminService(
	users repository.UserRepository,
	stats repository.StatsRepository,
	fetchLog repository.FetchLogRepository,
	logger *slog.Logger,
) *AdminService {
	return &AdminService{users: users, stats: stats, log: fetchLog, logger: logger, now: time.Now}
}

// GetUser loads one user, banned or not.
func (s *AdminService) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return s.users.GetUserByID(ctx, id)
}

// ListUsers returns every user, banned ones included.
func (s *AdminService) ListUsers(ctx context.Context) ([]model.User, error) {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/admin: listing users: %w", err)
	}
	if users == nil {
		users = []model.User{}
	}
	return users, nil
}

// CreateUser inserts (or refreshes) a user from an admin-supplied record.
func (s *AdminService) CreateUser(ctx context.Context, in CreateUserInput) (*model.User, error) {
	user := &model.User{
		ExternalID:   strings.TrimSpace(in.ExternalID),
		Username:     strings.TrimSpace(in.Username),
		DisplayName:  strings.TrimSpace(in.DisplayName),
		Email:        strings.TrimSpace(in.Email),
		AccessToken:  in.AccessToken,
		RefreshToken: in.RefreshToken,
		PhotoURL:     strings.TrimSpace(in.PhotoURL),
	}
	if user.ExternalID == "" || user.Username == "" || user.AccessToken == "" {
		return nil, apperror.ValidationFailed("", "Missing required fields")
	}

	if err := s.users.Upsert(ctx, user); err != nil {
		return nil, fmt.Errorf("service/admin: creating user %s: %w", user.ExternalID, err)
	}
	s.logger.Info("user created by admin", slog.Int64("userID", user.ID), slog.String("username", user.Username))
	return user, nil
}

// DeleteUser removes a user and, through the cascade, their stats.
// Admins cannot delete themselves here; /api/auth/delete-account does that.
func (s *AdminService) DeleteUser(ctx context.Context, actor *model.User, id int64) error {
	if actor.ID == id {
		return apperror.Forbidden("Use delete-account to remove your own account")
	}
	if err := s.users.DeleteUser(ctx, id); err != nil {
		return fmt.Errorf("service/admin: deleting user %d: %w", id, err)
	}
	s.logger.Info("user deleted by admin", slog.Int64("userID", id), slog.Int64("adminID", actor.ID))
	return nil
}

// SetBanned bans or unbans a user. A banned user keeps their data but is
// hidden from every leaderboard and cannot log in.
func (s *AdminService) SetBanned(ctx context.Context, actor *model.User, id int64, banned bool) error {
	if actor.ID == id && banned {
		return apperror.Forbidden("Admins cannot ban themselves")
	}
	if err := s.users.SetBanned(ctx, id, banned); err != nil {
		return fmt.Errorf("service/admin: setting banned=%t on user %d: %w", banned, id, err)
	}
	s.logger.Info("user ban changed", slog.Int64("userID", id), slog.Bool("banned", banned), slog.Int64("adminID", actor.ID))
	return nil
}

// SetAdmin grants or revokes the admin role.
func (s *AdminService) SetAdmin(ctx context.Context, actor *model.User, id int64, admin bool) error {
	if actor.ID == id && !admin {
		return apperror.Forbidden("Admins cannot demote themselves")
	}
	if err := s.users.SetAdmin(ctx, id, admin); err != nil {
		return fmt.Errorf("service/admin: setting admin=%t on user %d: %w", admin, id, err)
	}
	s.logger.Info("user role changed", slog.Int64("userID", id), slog.Bool("admin", admin), slog.Int64("adminID", actor.ID))
	return nil
}

// FetchLog returns a user's latest sync attempts.
func (s *AdminService) FetchLog(ctx context.Context, id int64, limit int) ([]model.FetchLogEntry, error) {
	if _, err := s.users.GetUserByID(ctx, id); err != nil {
		return nil, err
	}
	entries, err := s.log.ListFetchLog(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("service/admin: reading fetch log of user %d: %w", id, err)
	}
	return entries, nil
}

// DailyStats returns a user's stored days in [start, end], oldest first.
// Empty bounds default to the current seven-day window. Days never synced
// are absent rather than zero.
func (s *AdminService) DailyStats(ctx context.Context, id int64, start, end string) ([]model.DailyStat, error) {
	if start == "" || end == "" {
		week := calendar.Week(s.now())
		if start == "" {
			start = week[0]
		}
		if end == "" {
			end = week[len(week)-1]
		}
	}
	from, err := calendar.Parse(start)
	if err != nil {
		return nil, apperror.ValidationFailed("start", "start must be a YYYY-MM-DD date")
	}
	to, err := calendar.Parse(end)
	if err != nil {
		return nil, apperror.ValidationFailed("end", "end must be a YYYY-MM-DD date")
	}
	if to.Before(from) {
		return nil, apperror.ValidationFailed("end", "end must not be before start")
	}

	if _, err := s.users.GetUserByID(ctx, id); err != nil {
		return nil, err
	}
	stats, err := s.stats.ListDailyStats(ctx, id, start, end)
	if err != nil {
		return nil, fmt.Errorf("service/admin: reading stats of user %d: %w", id, err)
	}
	if stats == nil {
		stats = []model.DailyStat{}
	}
	return stats, nil
}
