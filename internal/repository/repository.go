// Package repository declares the storage contracts the services depend on.
// internal/repository/sqlite provides the only production implementation.
package repository

import (
	"context"

	"github.com/sakif/coding-leaderboard/internal/model"
)

// UserRepository stores leaderboard members and their OAuth credentials.
type UserRepository interface {
	// Upsert inserts the user or, when a user with the same ExternalID
	// exists, refreshes its profile and credentials. Admin and banned flags
	// are never changed by Upsert. The canonical stored record is written
	// back into user.
	Upsert(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	GetUserByExternalID(ctx context.Context, externalID string) (*model.User, error)
	// ListUsers returns every user in enumeration order (id ascending).
	ListUsers(ctx context.Context) ([]model.User, error)
	DeleteUser(ctx context.Context, id int64) error
	SetBanned(ctx context.Context, id int64, banned bool) error
	SetAdmin(ctx context.Context, id int64, admin bool) error
	// SaveCredentials persists a rotated credential pair, keyed by ExternalID.
	SaveCredentials(ctx context.Context, externalID string, creds model.Credentials) error
}

// StatsRepository stores per-user per-day totals.
type StatsRepository interface {
	// UpsertDailyStat writes the total for (userID, date); a later write for
	// the same pair replaces the earlier one.
	UpsertDailyStat(ctx context.Context, userID int64, date string, totalSeconds int64) error
	ListDailyStats(ctx context.Context, userID int64, start, end string) ([]model.DailyStat, error)
}

// FetchLogRepository is the append-only audit trail of sync attempts.
type FetchLogRepository interface {
	AppendFetchLog(ctx context.Context, entry *model.FetchLogEntry) error
	// HasSuccessfulFetch reports whether a success entry exists for (userID, date).
	HasSuccessfulFetch(ctx context.Context, userID int64, date string) (bool, error)
	ListFetchLog(ctx context.Context, userID int64, limit int) ([]model.FetchLogEntry, error)
}

// LeaderboardRepository runs the aggregate queries behind the leaderboards.
type LeaderboardRepository interface {
	// LeaderboardTotals returns one row per non-banned user with the sum of
	// their totals in [start, end], ordered by total descending then user id.
	// Rank is left unset.
	LeaderboardTotals(ctx context.Context, start, end string) ([]model.LeaderboardEntry, error)
	// WeeklySeries returns, per non-banned user, the stored rows whose date is
	// in dates. Dates without a row are omitted.
	WeeklySeries(ctx context.Context, dates []string) ([]model.UserSeries, error)
}
