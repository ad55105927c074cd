package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/sakif/coding-leaderboard/internal/model"
	"github.com/sakif/coding-leaderboard/internal/repository"
)

var (
	_ repository.StatsRepository    = (*DB)(nil)
	_ repository.FetchLogRepository = (*DB)(nil)
)

// UpsertDailyStat writes the coding total of one user on one date.
//
// LAST WRITE WINS:
// A second write for the same (user_id, date) replaces the total instead of
// adding to it. Every write carries the full day total as reported upstream,
// so re-fetching a day converges on the latest value.
func (db *DB) UpsertDailyStat(ctx context.Context, userID int64, date string, totalSeconds int64) error {
	if totalSeconds < 0 {
		totalSeconds = 0
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO daily_stats (user_id, date, total_seconds, fetched_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, date) DO UPDATE SET
			total_seconds = excluded.total_seconds,
			fetched_at = excluded.fetched_at`,
		userID, date, totalSeconds, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: upserting daily stat (user=%d, date=%s): %w", userID, date, err)
	}
	return nil
}

// ListDailyStats returns a user's stored days in [start, end], oldest first.
func (db *DB) ListDailyStats(ctx context.Context, userID int64, start, end string) ([]model.DailyStat, error) {
	stats := []model.DailyStat{}
	err := db.conn.SelectContext(ctx, &stats,
		`SELECT user_id, date, total_seconds, fetched_at
		 FROM daily_stats
		 WHERE user_id = ? AND date >= ? AND date <= ?
		 ORDER BY date`,
		userID, start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing daily stats of user %d: %w", userID, err)
	}
	return stats, nil
}

// AppendFetchLog inserts an audit entry. Entries are never updated.
func (db *DB) AppendFetchLog(ctx context.Context, entry *model.FetchLogEntry) error {
	if entry.FetchedAt.IsZero() {
		entry.FetchedAt = time.Now().UTC()
	}
	result, err := db.conn.NamedExecContext(ctx,
		`INSERT INTO fetch_log (user_id, fetch_type, fetch_date, status, error_message, fetched_at)
		 VALUES (:user_id, :fetch_type, :fetch_date, :status, :error_message, :fetched_at)`,
		entry,
	)
	if err != nil {
		return fmt.Errorf("sqlite: appending fetch log (user=%d, date=%s): %w", entry.UserID, entry.Date, err)
	}
	if id, err := result.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// HasSuccessfulFetch is the duplicate-suppression check of the daily sync.
func (db *DB) HasSuccessfulFetch(ctx context.Context, userID int64, date string) (bool, error) {
	var exists bool
	err := db.conn.GetContext(ctx, &exists,
		`SELECT EXISTS (
			SELECT 1 FROM fetch_log
			WHERE user_id = ? AND fetch_date = ? AND status = ?
		 )`,
		userID, date, model.FetchStatusSuccess,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking fetch log (user=%d, date=%s): %w", userID, date, err)
	}
	return exists, nil
}

// ListFetchLog returns a user's most recent audit entries, newest first.
func (db *DB) ListFetchLog(ctx context.Context, userID int64, limit int) ([]model.FetchLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	entries := []model.FetchLogEntry{}
	err := db.conn.SelectContext(ctx, &entries,
		`SELECT id, user_id, fetch_type, fetch_date, status, error_message, fetched_at
		 FROM fetch_log
		 WHERE user_id = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing fetch log of user %d: %w", userID, err)
	}
	return entries, nil
}
