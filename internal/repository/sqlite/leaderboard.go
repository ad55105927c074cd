package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/sakif/coding-leaderboard/internal/model"
	"github.com/sakif/coding-leaderboard/internal/repository"
)

var _ repository.LeaderboardRepository = (*DB)(nil)

// LeaderboardTotals sums every non-banned user's daily totals in [start, end].
//
// LEFT JOIN:
// The date filter sits in the JOIN condition, not in WHERE, so a user without
// any row in range still produces one output row with a NULL sum. COALESCE
// turns it into 0 and the user is listed last.
//
// TIE-BREAK:
// Equal totals are ordered by user id ascending, i.e. by first login. This is
// not meaningful, only deterministic: the same data always ranks the same way.
func (db *DB) LeaderboardTotals(ctx context.Context, start, end string) ([]model.LeaderboardEntry, error) {
	entries := []model.LeaderboardEntry{}
	err := db.conn.SelectContext(ctx, &entries,
		`SELECT
			u.id AS user_id,
			u.username,
			u.display_name,
			u.photo_url,
			u.is_admin,
			COALESCE(SUM(ds.total_seconds), 0) AS total_seconds
		 FROM users u
		 LEFT JOIN daily_stats ds
			ON ds.user_id = u.id AND ds.date >= ? AND ds.date <= ?
		 WHERE u.is_banned = 0
		 GROUP BY u.id, u.username, u.display_name, u.photo_url, u.is_admin
		 ORDER BY total_seconds DESC, u.id ASC`,
		start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: computing leaderboard %s..%s: %w", start, end, err)
	}
	return entries, nil
}

// seriesRow is one (user, stored day) pair; Date is NULL for users without
// any stored day among the requested dates.
type seriesRow struct {
	UserID      int64          `db:"user_id"`
	Username    string         `db:"username"`
	DisplayName string         `db:"display_name"`
	Date        sql.NullString `db:"date"`
	Seconds     sql.NullInt64  `db:"seconds"`
}

// WeeklySeries returns each non-banned user's stored days among dates.
// Users with no stored day get an empty series; missing days are never
// filled in.
func (db *DB) WeeklySeries(ctx context.Context, dates []string) ([]model.UserSeries, error) {
	var rows []seriesRow

	if len(dates) == 0 {
		err := db.conn.SelectContext(ctx, &rows,
			`SELECT id AS user_id, username, display_name, NULL AS date, NULL AS seconds
			 FROM users WHERE is_banned = 0 ORDER BY id`)
		if err != nil {
			return nil, fmt.Errorf("sqlite: listing series users: %w", err)
		}
		return groupSeries(rows), nil
	}

	// sqlx.In expands the single "?" after IN into one placeholder per date.
	query, args, err := sqlx.In(
		`SELECT
			u.id AS user_id,
			u.username,
			u.display_name,
			ds.date AS date,
			ds.total_seconds AS seconds
		 FROM users u
		 LEFT JOIN daily_stats ds
			ON ds.user_id = u.id AND ds.date IN (?)
		 WHERE u.is_banned = 0
		 ORDER BY u.id, ds.date`,
		dates,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: building weekly series query: %w", err)
	}

	if err := db.conn.SelectContext(ctx, &rows, db.conn.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("sqlite: loading weekly series: %w", err)
	}
	return groupSeries(rows), nil
}

// groupSeries folds rows ordered by user id into one series per user.
func groupSeries(rows []seriesRow) []model.UserSeries {
	series := []model.UserSeries{}
	for _, r := range rows {
		if len(series) == 0 || series[len(series)-1].UserID != r.UserID {
			series = append(series, model.UserSeries{
				UserID:      r.UserID,
				Username:    r.Username,
				DisplayName: r.DisplayName,
				DailyData:   []model.DayPoint{},
			})
		}
		if r.Date.Valid {
			current := &series[len(series)-1]
			current.DailyData = append(current.DailyData, model.DayPoint{
				Date:    r.Date.String,
				Seconds: r.Seconds.Int64,
			})
		}
	}
	return series
}
