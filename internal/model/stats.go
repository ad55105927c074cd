package model

import "time"

// Fetch kinds recorded in the fetch log.
const (
	FetchKindDaily  = "daily"
	FetchKindWeekly = "weekly"
)

// Fetch outcomes recorded in the fetch log.
const (
	FetchStatusSuccess = "success"
	FetchStatusError   = "error"
)

// DailyStat is the total coding time of one user on one calendar date.
// Date is always formatted YYYY-MM-DD (UTC calendar).
type DailyStat struct {
	UserID       int64     `json:"user_id"       db:"user_id"`
	Date         string    `json:"date"          db:"date"`
	TotalSeconds int64     `json:"total_seconds" db:"total_seconds"`
	FetchedAt    time.Time `json:"fetched_at"    db:"fetched_at"`
}

// FetchLogEntry is one append-only audit record of a sync attempt.
type FetchLogEntry struct {
	ID           int64     `json:"id"            db:"id"`
	UserID       int64     `json:"user_id"       db:"user_id"`
	Kind         string    `json:"fetch_type"    db:"fetch_type"`
	Date         string    `json:"fetch_date"    db:"fetch_date"`
	Status       string    `json:"status"        db:"status"`
	ErrorMessage string    `json:"error_message" db:"error_message"`
	FetchedAt    time.Time `json:"fetched_at"    db:"fetched_at"`
}

// LeaderboardEntry is one ranked row of a leaderboard. It is derived from
// daily stats and never stored.
type LeaderboardEntry struct {
	UserID       int64  `json:"user_id"       db:"user_id"`
	Username     string `json:"username"      db:"username"`
	DisplayName  string `json:"display_name"  db:"display_name"`
	PhotoURL     string `json:"photo_url"     db:"photo_url"`
	IsAdmin      bool   `json:"is_admin"      db:"is_admin"`
	TotalSeconds int64  `json:"total_seconds" db:"total_seconds"`
	Rank         int    `json:"rank"          db:"-"`
}

// DayPoint is one stored day in a user's series.
type DayPoint struct {
	Date    string `json:"date"`
	Seconds int64  `json:"seconds"`
}

// UserSeries is a user's sparse per-day series: only dates with a stored row
// appear. Consumers fill the gaps with zero.
type UserSeries struct {
	UserID      int64      `json:"user_id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"display_name"`
	DailyData   []DayPoint `json:"daily_data"`
}

// WeeklyData pairs the requested dates with every user's series.
type WeeklyData struct {
	Dates []string     `json:"dates"`
	Users []UserSeries `json:"users"`
}
