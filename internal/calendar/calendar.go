// Package calendar turns instants into the YYYY-MM-DD calendar dates the
// stats store is keyed by. All dates are UTC calendar dates, which is also
// what the scheduled sync uses to decide what "yesterday" means.
package calendar

import (
	"fmt"
	"time"
)

// Layout is the storage and wire format of a calendar date.
const Layout = "2006-01-02"

// WeekLength is the size of the rolling window used by the week leaderboard
// and the window sync.
const WeekLength = 7

// Format returns the UTC calendar date of t.
func Format(t time.Time) string {
	return t.UTC().Format(Layout)
}

// Today returns the calendar date of now.
func Today(now time.Time) string {
	return Format(now)
}

// Yesterday returns the calendar date before now.
func Yesterday(now time.Time) string {
	return Format(now.UTC().AddDate(0, 0, -1))
}

// Window returns the n calendar dates ending at end's date, oldest first.
func Window(end time.Time, n int) []string {
	if n <= 0 {
		return nil
	}
	end = end.UTC()
	dates := make([]string, 0, n)
	for i := n - 1; i >= 0; i-- {
		dates = append(dates, Format(end.AddDate(0, 0, -i)))
	}
	return dates
}

// Week returns the rolling seven-day window ending today.
func Week(now time.Time) []string {
	return Window(now, WeekLength)
}

// Parse validates a YYYY-MM-DD string.
func Parse(date string) (time.Time, error) {
	t, err := time.Parse(Layout, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("calendar: invalid date %q: %w", date, err)
	}
	return t, nil
}
