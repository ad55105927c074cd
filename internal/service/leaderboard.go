package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sakif/coding-leaderboard/internal/calendar"
	"github.com/sakif/coding-leaderboard/internal/model"
	"github.com/sakif/coding-leaderboard/internal/repository"
)

// LeaderboardService answers the ranking questions of the dashboard.
type LeaderboardService struct {
	repo repository.LeaderboardRepository
	now  func() time.Time
}

// NewLeaderboardService creates a LeaderboardService.
func NewLeaderboardService(repo repository.LeaderboardRepository) *LeaderboardService {
	return &LeaderboardService{repo: repo, now: time.Now}
}

// Rank returns every non-banned user with their total over [start, end],
// best first.
//
// RANK:
// Ranks are 1-based positions in the sorted list. Equal totals still get
// consecutive, distinct ranks; who goes first is decided by user id (see
// the repository's tie-break).
func (s *LeaderboardService) Rank(ctx context.Context, start, end string) ([]model.LeaderboardEntry, error) {
	if _, err := calendar.Parse(start); err != nil {
		return nil, err
	}
	if _, err := calendar.Parse(end); err != nil {
		return nil, err
	}
	if start > end {
		return nil, fmt.Errorf("service: leaderboard range %s..%s is reversed", start, end)
	}

	entries, err := s.repo.LeaderboardTotals(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("service: ranking %s..%s: %w", start, end, err)
	}
	if entries == nil {
		entries = []model.LeaderboardEntry{}
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

// Today ranks today's totals.
func (s *LeaderboardService) Today(ctx context.Context) ([]model.LeaderboardEntry, error) {
	today := calendar.Today(s.now())
	return s.Rank(ctx, today, today)
}

// Week ranks the totals of the rolling seven-day window.
func (s *LeaderboardService) Week(ctx context.Context) ([]model.LeaderboardEntry, error) {
	dates := s.WeekDates()
	return s.Rank(ctx, dates[0], dates[len(dates)-1])
}

// WeekDates returns the rolling seven-day window, oldest first.
func (s *LeaderboardService) WeekDates() []string {
	return calendar.Week(s.now())
}

// WeeklySeries returns the window's dates and every user's sparse series
// over them.
func (s *LeaderboardService) WeeklySeries(ctx context.Context) (*model.WeeklyData, error) {
	dates := s.WeekDates()
	users, err := s.repo.WeeklySeries(ctx, dates)
	if err != nil {
		return nil, fmt.Errorf("service: loading weekly series: %w", err)
	}
	if users == nil {
		users = []model.UserSeries{}
	}
	return &model.WeeklyData{Dates: dates, Users: users}, nil
}
