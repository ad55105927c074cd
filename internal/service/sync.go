package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/sakif/coding-leaderboard/internal/calendar"
	"github.com/sakif/coding-leaderboard/internal/metrics"
	"github.com/sakif/coding-leaderboard/internal/model"
	"github.com/sakif/coding-leaderboard/internal/repository"
	"github.com/sakif/coding-leaderboard/internal/wakatime"
)

// Sync modes, used in reports, logs and metrics.
const (
	ModeDay    = "day"    // one date, all users (scheduled)
	ModeLogin  = "login"  // today, one user, right after login
	ModeToday  = "today"  // today, all users (manual)
	ModeWindow = "window" // rolling seven days, one or all users
)

// DefaultSyncDelay is the minimum spacing between two users' upstream fetches.
const DefaultSyncDelay = time.Second

// SyncReport summarises one sync run.
type SyncReport struct {
	Mode      string        `json:"mode"`
	Dates     []string      `json:"dates"`
	Users     int           `json:"users"`
	Succeeded int           `json:"succeeded"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeSkipped
	outcomeFailed
)

func (o outcome) String() string {
	switch o {
	case outcomeSuccess:
		return "success"
	case outcomeSkipped:
		return "skipped"
	default:
		return "error"
	}
}

func (r *SyncReport) add(o outcome) {
	switch o {
	case outcomeSuccess:
		r.Succeeded++
	case outcomeSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
}

// Syncer keeps the daily stats store in step with WakaTime.
//
// PER-USER PROCEDURE (single day):
//  1. duplicate check: skip if the fetch log already has a success for
//     (user, date), unless forced
//  2. wait for the rate limiter
//  3. resolve a valid access credential (may refresh)
//  4. fetch the day's summary and sum it (a missing day is 0)
//  5. upsert the daily stat, then append a success entry to the fetch log
//
// Any failure in 3-5 appends an error entry with the reason and the batch
// moves on to the next user. Nothing is retried within a run.
//
// RATE LIMITING:
// A token bucket with one token refilled every delay spaces upstream fetches
// at least delay apart across the whole process, so a login warm-up and a
// running batch share the same budget. Skipped users cost nothing.
//
// The Syncer is the only writer of daily stats and fetch log entries.
type Syncer struct {
	users   repository.UserRepository
	stats   repository.StatsRepository
	log     repository.FetchLogRepository
	api     wakatime.API
	creds   *CredentialManager
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time
}

// NewSyncer creates a Syncer. delay <= 0 disables rate limiting.
func NewSyncer(
	users repository.UserRepository,
	stats repository.StatsRepository,
	fetchLog repository.FetchLogRepository,
	api wakatime.API,
	creds *CredentialManager,
	delay time.Duration,
	logger *slog.Logger,
) *Syncer {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Syncer{
		users:   users,
		stats:   stats,
		log:     fetchLog,
		api:     api,
		creds:   creds,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
		now:     time.Now,
	}
}

// SyncDay fetches one date for every user. With force the duplicate check
// is bypassed.
func (s *Syncer) SyncDay(ctx context.Context, date string, force bool) (*SyncReport, error) {
	if _, err := calendar.Parse(date); err != nil {
		return nil, err
	}
	return s.syncAllDay(ctx, ModeDay, date, force)
}

// SyncToday fetches today for every user.
func (s *Syncer) SyncToday(ctx context.Context, force bool) (*SyncReport, error) {
	return s.syncAllDay(ctx, ModeToday, calendar.Today(s.now()), force)
}

// SyncTodayForUser warms today's total for one user, normally right after
// login. The duplicate check applies.
func (s *Syncer) SyncTodayForUser(ctx context.Context, user *model.User) error {
	date := calendar.Today(s.now())
	o, err := s.syncUserDay(ctx, user, date, false)
	metrics.RecordSyncUser(ModeLogin, o.String())
	return err
}

func (s *Syncer) syncAllDay(ctx context.Context, mode, date string, force bool) (*SyncReport, error) {
	return s.runBatch(ctx, mode, []string{date}, func(u *model.User) (outcome, error) {
		return s.syncUserDay(ctx, u, date, force)
	})
}

// SyncWindow fetches the rolling seven-day window for every user.
func (s *Syncer) SyncWindow(ctx context.Context) (*SyncReport, error) {
	dates := calendar.Week(s.now())
	return s.runBatch(ctx, ModeWindow, dates, func(u *model.User) (outcome, error) {
		return s.syncUserWindow(ctx, u, dates)
	})
}

// SyncWindowForUser fetches the rolling seven-day window for one user.
func (s *Syncer) SyncWindowForUser(ctx context.Context, user *model.User) error {
	o, err := s.syncUserWindow(ctx, user, calendar.Week(s.now()))
	metrics.RecordSyncUser(ModeWindow, o.String())
	return err
}

// runBatch applies fn to every user in listing order. Per-user errors are
// already recorded by fn and only counted here; the run stops early only
// when ctx is done.
func (s *Syncer) runBatch(ctx context.Context, mode string, dates []string, fn func(*model.User) (outcome, error)) (*SyncReport, error) {
	start := s.now()
	report := &SyncReport{Mode: mode, Dates: dates}

	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: listing users for %s sync: %w", mode, err)
	}
	report.Users = len(users)

	s.logger.Info("sync started",
		slog.String("mode", mode),
		slog.Any("dates", dates),
		slog.Int("users", len(users)),
	)

	for i := range users {
		if ctx.Err() != nil {
			break
		}
		o, err := fn(&users[i])
		report.add(o)
		metrics.RecordSyncUser(mode, o.String())
		if err != nil {
			s.logger.Warn("user sync failed",
				slog.String("mode", mode),
				slog.Int64("userID", users[i].ID),
				slog.String("username", users[i].Username),
				slog.String("error", err.Error()),
			)
		}
	}

	report.Duration = s.now().Sub(start)
	metrics.RecordSyncRun(mode, report.Duration)
	s.logger.Info("sync finished",
		slog.String("mode", mode),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", report.Duration),
	)

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("service: %s sync interrupted: %w", mode, err)
	}
	return report, nil
}

// syncUserDay runs the single-day procedure for one user.
func (s *Syncer) syncUserDay(ctx context.Context, user *model.User, date string, force bool) (outcome, error) {
	if !force {
		done, err := s.log.HasSuccessfulFetch(ctx, user.ID, date)
		if err != nil {
			return outcomeFailed, s.recordFailure(ctx, user, model.FetchKindDaily, date, err)
		}
		if done {
			return outcomeSkipped, nil
		}
	}

	total, err := s.fetchDay(ctx, user, date)
	if err != nil {
		return outcomeFailed, s.recordFailure(ctx, user, model.FetchKindDaily, date, err)
	}

	if err := s.stats.UpsertDailyStat(ctx, user.ID, date, total); err != nil {
		return outcomeFailed, s.recordFailure(ctx, user, model.FetchKindDaily, date, err)
	}
	if err := s.recordSuccess(ctx, user, model.FetchKindDaily, date); err != nil {
		return outcomeFailed, err
	}

	s.logger.Debug("day synced",
		slog.Int64("userID", user.ID),
		slog.String("date", date),
		slog.Int64("totalSeconds", total),
	)
	return outcomeSuccess, nil
}

func (s *Syncer) fetchDay(ctx context.Context, user *model.User, date string) (int64, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	token, err := s.creds.AccessToken(ctx, user)
	if err != nil {
		return 0, err
	}
	days, err := s.api.FetchRangeSummary(ctx, token, date, date)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, d := range days {
		total += d.TotalSeconds
	}
	return total, nil
}

// syncUserWindow fetches the whole window in one call and upserts every
// returned day. There is no duplicate check: re-upserting is how partial
// same-day progress is picked up.
func (s *Syncer) syncUserWindow(ctx context.Context, user *model.User, dates []string) (outcome, error) {
	end := dates[len(dates)-1]

	if err := s.limiter.Wait(ctx); err != nil {
		return outcomeFailed, s.recordFailure(ctx, user, model.FetchKindWeekly, end, err)
	}
	token, err := s.creds.AccessToken(ctx, user)
	if err != nil {
		return outcomeFailed, s.recordFailure(ctx, user, model.FetchKindWeekly, end, err)
	}
	days, err := s.api.FetchRangeSummary(ctx, token, dates[0], end)
	if err != nil {
		return outcomeFailed, s.recordFailure(ctx, user, model.FetchKindWeekly, end, err)
	}

	inWindow := make(map[string]bool, len(dates))
	for _, d := range dates {
		inWindow[d] = true
	}
	for _, d := range days {
		if !inWindow[d.Date] {
			continue
		}
		if err := s.stats.UpsertDailyStat(ctx, user.ID, d.Date, d.TotalSeconds); err != nil {
			return outcomeFailed, s.recordFailure(ctx, user, model.FetchKindWeekly, end, err)
		}
	}

	if err := s.recordSuccess(ctx, user, model.FetchKindWeekly, end); err != nil {
		return outcomeFailed, err
	}
	return outcomeSuccess, nil
}

func (s *Syncer) recordSuccess(ctx context.Context, user *model.User, kind, date string) error {
	return s.log.AppendFetchLog(ctx, &model.FetchLogEntry{
		UserID: user.ID,
		Kind:   kind,
		Date:   date,
		Status: model.FetchStatusSuccess,
	})
}

// recordFailure appends an error entry and returns cause, joined with the
// logging error if the entry itself could not be written.
func (s *Syncer) recordFailure(ctx context.Context, user *model.User, kind, date string, cause error) error {
	// The entry is written even when ctx was cancelled mid-fetch.
	logCtx := context.WithoutCancel(ctx)
	err := s.log.AppendFetchLog(logCtx, &model.FetchLogEntry{
		UserID:       user.ID,
		Kind:         kind,
		Date:         date,
		Status:       model.FetchStatusError,
		ErrorMessage: cause.Error(),
	})
	if err != nil {
		return errors.Join(cause, err)
	}
	return cause
}
