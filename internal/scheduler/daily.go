// Package scheduler runs the leaderboard's background work: the once-a-day
// sync of yesterday's totals and a queue for sync batches requested over
// HTTP. Both are suture services and live under the server's supervisor.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/sakif/coding-leaderboard/internal/calendar"
	"github.com/sakif/coding-leaderboard/internal/service"
)

// DaySyncer syncs one calendar date for every user. *service.Syncer
// implements it.
type DaySyncer interface {
	SyncDay(ctx context.Context, date string, force bool) (*service.SyncReport, error)
}

// Daily fires once a day at hour:00 UTC and syncs yesterday for every user,
// with the duplicate check on. Yesterday is final by then, so the stored
// total is the full day.
type Daily struct {
	syncer DaySyncer
	hour   int
	logger *slog.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// NewDaily creates the daily trigger. hour is clamped to 0..23.
func NewDaily(syncer DaySyncer, hour int, logger *slog.Logger) *Daily {
	if hour < 0 || hour > 23 {
		hour = 0
	}
	return &Daily{
		syncer: syncer,
		hour:   hour,
		logger: logger,
		now:    time.Now,
		after:  time.After,
	}
}

// Serve implements suture.Service. A failed run is logged and the loop keeps
// going; only ctx ends it.
func (d *Daily) Serve(ctx context.Context) error {
	for {
		now := d.now().UTC()
		next := nextRun(now, d.hour)
		d.logger.Debug("daily sync scheduled", slog.Time("at", next))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.after(next.Sub(now)):
		}

		d.RunOnce(ctx)
	}
}

// RunOnce syncs yesterday relative to the current clock.
func (d *Daily) RunOnce(ctx context.Context) {
	date := calendar.Yesterday(d.now())
	report, err := d.syncer.SyncDay(ctx, date, false)
	if err != nil {
		d.logger.Error("daily sync failed", slog.String("date", date), slog.String("error", err.Error()))
		return
	}
	d.logger.Info("daily sync done",
		slog.String("date", date),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
	)
}

func (d *Daily) String() string {
	return "daily-sync"
}

// nextRun returns the first hour:00 UTC strictly after now.
func nextRun(now time.Time, hour int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
