package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/coding-leaderboard/internal/auth"
	"github.com/sakif/coding-leaderboard/internal/model"
	"github.com/sakif/coding-leaderboard/internal/scheduler"
	"github.com/sakif/coding-leaderboard/internal/service"
)

// Rankings is the read side of the leaderboard. *service.LeaderboardService
// implements it.
type Rankings interface {
	Today(ctx context.Context) ([]model.LeaderboardEntry, error)
	Week(ctx context.Context) ([]model.LeaderboardEntry, error)
	WeeklySeries(ctx context.Context) (*model.WeeklyData, error)
}

// WindowSyncer refreshes the rolling window for everyone. *service.Syncer
// implements it.
type WindowSyncer interface {
	SyncWindow(ctx context.Context) (*service.SyncReport, error)
}

// JobQueue accepts background work. *scheduler.Runner implements it.
type JobQueue interface {
	Enqueue(name string, fn scheduler.Job) bool
}

// LeaderboardHandler serves the dashboard, the two leaderboards and the
// weekly chart data.
type LeaderboardHandler struct {
	rankings Rankings
	syncer   WindowSyncer
	jobs     JobQueue
	logger   *slog.Logger
}

// NewLeaderboardHandler creates a LeaderboardHandler.
func NewLeaderboardHandler(rankings Rankings, syncer WindowSyncer, jobs JobQueue, logger *slog.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{rankings: rankings, syncer: syncer, jobs: jobs, logger: logger}
}

// DashboardResponse is everything the dashboard page renders in one call.
type DashboardResponse struct {
	User       *model.PublicProfile     `json:"user"`
	Today      []model.LeaderboardEntry `json:"today"`
	Week       []model.LeaderboardEntry `json:"week"`
	WeeklyData *model.WeeklyData        `json:"weeklyData"`
}

// HandleDashboard returns the caller (or null) with both leaderboards and the
// weekly series.
//
// HTTP: GET /api/dashboard
// Auth: optional. An invalid session is not an error here, the dashboard is
// public and the caller simply shows as null.
func (h *LeaderboardHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp := DashboardResponse{}
	if user, ok := auth.UserFromContext(ctx); ok {
		profile := user.Profile()
		resp.User = &profile
	}

	var err error
	if resp.Today, err = h.rankings.Today(ctx); err != nil {
		h.fail(w, "today leaderboard", err)
		return
	}
	if resp.Week, err = h.rankings.Week(ctx); err != nil {
		h.fail(w, "week leaderboard", err)
		return
	}
	if resp.WeeklyData, err = h.rankings.WeeklySeries(ctx); err != nil {
		h.fail(w, "weekly series", err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

// HandleToday returns today's leaderboard.
//
// HTTP: GET /api/leaderboard/today
func (h *LeaderboardHandler) HandleToday(w http.ResponseWriter, r *http.Request) {
	entries, err := h.rankings.Today(r.Context())
	if err != nil {
		h.fail(w, "today leaderboard", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleWeek returns the rolling seven-day leaderboard.
//
// HTTP: GET /api/leaderboard/week
func (h *LeaderboardHandler) HandleWeek(w http.ResponseWriter, r *http.Request) {
	entries, err := h.rankings.Week(r.Context())
	if err != nil {
		h.fail(w, "week leaderboard", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleWeeklyData returns the window's dates and every user's series.
//
// HTTP: GET /api/weekly-data
func (h *LeaderboardHandler) HandleWeeklyData(w http.ResponseWriter, r *http.Request) {
	data, err := h.rankings.WeeklySeries(r.Context())
	if err != nil {
		h.fail(w, "weekly series", err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// HandleRefreshAll queues a window sync for every user and returns at once.
//
// HTTP: POST /api/refresh-all
// Auth: session
func (h *LeaderboardHandler) HandleRefreshAll(w http.ResponseWriter, r *http.Request) {
	requestedBy := int64(0)
	if user, ok := auth.UserFromContext(r.Context()); ok {
		requestedBy = user.ID
	}

	queued := h.jobs.Enqueue("refresh-all", func(ctx context.Context) error {
		_, err := h.syncer.SyncWindow(ctx)
		return err
	})
	if !queued {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "Refresh queue is full, try again later"})
		return
	}

	h.logger.Info("week refresh requested", slog.Int64("userID", requestedBy))
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"message": "Week data refresh started for all users",
	})
}

func (h *LeaderboardHandler) fail(w http.ResponseWriter, what string, err error) {
	h.logger.Error("reading "+what+" failed", slog.String("error", err.Error()))
	writeError(w, err)
}
