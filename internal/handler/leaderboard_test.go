package handler_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/coding-leaderboard/internal/auth"
	"github.com/sakif/coding-leaderboard/internal/handler"
	"github.com/sakif/coding-leaderboard/internal/model"
)

func sampleRankings() *fakeRankings {
	return &fakeRankings{
		today: []model.LeaderboardEntry{{UserID: 1, Username: "ada", TotalSeconds: 3600, Rank: 1}},
		week: []model.LeaderboardEntry{
			{UserID: 2, Username: "bob", TotalSeconds: 9000, Rank: 1},
			{UserID: 1, Username: "ada", TotalSeconds: 3600, Rank: 2},
		},
		series: &model.WeeklyData{
			Dates: []string{"2026-03-04", "2026-03-05", "2026-03-06", "2026-03-07", "2026-03-08", "2026-03-09", "2026-03-10"},
			Users: []model.UserSeries{{UserID: 1, Username: "ada", DailyData: []model.DayPoint{{Date: "2026-03-10", Seconds: 3600}}}},
		},
	}
}

func TestLeaderboardHandler_HandleDashboard(t *testing.T) {
	t.Run("anonymous caller", func(t *testing.T) {
		h := handler.NewLeaderboardHandler(sampleRankings(), &fakeSyncer{}, &fakeJobs{}, testLogger())

		rr := httptest.NewRecorder()
		h.HandleDashboard(rr, httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))

		var got struct {
			User       *model.PublicProfile     `json:"user"`
			Today      []model.LeaderboardEntry `json:"today"`
			Week       []model.LeaderboardEntry `json:"week"`
			WeeklyData model.WeeklyData         `json:"weeklyData"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
		assert.Nil(t, got.User)
		assert.Len(t, got.Today, 1)
		assert.Len(t, got.Week, 2)
		assert.Len(t, got.WeeklyData.Dates, 7)
		assert.Contains(t, rr.Body.String(), `"user":null`)
	})

	t.Run("signed-in caller", func(t *testing.T) {
		h := handler.NewLeaderboardHandler(sampleRankings(), &fakeSyncer{}, &fakeJobs{}, testLogger())

		req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
		req = req.WithContext(auth.WithUser(req.Context(), &model.User{ID: 1, Username: "ada", AccessToken: "secret"}))
		rr := httptest.NewRecorder()
		h.HandleDashboard(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"username":"ada"`)
		assert.NotContains(t, rr.Body.String(), "secret")
	})

	t.Run("store failure", func(t *testing.T) {
		h := handler.NewLeaderboardHandler(&fakeRankings{err: errors.New("database is locked")}, &fakeSyncer{}, &fakeJobs{}, testLogger())

		rr := httptest.NewRecorder()
		h.HandleDashboard(rr, httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.JSONEq(t, `{"error":"database is locked"}`, rr.Body.String())
	})
}

func TestLeaderboardHandler_Lists(t *testing.T) {
	h := handler.NewLeaderboardHandler(sampleRankings(), &fakeSyncer{}, &fakeJobs{}, testLogger())

	tests := []struct {
		name   string
		path   string
		handle http.HandlerFunc
		want   string
	}{
		{"today", "/api/leaderboard/today", h.HandleToday, `"total_seconds":3600`},
		{"week", "/api/leaderboard/week", h.HandleWeek, `"total_seconds":9000`},
		{"weekly data", "/api/weekly-data", h.HandleWeeklyData, `"dates":["2026-03-04"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			tt.handle(rr, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.want)
		})
	}
}

func TestLeaderboardHandler_HandleRefreshAll(t *testing.T) {
	t.Run("queues a window sync", func(t *testing.T) {
		syncer := &fakeSyncer{}
		jobs := &fakeJobs{}
		h := handler.NewLeaderboardHandler(sampleRankings(), syncer, jobs, testLogger())

		rr := httptest.NewRecorder()
		h.HandleRefreshAll(rr, httptest.NewRequest(http.MethodPost, "/api/refresh-all", nil))

		assert.Equal(t, http.StatusAccepted, rr.Code)
		assert.Equal(t, []string{"refresh-all"}, jobs.names)
		assert.Zero(t, syncer.windowCalls, "the sync runs in the background, not in the request")

		require.NoError(t, jobs.runAll(context.Background()))
		assert.Equal(t, 1, syncer.windowCalls)
	})

	t.Run("queue full", func(t *testing.T) {
		h := handler.NewLeaderboardHandler(sampleRankings(), &fakeSyncer{}, &fakeJobs{full: true}, testLogger())

		rr := httptest.NewRecorder()
		h.HandleRefreshAll(rr, httptest.NewRequest(http.MethodPost, "/api/refresh-all", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})
}
