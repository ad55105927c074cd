package handler_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/coding-leaderboard/internal/apperror"
	"github.com/sakif/coding-leaderboard/internal/model"
	"github.com/sakif/coding-leaderboard/internal/scheduler"
	"github.com/sakif/coding-leaderboard/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// withURLParam attaches a chi route parameter, as the router would.
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

type fakeAccounts struct {
	loginResult *service.LoginResult
	loginErr    error
	codes       []string
	loggedOut   []string
	deleted     []int64
	deleteErr   error
}

func (f *fakeAccounts) Login(ctx context.Context, code string) (*service.LoginResult, error) {
	f.codes = append(f.codes, code)
	return f.loginResult, f.loginErr
}

func (f *fakeAccounts) Logout(ctx context.Context, sessionID string) error {
	f.loggedOut = append(f.loggedOut, sessionID)
	return nil
}

func (f *fakeAccounts) DeleteAccount(ctx context.Context, user *model.User, sessionID string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, user.ID)
	f.loggedOut = append(f.loggedOut, sessionID)
	return nil
}

type fakeRankings struct {
	today  []model.LeaderboardEntry
	week   []model.LeaderboardEntry
	series *model.WeeklyData
	err    error
}

func (f *fakeRankings) Today(ctx context.Context) ([]model.LeaderboardEntry, error) {
	return f.today, f.err
}

func (f *fakeRankings) Week(ctx context.Context) ([]model.LeaderboardEntry, error) {
	return f.week, f.err
}

func (f *fakeRankings) WeeklySeries(ctx context.Context) (*model.WeeklyData, error) {
	return f.series, f.err
}

// fakeJobs records enqueued jobs; run executes them synchronously.
type fakeJobs struct {
	mu    sync.Mutex
	names []string
	jobs  []scheduler.Job
	full  bool
}

func (f *fakeJobs) Enqueue(name string, fn scheduler.Job) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	f.names = append(f.names, name)
	f.jobs = append(f.jobs, fn)
	return true
}

func (f *fakeJobs) runAll(ctx context.Context) error {
	for _, j := range f.jobs {
		if err := j(ctx); err != nil {
			return err
		}
	}
	return nil
}

type fakeSyncer struct {
	userWindows []int64
	windowCalls int
	days        []string
	todayCalls  int
	forced      []bool
}

func (f *fakeSyncer) SyncWindow(ctx context.Context) (*service.SyncReport, error) {
	f.windowCalls++
	return &service.SyncReport{Mode: service.ModeWindow}, nil
}

func (f *fakeSyncer) SyncDay(ctx context.Context, date string, force bool) (*service.SyncReport, error) {
	f.days = append(f.days, date)
	f.forced = append(f.forced, force)
	return &service.SyncReport{Mode: service.ModeDay}, nil
}

func (f *fakeSyncer) SyncWindowForUser(ctx context.Context, user *model.User) error {
	f.userWindows = append(f.userWindows, user.ID)
	return nil
}

func (f *fakeSyncer) SyncToday(ctx context.Context, force bool) (*service.SyncReport, error) {
	f.todayCalls++
	f.forced = append(f.forced, force)
	return &service.SyncReport{Mode: service.ModeToday}, nil
}

type fakeAdmin struct {
	users     []model.User
	created   []service.CreateUserInput
	banned    map[int64]bool
	admins    map[int64]bool
	deleted   []int64
	fetchLog  []model.FetchLogEntry
	lastLimit int
	stats     []model.DailyStat
	lastRange [2]string
}

func newFakeAdmin() *fakeAdmin {
	return &fakeAdmin{banned: map[int64]bool{}, admins: map[int64]bool{}}
}

func (f *fakeAdmin) exists(id int64) error {
	for _, u := range f.users {
		if u.ID == id {
			return nil
		}
	}
	return apperror.NotFound("user", id)
}

func (f *fakeAdmin) ListUsers(ctx context.Context) ([]model.User, error) {
	return f.users, nil
}

func (f *fakeAdmin) CreateUser(ctx context.Context, in service.CreateUserInput) (*model.User, error) {
	f.created = append(f.created, in)
	return &model.User{ID: 99, ExternalID: in.ExternalID, Username: in.Username, AccessToken: in.AccessToken}, nil
}

func (f *fakeAdmin) DeleteUser(ctx context.Context, actor *model.User, id int64) error {
	if actor.ID == id {
		return apperror.Forbidden("Use delete-account to remove your own account")
	}
	if err := f.exists(id); err != nil {
		return err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeAdmin) SetBanned(ctx context.Context, actor *model.User, id int64, banned bool) error {
	if actor.ID == id && banned {
		return apperror.Forbidden("Admins cannot ban themselves")
	}
	if err := f.exists(id); err != nil {
		return err
	}
	f.banned[id] = banned
	return nil
}

func (f *fakeAdmin) SetAdmin(ctx context.Context, actor *model.User, id int64, admin bool) error {
	if err := f.exists(id); err != nil {
		return err
	}
	f.admins[id] = admin
	return nil
}

func (f *fakeAdmin) FetchLog(ctx context.Context, id int64, limit int) ([]model.FetchLogEntry, error) {
	if err := f.exists(id); err != nil {
		return nil, err
	}
	f.lastLimit = limit
	return f.fetchLog, nil
}

func (f *fakeAdmin) GetUser(ctx context.Context, id int64) (*model.User, error) {
	for i := range f.users {
		if f.users[i].ID == id {
			u := f.users[i]
			return &u, nil
		}
	}
	return nil, apperror.NotFound("user", id)
}

func (f *fakeAdmin) DailyStats(ctx context.Context, id int64, start, end string) ([]model.DailyStat, error) {
	if err := f.exists(id); err != nil {
		return nil, err
	}
	f.lastRange = [2]string{start, end}
	return f.stats, nil
}
