package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/sakif/coding-leaderboard/internal/apperror"
	"github.com/sakif/coding-leaderboard/internal/model"
	"github.com/sakif/coding-leaderboard/internal/wakatime"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore is an in-memory stand-in for the SQLite store. It implements
// every repository interface the services use.
type fakeStore struct {
	mu       sync.Mutex
	users    map[int64]*model.User
	nextID   int64
	stats    map[int64]map[string]int64 // user id -> date -> seconds
	fetchLog []model.FetchLogEntry
	saved    []model.Credentials

	// set to simulate failures
	listErr   error
	upsertErr error
	saveErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:  map[int64]*model.User{},
		nextID: 1,
		stats:  map[int64]map[string]int64{},
	}
}

// addUser inserts a user directly and returns the stored copy.
func (f *fakeStore) addUser(u model.User) *model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u.ID = f.nextID
	f.nextID++
	stored := u
	f.users[u.ID] = &stored
	return &u
}

func (f *fakeStore) Upsert(ctx context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	for _, existing := range f.users {
		if existing.ExternalID == user.ExternalID {
			admin, banned, id := existing.IsAdmin, existing.IsBanned, existing.ID
			*existing = *user
			existing.ID, existing.IsAdmin, existing.IsBanned = id, admin, banned
			*user = *existing
			return nil
		}
	}
	user.ID = f.nextID
	user.IsAdmin, user.IsBanned = false, false
	f.nextID++
	stored := *user
	f.users[user.ID] = &stored
	return nil
}

func (f *fakeStore) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	copied := *u
	return &copied, nil
}

func (f *fakeStore) GetUserByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ExternalID == externalID {
			copied := *u
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("user", externalID)
}

func (f *fakeStore) ListUsers(ctx context.Context) ([]model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]model.User, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) DeleteUser(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		return apperror.NotFound("user", id)
	}
	delete(f.users, id)
	delete(f.stats, id)
	return nil
}

func (f *fakeStore) SetBanned(ctx context.Context, id int64, banned bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return apperror.NotFound("user", id)
	}
	u.IsBanned = banned
	return nil
}

func (f *fakeStore) SetAdmin(ctx context.Context, id int64, admin bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return apperror.NotFound("user", id)
	}
	u.IsAdmin = admin
	return nil
}

func (f *fakeStore) SaveCredentials(ctx context.Context, externalID string, creds model.Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	for _, u := range f.users {
		if u.ExternalID == externalID {
			u.AccessToken, u.RefreshToken, u.TokenExpiresAt = creds.AccessToken, creds.RefreshToken, creds.ExpiresAt
			f.saved = append(f.saved, creds)
			return nil
		}
	}
	return apperror.NotFound("user", externalID)
}

func (f *fakeStore) UpsertDailyStat(ctx context.Context, userID int64, date string, totalSeconds int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stats[userID] == nil {
		f.stats[userID] = map[string]int64{}
	}
	f.stats[userID][date] = totalSeconds
	return nil
}

func (f *fakeStore) ListDailyStats(ctx context.Context, userID int64, start, end string) ([]model.DailyStat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.DailyStat
	for date, secs := range f.stats[userID] {
		if date >= start && date <= end {
			out = append(out, model.DailyStat{UserID: userID, Date: date, TotalSeconds: secs})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// stat returns the stored total and whether a row exists.
func (f *fakeStore) stat(userID int64, date string) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	secs, ok := f.stats[userID][date]
	return secs, ok
}

func (f *fakeStore) AppendFetchLog(ctx context.Context, entry *model.FetchLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.ID = int64(len(f.fetchLog) + 1)
	f.fetchLog = append(f.fetchLog, *entry)
	return nil
}

func (f *fakeStore) HasSuccessfulFetch(ctx context.Context, userID int64, date string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.fetchLog {
		if e.UserID == userID && e.Date == date && e.Status == model.FetchStatusSuccess {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ListFetchLog(ctx context.Context, userID int64, limit int) ([]model.FetchLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.FetchLogEntry
	for i := len(f.fetchLog) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if f.fetchLog[i].UserID == userID {
			out = append(out, f.fetchLog[i])
		}
	}
	return out, nil
}

// logFor returns the fetch log entries of one user, oldest first.
func (f *fakeStore) logFor(userID int64) []model.FetchLogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.FetchLogEntry
	for _, e := range f.fetchLog {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeStore) LeaderboardTotals(ctx context.Context, start, end string) ([]model.LeaderboardEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.LeaderboardEntry
	for _, u := range f.users {
		if u.IsBanned {
			continue
		}
		var total int64
		for date, secs := range f.stats[u.ID] {
			if date >= start && date <= end {
				total += secs
			}
		}
		out = append(out, model.LeaderboardEntry{UserID: u.ID, Username: u.Username, TotalSeconds: total})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalSeconds != out[j].TotalSeconds {
			return out[i].TotalSeconds > out[j].TotalSeconds
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (f *fakeStore) WeeklySeries(ctx context.Context, dates []string) ([]model.UserSeries, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.UserSeries
	ids := make([]int64, 0, len(f.users))
	for id := range f.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		u := f.users[id]
		if u.IsBanned {
			continue
		}
		series := model.UserSeries{UserID: id, Username: u.Username, DailyData: []model.DayPoint{}}
		for _, d := range dates {
			if secs, ok := f.stats[id][d]; ok {
				series.DailyData = append(series.DailyData, model.DayPoint{Date: d, Seconds: secs})
			}
		}
		out = append(out, series)
	}
	return out, nil
}

// fakeAPI is a scripted WakaTime. days maps access token -> date -> seconds.
type fakeAPI struct {
	mu      sync.Mutex
	days    map[string]map[string]int64
	profile map[string]*wakatime.Profile
	errs    map[string]error // access token -> error to return
	calls   int
	tokens  []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		days:    map[string]map[string]int64{},
		profile: map[string]*wakatime.Profile{},
		errs:    map[string]error{},
	}
}

func (f *fakeAPI) FetchProfile(ctx context.Context, accessToken string) (*wakatime.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[accessToken]; err != nil {
		return nil, err
	}
	p, ok := f.profile[accessToken]
	if !ok {
		return nil, wakatime.ErrUnauthorized
	}
	return p, nil
}

func (f *fakeAPI) FetchRangeSummary(ctx context.Context, accessToken, start, end string) ([]wakatime.DayTotal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.tokens = append(f.tokens, accessToken)
	if err := f.errs[accessToken]; err != nil {
		return nil, err
	}
	var out []wakatime.DayTotal
	for date, secs := range f.days[accessToken] {
		if date >= start && date <= end {
			out = append(out, wakatime.DayTotal{Date: date, TotalSeconds: secs})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (f *fakeAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeRefresher counts refresh calls and returns a fixed result.
type fakeRefresher struct {
	calls  int
	result *model.Credentials
	err    error
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (*model.Credentials, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.result == nil {
		return nil, errors.New("no scripted result")
	}
	return f.result, nil
}
