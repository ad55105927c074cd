package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sakif/coding-leaderboard/internal/apperror"
	"github.com/sakif/coding-leaderboard/internal/auth"
	"github.com/sakif/coding-leaderboard/internal/calendar"
	"github.com/sakif/coding-leaderboard/internal/model"
	"github.com/sakif/coding-leaderboard/internal/service"
)

// defaultFetchLogLimit is how many audit entries the fetch-log endpoint
// returns when ?limit is absent.
const defaultFetchLogLimit = 50

// AdminActions is the admin use-case surface. *service.AdminService
// implements it.
type AdminActions interface {
	ListUsers(ctx context.Context) ([]model.User, error)
	CreateUser(ctx context.Context, in service.CreateUserInput) (*model.User, error)
	DeleteUser(ctx context.Context, actor *model.User, id int64) error
	SetBanned(ctx context.Context, actor *model.User, id int64, banned bool) error
	SetAdmin(ctx context.Context, actor *model.User, id int64, admin bool) error
	FetchLog(ctx context.Context, id int64, limit int) ([]model.FetchLogEntry, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	DailyStats(ctx context.Context, id int64, start, end string) ([]model.DailyStat, error)
}

// AdminSyncer is the part of the sync engine admins can trigger.
// *service.Syncer implements it.
type AdminSyncer interface {
	SyncDay(ctx context.Context, date string, force bool) (*service.SyncReport, error)
	SyncToday(ctx context.Context, force bool) (*service.SyncReport, error)
	SyncWindowForUser(ctx context.Context, user *model.User) error
}

// AdminHandler serves /api/admin. Every route sits behind RequireAdmin.
type AdminHandler struct {
	admin    AdminActions
	syncer   AdminSyncer
	jobs     JobQueue
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(admin AdminActions, syncer AdminSyncer, jobs JobQueue, logger *slog.Logger) *AdminHandler {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report fields by their JSON names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &AdminHandler{
		admin:    admin,
		syncer:   syncer,
		jobs:     jobs,
		validate: v,
		logger:   logger,
		now:      time.Now,
	}
}

// HandleListUsers returns every user, banned ones included.
//
// HTTP: GET /api/admin/users
func (h *AdminHandler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.admin.ListUsers(r.Context())
	if err != nil {
		h.logger.Error("listing users failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// HandleCreateUser registers a user by hand.
//
// HTTP: POST /api/admin/users
// Body: {"wakatime_id", "username", "access_token", ...}
func (h *AdminHandler) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	var in service.CreateUserInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if err := h.validateInput(in); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.admin.CreateUser(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// validateInput turns validator errors into one AppError. Missing required
// fields are reported together, as the dashboard expects.
func (h *AdminHandler) validateInput(in service.CreateUserInput) error {
	err := h.validate.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperror.ValidationFailed("", err.Error())
	}
	for _, fe := range fieldErrs {
		if fe.Tag() == "required" {
			return apperror.ValidationFailed(fe.Field(), "Missing required fields")
		}
	}
	fe := fieldErrs[0]
	return apperror.ValidationFailed(fe.Field(), fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag()))
}

// HandleDeleteUser deletes a user and their stats.
//
// HTTP: DELETE /api/admin/users/{id}
func (h *AdminHandler) HandleDeleteUser(w http.ResponseWriter, r *http.Request) {
	h.withTarget(w, r, func(actor *model.User, id int64) (string, error) {
		return "User deleted", h.admin.DeleteUser(r.Context(), actor, id)
	})
}

// HandleBan hides a user from the leaderboards and blocks their logins.
//
// HTTP: POST /api/admin/users/{id}/ban
func (h *AdminHandler) HandleBan(w http.ResponseWriter, r *http.Request) {
	h.withTarget(w, r, func(actor *model.User, id int64) (string, error) {
		return "User banned", h.admin.SetBanned(r.Context(), actor, id, true)
	})
}

// HandleUnban lifts a ban.
//
// HTTP: POST /api/admin/users/{id}/unban
func (h *AdminHandler) HandleUnban(w http.ResponseWriter, r *http.Request) {
	h.withTarget(w, r, func(actor *model.User, id int64) (string, error) {
		return "User unbanned", h.admin.SetBanned(r.Context(), actor, id, false)
	})
}

// HandlePromote grants the admin role.
//
// HTTP: POST /api/admin/users/{id}/promote
func (h *AdminHandler) HandlePromote(w http.ResponseWriter, r *http.Request) {
	h.withTarget(w, r, func(actor *model.User, id int64) (string, error) {
		return "User promoted", h.admin.SetAdmin(r.Context(), actor, id, true)
	})
}

// HandleDemote revokes the admin role.
//
// HTTP: POST /api/admin/users/{id}/demote
func (h *AdminHandler) HandleDemote(w http.ResponseWriter, r *http.Request) {
	h.withTarget(w, r, func(actor *model.User, id int64) (string, error) {
		return "User demoted", h.admin.SetAdmin(r.Context(), actor, id, false)
	})
}

// withTarget parses {id}, runs action on behalf of the calling admin and
// writes {success, message}.
func (h *AdminHandler) withTarget(w http.ResponseWriter, r *http.Request, action func(actor *model.User, id int64) (string, error)) {
	actor, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthenticated())
		return
	}
	id, err := userIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	msg, err := action(actor, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": msg})
}

// HandleFetchLog returns a user's latest sync attempts, newest first.
//
// HTTP: GET /api/admin/users/{id}/fetch-log?limit=N
func (h *AdminHandler) HandleFetchLog(w http.ResponseWriter, r *http.Request) {
	id, err := userIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	limit := defaultFetchLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, apperror.ValidationFailed("limit", "limit must be a positive integer"))
			return
		}
	}

	entries, err := h.admin.FetchLog(r.Context(), id, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []model.FetchLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleUserStats returns a user's stored daily totals.
//
// HTTP: GET /api/admin/users/{id}/stats?start=YYYY-MM-DD&end=YYYY-MM-DD
//
// Both bounds are optional and default to the current seven-day window.
func (h *AdminHandler) HandleUserStats(w http.ResponseWriter, r *http.Request) {
	id, err := userIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	stats, err := h.admin.DailyStats(r.Context(), id, q.Get("start"), q.Get("end"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandleRefreshUser queues a seven-day sync of one user.
//
// HTTP: POST /api/admin/users/{id}/refresh
func (h *AdminHandler) HandleRefreshUser(w http.ResponseWriter, r *http.Request) {
	id, err := userIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	user, err := h.admin.GetUser(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	job := func(ctx context.Context) error {
		return h.syncer.SyncWindowForUser(ctx, user)
	}
	if !h.jobs.Enqueue("refresh-user", job) {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "Job queue is full, try again later"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"message": "Data refresh initiated for " + user.Username,
	})
}

// HandleFetchNow queues a single-day sync for every user.
//
// HTTP: GET|POST /api/admin/fetch-now?today=true&force=true
//
// Without today=true the target is yesterday. Without force=true users
// already fetched for the target are skipped.
func (h *AdminHandler) HandleFetchNow(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	useToday := q.Get("today") == "true"
	force := q.Get("force") == "true"

	target := "yesterday"
	job := func(ctx context.Context) error {
		_, err := h.syncer.SyncDay(ctx, calendar.Yesterday(h.now()), force)
		return err
	}
	if useToday {
		target = "today"
		job = func(ctx context.Context) error {
			_, err := h.syncer.SyncToday(ctx, force)
			return err
		}
	}

	if !h.jobs.Enqueue("fetch-now-"+target, job) {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "Job queue is full, try again later"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"message": "Data fetch initiated for " + target,
	})
}

func userIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.ValidationFailed("id", "Invalid user id")
	}
	return id, nil
}
