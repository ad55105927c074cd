package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sakif/coding-leaderboard/internal/auth"
	"github.com/sakif/coding-leaderboard/internal/model"
	"github.com/sakif/coding-leaderboard/internal/service"
	"github.com/sakif/coding-leaderboard/internal/session"
)

const stateCookieName = "oauth_state"

// Authorizer builds the WakaTime authorize URL. *auth.WakaTimeProvider
// implements it.
type Authorizer interface {
	AuthURL(state string) string
}

// StateIssuer issues and checks the signed OAuth state. *auth.StateSigner
// implements it.
type StateIssuer interface {
	Issue() (string, error)
	Verify(state string) error
}

// AccountService is the part of *service.AuthService the handler needs.
type AccountService interface {
	Login(ctx context.Context, code string) (*service.LoginResult, error)
	Logout(ctx context.Context, sessionID string) error
	DeleteAccount(ctx context.Context, user *model.User, sessionID string) error
}

// AuthHandler runs the WakaTime OAuth flow and the account endpoints.
//
//   - HandleLogin    → redirect the browser to WakaTime
//   - HandleCallback → finish the login and redirect back to the frontend
//   - HandleLogout   → end the session
//   - HandleDelete   → delete the caller's account
//   - HandleMe       → the caller's public profile
type AuthHandler struct {
	provider    Authorizer
	states      StateIssuer
	accounts    AccountService
	frontendURL string
	sessionTTL  time.Duration
	logger      *slog.Logger
}

// NewAuthHandler creates an AuthHandler. frontendURL is where the callback
// sends the browser afterwards.
func NewAuthHandler(
	provider Authorizer,
	states StateIssuer,
	accounts AccountService,
	frontendURL string,
	sessionTTL time.Duration,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		provider:    provider,
		states:      states,
		accounts:    accounts,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		sessionTTL:  sessionTTL,
		logger:      logger,
	}
}

// HandleLogin redirects to WakaTime's authorization page.
//
// HTTP: GET /api/auth/login
//
// CSRF PROTECTION VIA STATE:
// The state is a short-lived signed token, so a forged callback fails even
// without the cookie. It is also pinned to this browser with an HttpOnly
// cookie, and the callback requires both to agree.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := h.states.Issue()
	if err != nil {
		h.logger.Error("auth login: issuing state failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   int(auth.StateLifetime.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.provider.AuthURL(state), http.StatusFound)
}

// HandleCallback completes the OAuth login.
//
// HTTP: GET /api/auth/callback?code=xxx&state=yyy
//
// Every failure ends on the frontend's login page with ?error=<message>;
// success ends on the frontend root with ?session=<id>.
func (h *AuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// single use
	http.SetCookie(w, &http.Cookie{Name: stateCookieName, Value: "", Path: "/", MaxAge: -1})

	if errParam := q.Get("error"); errParam != "" {
		h.logger.Info("auth callback: authorization denied", slog.String("error", errParam))
		h.redirectLoginError(w, r, errParam)
		return
	}

	state := q.Get("state")
	cookie, err := r.Cookie(stateCookieName)
	if err != nil || cookie.Value == "" || cookie.Value != state {
		h.logger.Warn("auth callback: state cookie missing or mismatched")
		h.redirectLoginError(w, r, "Invalid OAuth state")
		return
	}
	if err := h.states.Verify(state); err != nil {
		h.logger.Warn("auth callback: state rejected", slog.String("error", err.Error()))
		h.redirectLoginError(w, r, "Invalid OAuth state")
		return
	}

	code := q.Get("code")
	if code == "" {
		h.redirectLoginError(w, r, "Missing authorization code")
		return
	}

	result, err := h.accounts.Login(r.Context(), code)
	if errors.Is(err, service.ErrAccountRestricted) {
		h.redirectLoginError(w, r, service.RestrictedMessage)
		return
	}
	if err != nil {
		h.logger.Error("auth callback: login failed", slog.String("error", err.Error()))
		h.redirectLoginError(w, r, "Authentication failed")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    result.SessionID,
		Path:     "/",
		MaxAge:   int(h.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	target := h.frontendURL + "/?" + url.Values{"session": {result.SessionID}}.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *AuthHandler) redirectLoginError(w http.ResponseWriter, r *http.Request, msg string) {
	target := h.frontendURL + "/login?" + url.Values{"error": {msg}}.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}

// HandleLogout deletes the caller's session, if any. It always succeeds from
// the client's point of view.
//
// HTTP: POST /api/auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if id := session.ExtractID(r); id != "" {
		if err := h.accounts.Logout(r.Context(), id); err != nil {
			h.logger.Warn("logout: session not deleted", slog.String("error", err.Error()))
		}
	}
	clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// HandleDeleteAccount removes the caller with all their stats.
//
// HTTP: DELETE /api/auth/delete-account
// Auth: session
func (h *AuthHandler) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Not authenticated"})
		return
	}

	if err := h.accounts.DeleteAccount(r.Context(), user, auth.SessionIDFromContext(r.Context())); err != nil {
		h.logger.Error("delete account failed", slog.Int64("userID", user.ID), slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Account deleted"})
}

// HandleMe returns the caller's public profile.
//
// HTTP: GET /api/auth/me
// Auth: session
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Not authenticated"})
		return
	}
	writeJSON(w, http.StatusOK, user.Profile())
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
