// Package auth handles everything identity: the WakaTime OAuth provider, the
// signed OAuth state, credential sealing, and the session middleware that
// turns a request into a live user.
//
// LOGIN FLOW OVERVIEW:
//  1. GET /api/auth/login issues a signed state and redirects to WakaTime
//  2. WakaTime calls back /api/auth/callback with a code and the state
//  3. The state is verified, the code is exchanged for credentials, and the
//     user is upserted
//  4. A server-side session is created in Redis and its id handed to the
//     frontend
//  5. Later requests carry the session id (Bearer header or cookie); the
//     middleware resolves it to the stored user
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"
)

const (
	stateIssuer   = "coding-leaderboard"
	stateAudience = "wakatime-oauth-state"

	// StateLifetime bounds how long a user may take on the WakaTime consent
	// page before the callback is rejected.
	StateLifetime = 10 * time.Minute
)

// ErrInvalidState is returned for a state that is malformed, forged or expired.
var ErrInvalidState = errors.New("auth: invalid OAuth state")

// StateSigner issues and verifies the OAuth "state" parameter.
//
// WHY A SIGNED STATE?
// The state carries a random nonce (an xid) inside a short-lived HS256 JWT.
// The signature proves the login was started by this server, and the
// expiry caps replay to StateLifetime. The handler also pins the state to
// the browser with a cookie, so a state minted for one browser cannot finish
// a login in another.
type StateSigner struct {
	secret []byte
	now    func() time.Time
}

// NewStateSigner creates a StateSigner with the given HMAC secret.
func NewStateSigner(secret string) (*StateSigner, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: session secret must be at least 16 characters")
	}
	return &StateSigner{secret: []byte(secret), now: time.Now}, nil
}

// Issue returns a new signed state.
func (s *StateSigner) Issue() (string, error) {
	now := s.now()
	c := jwt.RegisteredClaims{
		ID:        xid.New().String(),
		Issuer:    stateIssuer,
		Audience:  jwt.ClaimStrings{stateAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(StateLifetime)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing state: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer, audience and expiry of a state.
//
// ALGORITHM CONFUSION ATTACK:
// jwt.WithValidMethods pins HS256 so a token claiming "none" (or an
// asymmetric algorithm keyed with our secret) is rejected.
func (s *StateSigner) Verify(state string) error {
	if state == "" {
		return ErrInvalidState
	}
	token, err := jwt.ParseWithClaims(
		state,
		&jwt.RegisteredClaims{},
		func(token *jwt.Token) (any, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithAudience(stateAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return fmt.Errorf("%w: expired", ErrInvalidState)
		}
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	c, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid || c.ID == "" {
		return ErrInvalidState
	}
	return nil
}
