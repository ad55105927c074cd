// Package model defines the data structures used throughout the application.
package model

import "time"

// User represents a leaderboard member.
//
// WakaTime is the identity provider, so the stable external identifier is the
// WakaTime user ID (a UUID-like string). We still keep our own surrogate
// integer ID: it orders users by first login and keeps foreign keys small.
//
// WHY EMPTY STRINGS INSTEAD OF *string?
// DisplayName, Email and PhotoURL are optional upstream. An empty string is
// the "absent" value and is safe to display.
// TokenExpiresAt is the exception: "no expiry recorded" and "expired" must be
// distinguishable, so it is a nullable pointer.
type User struct {
	ID             int64      `json:"id"           db:"id"`
	ExternalID     string     `json:"wakatime_id"  db:"external_id"`
	Username       string     `json:"username"     db:"username"`
	DisplayName    string     `json:"display_name" db:"display_name"`
	Email          string     `json:"email"        db:"email"`
	AccessToken    string     `json:"-"            db:"access_token"`
	RefreshToken   string     `json:"-"            db:"refresh_token"`
	TokenExpiresAt *time.Time `json:"-"            db:"token_expires_at"`
	PhotoURL       string     `json:"photo_url"    db:"photo_url"`
	IsAdmin        bool       `json:"is_admin"     db:"is_admin"`
	IsBanned       bool       `json:"is_banned"    db:"is_banned"`
	CreatedAt      time.Time  `json:"created_at"   db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"   db:"updated_at"`
}

// Credentials is an OAuth access/refresh pair as issued by WakaTime.
// ExpiresAt is nil when the provider did not report a lifetime.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// PublicProfile is the projection of a User returned by /api/auth/me and the
// dashboard. It never carries credentials or email.
type PublicProfile struct {
	ID          int64  `json:"id"`
	ExternalID  string `json:"wakatime_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url"`
	IsAdmin     bool   `json:"is_admin"`
}

// Profile returns the public projection of u.
func (u *User) Profile() PublicProfile {
	return PublicProfile{
		ID:          u.ID,
		ExternalID:  u.ExternalID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		PhotoURL:    u.PhotoURL,
		IsAdmin:     u.IsAdmin,
	}
}
