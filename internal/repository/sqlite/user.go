package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/coding-leaderboard/internal/apperror"
	"github.com/sakif/coding-leaderboard/internal/model"
	"github.com/sakif/coding-leaderboard/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, external_id, username, display_name, email, access_token,
	refresh_token, token_expires_at, photo_url, is_admin, is_banned, created_at, updated_at`

// Upsert inserts or updates a user keyed by their WakaTime ID.
//
// INSERT ... ON CONFLICT DO UPDATE:
// Unlike INSERT OR REPLACE, the conflicting row is updated in place, so the
// surrogate id is kept, along with every daily_stats/fetch_log row pointing at it.
// is_admin and is_banned are not in the SET list: a login must never clear a
// ban or an admin grant.
//
// A username already held by a different WakaTime account is reported as
// apperror.ErrConflict.
//
// After the write we read the row back so the caller gets the canonical
// record (id, flags, created_at).
func (db *DB) Upsert(ctx context.Context, user *model.User) error {
	access, refresh, err := db.sealCredentials(user.AccessToken, user.RefreshToken)
	if err != nil {
		return fmt.Errorf("sqlite: upserting user %s: %w", user.ExternalID, err)
	}

	now := time.Now().UTC()
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO users (external_id, username, display_name, email, access_token,
			refresh_token, token_expires_at, photo_url, is_admin, is_banned, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(external_id) DO UPDATE SET
			username = excluded.username,
			display_name = excluded.display_name,
			email = excluded.email,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_expires_at = excluded.token_expires_at,
			photo_url = excluded.photo_url,
			updated_at = excluded.updated_at`,
		user.ExternalID,
		user.Username,
		user.DisplayName,
		user.Email,
		access,
		refresh,
		user.TokenExpiresAt,
		user.PhotoURL,
		user.IsAdmin,
		user.IsBanned,
		now,
		now,
	)
	if isUniqueViolation(err) {
		// external_id is handled by ON CONFLICT, so only username can clash here.
		return fmt.Errorf("sqlite: upserting user %s: %w", user.ExternalID, apperror.Conflict("username", user.Username))
	}
	if err != nil {
		return fmt.Errorf("sqlite: upserting user %s: %w", user.ExternalID, err)
	}

	stored, err := db.GetUserByExternalID(ctx, user.ExternalID)
	if err != nil {
		return err
	}
	*user = *stored
	return nil
}

// GetUserByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	err := db.conn.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %d: %w", id, err)
	}
	if err := db.openCredentials(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByExternalID retrieves a user by their WakaTime ID.
func (db *DB) GetUserByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	var u model.User
	err := db.conn.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE external_id = ?`, externalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", externalID)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", externalID, err)
	}
	if err := db.openCredentials(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers returns all users ordered by id, the order batch syncs
// enumerate them in.
func (db *DB) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := db.conn.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users ORDER BY id`); err != nil {
		return nil, fmt.Errorf("sqlite: listing users: %w", err)
	}
	for i := range users {
		if err := db.openCredentials(&users[i]); err != nil {
			return nil, err
		}
	}
	return users, nil
}

// DeleteUser removes a user. Their daily stats and fetch log go with them
// through ON DELETE CASCADE.
func (db *DB) DeleteUser(ctx context.Context, id int64) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting user %d: %w", id, err)
	}
	return requireAffected(result, "user", id)
}

// SetBanned sets or clears the banned flag.
func (db *DB) SetBanned(ctx context.Context, id int64, banned bool) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET is_banned = ?, updated_at = ? WHERE id = ?`,
		banned, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating banned flag of user %d: %w", id, err)
	}
	return requireAffected(result, "user", id)
}

// SetAdmin grants or revokes the admin role.
func (db *DB) SetAdmin(ctx context.Context, id int64, admin bool) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET is_admin = ?, updated_at = ? WHERE id = ?`,
		admin, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating admin flag of user %d: %w", id, err)
	}
	return requireAffected(result, "user", id)
}

// SaveCredentials stores a rotated credential pair for the user with the
// given WakaTime ID.
func (db *DB) SaveCredentials(ctx context.Context, externalID string, creds model.Credentials) error {
	access, refresh, err := db.sealCredentials(creds.AccessToken, creds.RefreshToken)
	if err != nil {
		return fmt.Errorf("sqlite: saving credentials of %s: %w", externalID, err)
	}

	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET access_token = ?, refresh_token = ?, token_expires_at = ?, updated_at = ?
		 WHERE external_id = ?`,
		access, refresh, creds.ExpiresAt, time.Now().UTC(), externalID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: saving credentials of %s: %w", externalID, err)
	}
	return requireAffected(result, "user", externalID)
}

func (db *DB) sealCredentials(access, refresh string) (string, string, error) {
	sealedAccess, err := db.sealer.Seal(access)
	if err != nil {
		return "", "", err
	}
	sealedRefresh, err := db.sealer.Seal(refresh)
	if err != nil {
		return "", "", err
	}
	return sealedAccess, sealedRefresh, nil
}

func (db *DB) openCredentials(u *model.User) error {
	var err error
	if u.AccessToken, err = db.sealer.Open(u.AccessToken); err != nil {
		return fmt.Errorf("sqlite: reading credentials of user %d: %w", u.ID, err)
	}
	if u.RefreshToken, err = db.sealer.Open(u.RefreshToken); err != nil {
		return fmt.Errorf("sqlite: reading credentials of user %d: %w", u.ID, err)
	}
	return nil
}

// requireAffected turns "0 rows affected" into a NotFound error.
func requireAffected(result sql.Result, resource string, id any) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: reading affected rows: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}
