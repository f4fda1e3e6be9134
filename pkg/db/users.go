package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const userColumns = `id, username, email, password_hash, role, first_name, last_name, phone,
	created_at, updated_at, last_login, is_active`

// GetUserByUsername returns the user with the given username, or ErrNotFound.
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	logQuery("GetUserByUsername", "username", username)
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1 LIMIT 1`, username)
	return scanUser(row)
}

// GetUserByID returns the user with the given id, or ErrNotFound.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 LIMIT 1`, id)
	return scanUser(row)
}

// TouchLastLogin records a successful sign-in.
func (r *Repository) TouchLastLogin(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET last_login = now(), updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s - TouchLastLogin failed: %w", repoLogPrefix, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// EnsureAdminParams holds parameters for EnsureAdmin.
type EnsureAdminParams struct {
	ID           string
	Username     string
	PasswordHash string
}

// EnsureAdmin creates an active admin user unless the username is taken.
// It reports whether a row was inserted.
func (r *Repository) EnsureAdmin(ctx context.Context, params EnsureAdminParams) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, username, password_hash, role, first_name, last_name, is_active)
		 VALUES ($1, $2, $3, 'admin', 'System', 'Admin', TRUE)
		 ON CONFLICT (username) DO NOTHING`,
		params.ID, params.Username, params.PasswordHash)
	if err != nil {
		return false, fmt.Errorf("%s - EnsureAdmin failed: %w", repoLogPrefix, err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.FirstName, &u.LastName, &u.Phone,
		&u.CreatedAt, &u.UpdatedAt, &u.LastLogin, &u.IsActive,
	)
	if err != nil {
		return nil, notFound("scan user", err)
	}
	return &u, nil
}
