package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cyfrying/foodtruck/pkg/db"
	"github.com/google/uuid"
)

// AdminStore creates the bootstrap admin account.
type AdminStore interface {
	EnsureAdmin(ctx context.Context, params db.EnsureAdminParams) (bool, error)
}

// NewUserID returns an id of the form user_<16 hex chars>.
func NewUserID() string {
	return "user_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// EnsureAdmin creates the admin user if username is free. It reports whether
// a user was created.
func EnsureAdmin(ctx context.Context, store AdminStore, username, password string) (bool, error) {
	if username == "" || password == "" {
		return false, fmt.Errorf("auth:admin - admin username and password are required")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return false, err
	}
	created, err := store.EnsureAdmin(ctx, db.EnsureAdminParams{ID: NewUserID(), Username: username, PasswordHash: hash})
	if err != nil {
		return false, err
	}
	if created {
		slog.Info(fmt.Sprintf("auth:admin - created admin user %s", username))
	}
	return created, nil
}
