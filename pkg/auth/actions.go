package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cyfrying/foodtruck/pkg/db"
	"github.com/cyfrying/foodtruck/pkg/dispatcher"
)

const actionsLogPrefix = "auth:actions"

// User-visible failure messages.
const (
	MsgMissingCredentials = "Missing username or password"
	MsgInvalidCredentials = "Invalid credentials"
	MsgAuthRequired       = "Authentication required"
	MsgAdminRequired      = "Admin access required"
)

// UserStore is the subset of the repository used for sign-in.
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*db.User, error)
	TouchLastLogin(ctx context.Context, id string) error
}

// Actions implements login, logout and currentUser.
type Actions struct {
	users UserStore
}

// NewActions creates the auth actions over users.
func NewActions(users UserStore) *Actions {
	return &Actions{users: users}
}

// Register binds the auth actions on reg.
func (a *Actions) Register(reg *dispatcher.Registry) {
	reg.Register("login", a.Login)
	reg.Register("logout", a.Logout)
	reg.Register("currentUser", a.CurrentUser)
}

// Login checks username and password against an active user and signs the session in.
func (a *Actions) Login(ctx context.Context, p dispatcher.Payload) (dispatcher.Result, error) {
	username := strings.TrimSpace(p.String("username"))
	password := p.String("password")
	if username == "" || password == "" {
		return dispatcher.Fail(MsgMissingCredentials), nil
	}

	u, err := a.users.GetUserByUsername(ctx, username)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%s - lookup user: %w", actionsLogPrefix, err)
	}
	if u == nil || !u.IsActive {
		CheckPassword(string(dummyHash), password)
		slog.Warn(fmt.Sprintf("%s - failed login", actionsLogPrefix), "username", username)
		return dispatcher.Fail(MsgInvalidCredentials), nil
	}
	if !CheckPassword(u.PasswordHash, password) {
		slog.Warn(fmt.Sprintf("%s - failed login", actionsLogPrefix), "username", username)
		return dispatcher.Fail(MsgInvalidCredentials), nil
	}

	if err := a.users.TouchLastLogin(ctx, u.ID); err != nil {
		slog.Warn(fmt.Sprintf("%s - last_login update failed: %v", actionsLogPrefix, err), "user_id", u.ID)
	}
	su := SessionUser{ID: u.ID, Username: u.Username, Role: u.Role, Name: u.DisplayName()}
	if err := SignIn(ctx, su); err != nil {
		return nil, err
	}
	slog.Info(fmt.Sprintf("%s - user %s signed in", actionsLogPrefix, u.Username), "user_id", u.ID)
	return dispatcher.OK(su), nil
}

// Logout destroys the session.
func (a *Actions) Logout(ctx context.Context, _ dispatcher.Payload) (dispatcher.Result, error) {
	if err := SignOut(ctx); err != nil {
		return nil, err
	}
	return dispatcher.OK(nil), nil
}

// CurrentUser returns the signed-in user, or data null when signed out.
func (a *Actions) CurrentUser(ctx context.Context, _ dispatcher.Payload) (dispatcher.Result, error) {
	s := FromContext(ctx)
	if !s.Authenticated() {
		return dispatcher.Value(nil), nil
	}
	return dispatcher.Value(SessionUser{ID: s.UserID, Username: s.Username, Role: s.Role, Name: s.Name}), nil
}

// RequireAuth wraps h so it only runs for signed-in sessions.
func RequireAuth(h dispatcher.Handler) dispatcher.Handler {
	return func(ctx context.Context, p dispatcher.Payload) (dispatcher.Result, error) {
		if !FromContext(ctx).Authenticated() {
			return dispatcher.Fail(MsgAuthRequired), nil
		}
		return h(ctx, p)
	}
}

// RequireAdmin wraps h so it only runs for admin sessions.
func RequireAdmin(h dispatcher.Handler) dispatcher.Handler {
	return func(ctx context.Context, p dispatcher.Payload) (dispatcher.Result, error) {
		s := FromContext(ctx)
		if !s.Authenticated() {
			return dispatcher.Fail(MsgAuthRequired), nil
		}
		if !s.IsAdmin() {
			return dispatcher.Fail(MsgAdminRequired), nil
		}
		return h(ctx, p)
	}
}
