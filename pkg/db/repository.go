package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoLogPrefix = "db:repository"

// ErrNotFound is returned when a row addressed by key does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert collides with an existing key.
var ErrConflict = errors.New("already exists")

// Repository provides database access for users, menu items, orders and settings.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Ping checks connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Probe runs a round trip and returns the server version and time.
func (r *Repository) Probe(ctx context.Context) (*ProbeResult, error) {
	var p ProbeResult
	if err := r.pool.QueryRow(ctx, `SELECT version(), now()`).Scan(&p.Version, &p.Now); err != nil {
		return nil, fmt.Errorf("%s - probe failed: %w", repoLogPrefix, err)
	}
	return &p, nil
}

// Stats returns row counts for the main tables.
func (r *Repository) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	err := r.pool.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM users),
		        (SELECT COUNT(*) FROM menu_items),
		        (SELECT COUNT(*) FROM orders)`).Scan(&s.Users, &s.MenuItems, &s.Orders)
	if err != nil {
		return nil, fmt.Errorf("%s - stats failed: %w", repoLogPrefix, err)
	}
	return &s, nil
}

// notFound maps pgx.ErrNoRows to ErrNotFound and wraps anything else.
func notFound(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s - %s failed: %w", repoLogPrefix, op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func logQuery(op string, args ...any) {
	slog.Debug(fmt.Sprintf("%s - %s", repoLogPrefix, op), args...)
}
