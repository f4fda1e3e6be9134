package db

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
)

const ensureLogPrefix = "db:ensure"

var safeDBName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// EnsureDatabase creates the database named in databaseURL when it is
// missing. It runs CREATE DATABASE from the "postgres" maintenance database
// on the same server, so the role needs CREATEDB.
func EnsureDatabase(ctx context.Context, databaseURL string) error {
	maintenance, name, err := splitDatabaseURL(databaseURL)
	if err != nil {
		return err
	}

	conn, err := pgx.Connect(ctx, maintenance)
	if err != nil {
		return fmt.Errorf("%s - connect to maintenance database: %w", ensureLogPrefix, err)
	}
	defer conn.Close(ctx)

	var exists bool
	if err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, name).Scan(&exists); err != nil {
		return fmt.Errorf("%s - look up %q: %w", ensureLogPrefix, name, err)
	}
	if exists {
		slog.Info(fmt.Sprintf("%s - Database %q already exists", ensureLogPrefix, name))
		return nil
	}

	// CREATE DATABASE takes no bind parameters; name is checked by safeDBName.
	if _, err := conn.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize()); err != nil {
		return fmt.Errorf("%s - create %q: %w", ensureLogPrefix, name, err)
	}
	slog.Info(fmt.Sprintf("%s - Created database %q", ensureLogPrefix, name))
	return nil
}

// splitDatabaseURL returns the URL of the server's maintenance database and
// the target database name.
func splitDatabaseURL(raw string) (maintenance, name string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("%s - invalid database URL: %w", ensureLogPrefix, err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", "", fmt.Errorf("%s - database URL must use postgres://, got %q", ensureLogPrefix, u.Scheme)
	}
	name = strings.TrimSpace(strings.TrimPrefix(u.Path, "/"))
	if name == "" {
		return "", "", fmt.Errorf("%s - database URL has no database name", ensureLogPrefix)
	}
	if !safeDBName.MatchString(name) {
		return "", "", fmt.Errorf("%s - database name %q must be letters, digits and underscores", ensureLogPrefix, name)
	}
	m := *u
	m.Path = "/postgres"
	return m.String(), name, nil
}
