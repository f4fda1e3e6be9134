// Package db is the Postgres store: pool setup, migrations and the repository
// for users, menu items, orders and app settings.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const logPrefix = "db:pool"

// ApplicationName is reported to Postgres so cyfrying sessions show up in pg_stat_activity.
const ApplicationName = "cyfrying"

// NewPool opens a pgx pool for databaseURL and pings it. Pool limits given in
// the URL (pool_max_conns and friends) override the defaults below.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to parse database URL: %w", logPrefix, err)
	}
	if !strings.Contains(databaseURL, "pool_max_conns") {
		cfg.MaxConns = 10
	}
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create pool: %w", logPrefix, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - failed to ping database at %s: %w", logPrefix, cfg.ConnConfig.Host, err)
	}

	slog.Info(fmt.Sprintf("%s - Connected to %s/%s (max %d conns)", logPrefix,
		cfg.ConnConfig.Host, cfg.ConnConfig.Database, cfg.MaxConns))
	return pool, nil
}

// RunMigrations applies SQL migration files in order. Every file must be
// idempotent: the whole set runs on each invocation.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrationFiles []string) error {
	slog.Info(fmt.Sprintf("%s - Running %d migrations", logPrefix, len(migrationFiles)))

	for _, sql := range migrationFiles {
		if _, err := pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("%s - migration failed: %w", logPrefix, err)
		}
	}

	slog.Info(fmt.Sprintf("%s - Migrations complete", logPrefix))
	return nil
}

// SchemaTables are the tables created by the migrations.
var SchemaTables = []string{"users", "menu_items", "orders", "app_settings"}

// MissingTables returns the schema tables that do not exist yet.
func MissingTables(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	rows, err := pool.Query(ctx,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = 'public' AND table_name = ANY($1)`, SchemaTables)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to check schema: %w", logPrefix, err)
	}
	defer rows.Close()

	present := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%s - failed to scan table name: %w", logPrefix, err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - failed to list tables: %w", logPrefix, err)
	}

	var missing []string
	for _, t := range SchemaTables {
		if !present[t] {
			missing = append(missing, t)
		}
	}
	return missing, nil
}

// MigrationStatus prints whether every schema table exists.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool, migrationPath string) error {
	const statusLogPrefix = "db:MigrationStatus"

	missing, err := MissingTables(ctx, pool)
	if err != nil {
		return fmt.Errorf("%s - %w", statusLogPrefix, err)
	}

	files, err := LoadMigrations(migrationPath)
	if err != nil {
		return fmt.Errorf("%s - load migration list: %w", statusLogPrefix, err)
	}

	if len(missing) == 0 {
		fmt.Printf("Migration status: applied (%d tables present, %d migration files in %s)\n", len(SchemaTables), len(files), migrationSource(migrationPath))
	} else {
		fmt.Printf("Migration status: not applied, missing %v (run 'cyfrying migrate up'). %d migration files in %s\n", missing, len(files), migrationSource(migrationPath))
	}
	return nil
}

func migrationSource(dir string) string {
	if dir == "" {
		return "embedded set"
	}
	return dir
}

// MigrationDown is a no-op: migrations are forward-only.
func MigrationDown(ctx context.Context, pool *pgxpool.Pool, _ string) error {
	fmt.Println("Migration down: not supported (migrations are forward-only). Use a database backup to roll back.")
	return nil
}
