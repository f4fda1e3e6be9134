package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearData truncates orders and menu items and resets app settings.
// Users are kept so the admin account survives.
func ClearData(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info(fmt.Sprintf("%s - Clearing orders, menu items and settings", clearLogPrefix))

	_, err := pool.Exec(ctx, `TRUNCATE TABLE orders, menu_items RESTART IDENTITY CASCADE`)
	if err != nil {
		return fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
	}
	_, err = pool.Exec(ctx,
		`UPDATE app_settings SET value = CASE key WHEN 'kill_switch' THEN '0' ELSE '' END, updated_at = now()`)
	if err != nil {
		return fmt.Errorf("%s - reset settings failed: %w", clearLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Data cleared", clearLogPrefix))
	return nil
}
