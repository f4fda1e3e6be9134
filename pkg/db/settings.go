package db

import (
	"context"
	"fmt"
)

// GetSettings returns the values stored for keys. Keys without a row are absent.
func (r *Repository) GetSettings(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT key, value FROM app_settings WHERE key = ANY($1)`, keys)
	if err != nil {
		return nil, fmt.Errorf("%s - GetSettings failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("%s - scan setting failed: %w", repoLogPrefix, err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - iterate settings failed: %w", repoLogPrefix, err)
	}
	return out, nil
}

// SetSettings upserts every key in values in one transaction.
func (r *Repository) SetSettings(ctx context.Context, values map[string]string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s - SetSettings begin: %w", repoLogPrefix, err)
	}
	defer tx.Rollback(ctx)

	for k, v := range values {
		_, err := tx.Exec(ctx,
			`INSERT INTO app_settings (key, value, updated_at) VALUES ($1, $2, now())
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, k, v)
		if err != nil {
			return fmt.Errorf("%s - SetSettings %s: %w", repoLogPrefix, k, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s - SetSettings commit: %w", repoLogPrefix, err)
	}
	return nil
}
