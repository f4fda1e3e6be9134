package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

const menuItemColumns = `id, name, description, price, category, tags, is_available, created_at, updated_at`

// ListMenuItems lists menu items ordered by category then name.
func (r *Repository) ListMenuItems(ctx context.Context, filter MenuFilter) ([]MenuItem, error) {
	logQuery("ListMenuItems", "category", filter.Category, "all", filter.IncludeUnavailable)

	query := `SELECT ` + menuItemColumns + ` FROM menu_items WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if !filter.IncludeUnavailable {
		query += ` AND is_available = TRUE`
	}
	if filter.Category != "" {
		query += fmt.Sprintf(` AND category = $%d`, argIdx)
		args = append(args, filter.Category)
		argIdx++
	}
	query += ` ORDER BY category, name`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s - ListMenuItems failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()
	return scanMenuItems(rows)
}

// GetMenuItem returns one menu item by id, or ErrNotFound.
func (r *Repository) GetMenuItem(ctx context.Context, id string) (*MenuItem, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+menuItemColumns+` FROM menu_items WHERE id = $1`, id)
	return scanMenuItem(row)
}

// GetMenuItemsByIDs returns the items found for ids, keyed by id. Missing ids are absent.
func (r *Repository) GetMenuItemsByIDs(ctx context.Context, ids []string) (map[string]MenuItem, error) {
	out := make(map[string]MenuItem, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+menuItemColumns+` FROM menu_items WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("%s - GetMenuItemsByIDs failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	items, err := scanMenuItems(rows)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		out[it.ID] = it
	}
	return out, nil
}

// CreateMenuItem inserts item. A duplicate id yields ErrConflict.
func (r *Repository) CreateMenuItem(ctx context.Context, item MenuItem) (*MenuItem, error) {
	logQuery("CreateMenuItem", "id", item.ID)
	row := r.pool.QueryRow(ctx,
		`INSERT INTO menu_items (id, name, description, price, category, tags, is_available)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+menuItemColumns,
		item.ID, item.Name, item.Description, item.Price, item.Category, item.Tags, item.IsAvailable)
	created, err := scanMenuItem(row)
	if err != nil && isUniqueViolation(err) {
		return nil, ErrConflict
	}
	return created, err
}

// UpsertMenuItem inserts item or overwrites the row with the same id.
func (r *Repository) UpsertMenuItem(ctx context.Context, item MenuItem) (*MenuItem, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO menu_items (id, name, description, price, category, tags, is_available)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name,
		   description = EXCLUDED.description,
		   price = EXCLUDED.price,
		   category = EXCLUDED.category,
		   tags = EXCLUDED.tags,
		   is_available = EXCLUDED.is_available,
		   updated_at = now()
		 RETURNING `+menuItemColumns,
		item.ID, item.Name, item.Description, item.Price, item.Category, item.Tags, item.IsAvailable)
	return scanMenuItem(row)
}

// UpdateMenuItem applies patch to the item with the given id.
func (r *Repository) UpdateMenuItem(ctx context.Context, id string, patch MenuItemPatch) (*MenuItem, error) {
	logQuery("UpdateMenuItem", "id", id)
	if patch.Empty() {
		return r.GetMenuItem(ctx, id)
	}

	var sets []string
	args := []interface{}{}
	add := func(col string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Price != nil {
		add("price", *patch.Price)
	}
	if patch.Category != nil {
		add("category", *patch.Category)
	}
	if patch.Tags != nil {
		add("tags", *patch.Tags)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.IsAvailable != nil {
		add("is_available", *patch.IsAvailable)
	}
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE menu_items SET %s, updated_at = now() WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), menuItemColumns)
	return scanMenuItem(r.pool.QueryRow(ctx, query, args...))
}

// DeleteMenuItem removes the item with the given id, or returns ErrNotFound.
func (r *Repository) DeleteMenuItem(ctx context.Context, id string) error {
	logQuery("DeleteMenuItem", "id", id)
	tag, err := r.pool.Exec(ctx, `DELETE FROM menu_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s - DeleteMenuItem failed: %w", repoLogPrefix, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanMenuItem(row pgx.Row) (*MenuItem, error) {
	var m MenuItem
	err := row.Scan(&m.ID, &m.Name, &m.Description, &m.Price, &m.Category, &m.Tags,
		&m.IsAvailable, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, err
		}
		return nil, notFound("scan menu item", err)
	}
	return &m, nil
}

func scanMenuItems(rows pgx.Rows) ([]MenuItem, error) {
	items := []MenuItem{}
	for rows.Next() {
		var m MenuItem
		if err := rows.Scan(&m.ID, &m.Name, &m.Description, &m.Price, &m.Category, &m.Tags,
			&m.IsAvailable, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%s - scan menu items failed: %w", repoLogPrefix, err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - iterate menu items failed: %w", repoLogPrefix, err)
	}
	return items, nil
}
