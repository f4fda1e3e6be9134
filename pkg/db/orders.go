package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const orderColumns = `id, user_id, customer_name, customer_phone, customer_email, special_instructions,
	total, status, order_items, created_at, updated_at`

// CreateOrder inserts o. Status defaults to pending.
func (r *Repository) CreateOrder(ctx context.Context, o Order) (*Order, error) {
	logQuery("CreateOrder", "id", o.ID, "items", len(o.Items))
	if o.Status == "" {
		o.Status = StatusPending
	}
	items, err := json.Marshal(o.Items)
	if err != nil {
		return nil, fmt.Errorf("%s - encode order items: %w", repoLogPrefix, err)
	}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO orders (id, user_id, customer_name, customer_phone, customer_email,
		                     special_instructions, total, status, order_items)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING `+orderColumns,
		o.ID, o.UserID, o.CustomerName, o.CustomerPhone, o.CustomerEmail,
		o.SpecialInstructions, o.Total, o.Status, items)
	created, err := scanOrder(row)
	if err != nil && isUniqueViolation(err) {
		return nil, ErrConflict
	}
	return created, err
}

// ListOrders lists orders newest first.
func (r *Repository) ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, filter.Status)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s - ListOrders failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	orders := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - iterate orders failed: %w", repoLogPrefix, err)
	}
	return orders, nil
}

// UpdateOrderStatus sets the status of an order, or returns ErrNotFound.
func (r *Repository) UpdateOrderStatus(ctx context.Context, id, status string) (*Order, error) {
	logQuery("UpdateOrderStatus", "id", id, "status", status)
	row := r.pool.QueryRow(ctx,
		`UPDATE orders SET status = $1, updated_at = now() WHERE id = $2 RETURNING `+orderColumns,
		status, id)
	return scanOrder(row)
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o     Order
		items []byte
	)
	err := row.Scan(&o.ID, &o.UserID, &o.CustomerName, &o.CustomerPhone, &o.CustomerEmail,
		&o.SpecialInstructions, &o.Total, &o.Status, &items, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, err
		}
		return nil, notFound("scan order", err)
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("%s - decode order items for %s: %w", repoLogPrefix, o.ID, err)
	}
	return &o, nil
}
