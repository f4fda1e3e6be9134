// Package orders captures customer orders and serves the admin order actions.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cyfrying/foodtruck/pkg/auth"
	"github.com/cyfrying/foodtruck/pkg/db"
	"github.com/cyfrying/foodtruck/pkg/dispatcher"
	"github.com/cyfrying/foodtruck/pkg/events"
)

const logPrefix = "orders:service"

// User-visible failure messages.
const (
	MsgNoItems         = "Order must contain at least one item"
	MsgInvalidItems    = "Invalid order items"
	MsgInvalidQuantity = "Invalid quantity"
	MsgInvalidStatus   = "Invalid status"
	MsgNotFound        = "Order not found"
	MsgDuplicate       = "Order already exists"
	MsgTotalTooLarge   = "Order total too large"
)

// MaxQuantity caps the quantity of a single order line.
const MaxQuantity = 99

// Store is the subset of the repository orders need.
type Store interface {
	GetMenuItemsByIDs(ctx context.Context, ids []string) (map[string]db.MenuItem, error)
	CreateOrder(ctx context.Context, o db.Order) (*db.Order, error)
	ListOrders(ctx context.Context, filter db.OrderFilter) ([]db.Order, error)
	UpdateOrderStatus(ctx context.Context, id, status string) (*db.Order, error)
}

// Service serves the order actions.
type Service struct {
	store     Store
	publisher events.EventPublisher
	now       func() time.Time
}

// NewService creates a Service. A nil publisher disables events.
func NewService(store Store, publisher events.EventPublisher) *Service {
	if publisher == nil {
		publisher = &events.NoOpPublisher{}
	}
	return &Service{store: store, publisher: publisher, now: time.Now}
}

// Register binds the order actions on reg.
func (s *Service) Register(reg *dispatcher.Registry) {
	reg.Register("saveOrder", s.SaveOrder)
	reg.Register("createOrder", auth.RequireAuth(s.SaveOrder))
	reg.Register("getOrders", auth.RequireAdmin(s.GetOrders))
	reg.Register("updateOrderStatus", auth.RequireAdmin(s.UpdateOrderStatus))
}

// Receipt is returned to the customer after an order is stored.
type Receipt struct {
	OrderID string  `json:"order_id"`
	Total   float64 `json:"total"`
	Status  string  `json:"status"`
}

type lineRequest struct {
	ID       string
	Quantity int
}

// SaveOrder prices the requested items from the menu and stores the order.
// Client-supplied prices and totals are ignored.
func (s *Service) SaveOrder(ctx context.Context, p dispatcher.Payload) (dispatcher.Result, error) {
	if field := p.Missing("customer_name", "customer_phone", "order_items"); field != "" {
		return dispatcher.Fail("Missing required field: " + field), nil
	}
	if field := oversized(p); field != "" {
		return dispatcher.Fail("Invalid field: " + field), nil
	}
	lines, msg := parseLines(p["order_items"])
	if msg != "" {
		return dispatcher.Fail(msg), nil
	}

	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ID)
	}
	menu, err := s.store.GetMenuItemsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%s - load menu items: %w", logPrefix, err)
	}

	items := make([]db.OrderItem, 0, len(lines))
	var cents int64
	for _, l := range lines {
		m, ok := menu[l.ID]
		if !ok || !m.IsAvailable {
			return dispatcher.Fail("Unknown menu item: " + l.ID), nil
		}
		items = append(items, db.OrderItem{ID: m.ID, Name: m.Name, Price: m.Price, Quantity: l.Quantity})
		cents += int64(math.Round(m.Price*100)) * int64(l.Quantity)
	}
	if float64(cents)/100 > db.MaxAmount {
		return dispatcher.Fail(MsgTotalTooLarge), nil
	}

	id := strings.TrimSpace(p.String("id"))
	if id == "" {
		id = "order_" + uuid.NewString()
	}
	order := db.Order{
		ID:                  id,
		CustomerName:        strings.TrimSpace(p.String("customer_name")),
		CustomerPhone:       strings.TrimSpace(p.String("customer_phone")),
		CustomerEmail:       strings.TrimSpace(p.String("customer_email")),
		SpecialInstructions: p.String("special_instructions"),
		Total:               float64(cents) / 100,
		Status:              db.StatusPending,
		Items:               items,
	}
	sess := auth.FromContext(ctx)
	if sess.Authenticated() {
		uid := sess.UserID
		order.UserID = &uid
	}

	saved, err := s.store.CreateOrder(ctx, order)
	if errors.Is(err, db.ErrConflict) {
		return dispatcher.Fail(MsgDuplicate), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s - create order: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - order %s placed", logPrefix, saved.ID), "total", saved.Total, "items", len(items))
	ev := &events.OrderCreatedEvent{
		OrderID:   saved.ID,
		Total:     saved.Total,
		ItemCount: len(items),
		UserID:    sess.UserID,
		Timestamp: s.now().UTC(),
	}
	if err := s.publisher.PublishOrderCreated(ctx, ev); err != nil {
		slog.Warn(fmt.Sprintf("%s - publish order.created failed: %v", logPrefix, err), "order_id", saved.ID)
	}
	return dispatcher.OK(Receipt{OrderID: saved.ID, Total: saved.Total, Status: saved.Status}), nil
}

// oversized returns the first customer field that would not fit its column.
func oversized(p dispatcher.Payload) string {
	limits := []struct {
		field string
		max   int
	}{
		{"id", db.MaxIDLen},
		{"customer_name", db.MaxNameLen},
		{"customer_phone", db.MaxPhoneLen},
		{"customer_email", db.MaxEmailLen},
	}
	for _, l := range limits {
		if !db.FitsColumn(strings.TrimSpace(p.String(l.field)), l.max) {
			return l.field
		}
	}
	return ""
}

// parseLines reads [{id, quantity?}, ...]. Repeated ids are merged.
func parseLines(raw any) ([]lineRequest, string) {
	list, ok := raw.([]any)
	if !ok {
		return nil, MsgInvalidItems
	}
	if len(list) == 0 {
		return nil, MsgNoItems
	}
	var out []lineRequest
	index := map[string]int{}
	for _, entry := range list {
		obj, ok := entry.(map[string]any)
		if !ok {
			return nil, MsgInvalidItems
		}
		line := dispatcher.Payload(obj)
		id := strings.TrimSpace(line.String("id"))
		if id == "" {
			return nil, MsgInvalidItems
		}
		qty := 1
		if line.Has("quantity") {
			q, ok := line.Int("quantity")
			if !ok || q < 1 || q > MaxQuantity {
				return nil, MsgInvalidQuantity
			}
			qty = q
		}
		if i, seen := index[id]; seen {
			out[i].Quantity += qty
			if out[i].Quantity > MaxQuantity {
				return nil, MsgInvalidQuantity
			}
			continue
		}
		index[id] = len(out)
		out = append(out, lineRequest{ID: id, Quantity: qty})
	}
	return out, ""
}

// GetOrders lists orders newest first, optionally filtered by status.
func (s *Service) GetOrders(ctx context.Context, p dispatcher.Payload) (dispatcher.Result, error) {
	status := strings.TrimSpace(p.String("status"))
	if status != "" && !db.ValidOrderStatus(status) {
		return dispatcher.Fail(MsgInvalidStatus), nil
	}
	limit, _ := p.Int("limit")
	orders, err := s.store.ListOrders(ctx, db.OrderFilter{Status: status, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("%s - list orders: %w", logPrefix, err)
	}
	if orders == nil {
		orders = []db.Order{}
	}
	return dispatcher.OK(orders).WithMeta("count", len(orders)), nil
}

// UpdateOrderStatus moves an order to one of the known statuses.
func (s *Service) UpdateOrderStatus(ctx context.Context, p dispatcher.Payload) (dispatcher.Result, error) {
	if field := p.Missing("id", "status"); field != "" {
		return dispatcher.Fail("Missing required field: " + field), nil
	}
	status := strings.TrimSpace(p.String("status"))
	if !db.ValidOrderStatus(status) {
		return dispatcher.Fail(MsgInvalidStatus), nil
	}
	id := strings.TrimSpace(p.String("id"))
	order, err := s.store.UpdateOrderStatus(ctx, id, status)
	if errors.Is(err, db.ErrNotFound) {
		return dispatcher.Fail(MsgNotFound), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s - update order %s: %w", logPrefix, id, err)
	}
	slog.Info(fmt.Sprintf("%s - order %s is now %s", logPrefix, id, status))
	return dispatcher.OK(order), nil
}
