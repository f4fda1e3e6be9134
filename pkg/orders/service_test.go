package orders

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyfrying/foodtruck/pkg/auth"
	"github.com/cyfrying/foodtruck/pkg/db"
	"github.com/cyfrying/foodtruck/pkg/dispatcher"
	"github.com/cyfrying/foodtruck/pkg/events"
)

type fakeStore struct {
	mu     sync.Mutex
	menu   map[string]db.MenuItem
	orders map[string]db.Order
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		menu: map[string]db.MenuItem{
			"taco":  {ID: "taco", Name: "Taco", Price: 4.1, Category: db.CategoryMains, IsAvailable: true},
			"fries": {ID: "fries", Name: "Fries", Price: 2.2, Category: db.CategorySides, IsAvailable: true},
			"gone":  {ID: "gone", Name: "Old", Price: 1, Category: db.CategorySides, IsAvailable: false},
		},
		orders: map[string]db.Order{},
	}
}

func (f *fakeStore) GetMenuItemsByIDs(_ context.Context, ids []string) (map[string]db.MenuItem, error) {
	out := map[string]db.MenuItem{}
	for _, id := range ids {
		if m, ok := f.menu[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

func (f *fakeStore) CreateOrder(_ context.Context, o db.Order) (*db.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.orders[o.ID]; ok {
		return nil, db.ErrConflict
	}
	f.orders[o.ID] = o
	return &o, nil
}

func (f *fakeStore) ListOrders(_ context.Context, filter db.OrderFilter) ([]db.Order, error) {
	var out []db.Order
	for _, o := range f.orders {
		if filter.Status == "" || o.Status == filter.Status {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateOrderStatus(_ context.Context, id, status string) (*db.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	o.Status = status
	f.orders[id] = o
	return &o, nil
}

func newTestDispatcher(t *testing.T) (*fakeStore, *[]*events.OrderCreatedEvent, *dispatcher.Dispatcher) {
	t.Helper()
	store := newFakeStore()
	var got []*events.OrderCreatedEvent
	pub := events.NewCallbackPublisher(func(_ context.Context, _ string, ev interface{}) error {
		got = append(got, ev.(*events.OrderCreatedEvent))
		return nil
	})
	svc := NewService(store, pub)
	svc.now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }
	reg := dispatcher.NewRegistry()
	svc.Register(reg)
	return store, &got, dispatcher.NewDispatcher(reg, dispatcher.Options{})
}

func orderPayload(items ...any) dispatcher.Payload {
	return dispatcher.Payload{
		"customer_name":  "Ana",
		"customer_phone": "555-0100",
		"order_items":    items,
		"total":          0.01,
	}
}

func TestSaveOrder_PricesServerSide(t *testing.T) {
	store, got, d := newTestDispatcher(t)

	out := d.Dispatch(context.Background(), "saveOrder", orderPayload(
		map[string]any{"id": "taco", "quantity": float64(3), "price": 0.01},
		map[string]any{"id": "fries"},
		map[string]any{"id": "taco", "quantity": "1"},
	))
	require.True(t, out.Envelope.Success, out.Envelope.Error)
	receipt := out.Envelope.Data.(Receipt)
	assert.Equal(t, 18.6, receipt.Total)
	assert.Equal(t, db.StatusPending, receipt.Status)
	assert.Regexp(t, `^order_[0-9a-f-]{36}$`, receipt.OrderID)

	saved := store.orders[receipt.OrderID]
	require.Len(t, saved.Items, 2)
	assert.Equal(t, 4, saved.Items[0].Quantity)
	assert.Equal(t, "Taco", saved.Items[0].Name)
	assert.Nil(t, saved.UserID)

	require.Len(t, *got, 1)
	assert.Equal(t, receipt.OrderID, (*got)[0].OrderID)
	assert.Equal(t, 2, (*got)[0].ItemCount)
}

func TestSaveOrder_Validation(t *testing.T) {
	_, _, d := newTestDispatcher(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		payload dispatcher.Payload
		want    string
	}{
		{"missing name", dispatcher.Payload{"customer_phone": "1", "order_items": []any{}}, "Missing required field: customer_name"},
		{"missing items", dispatcher.Payload{"customer_name": "a", "customer_phone": "1"}, "Missing required field: order_items"},
		{"empty items", orderPayload(), MsgNoItems},
		{"items not a list", dispatcher.Payload{"customer_name": "a", "customer_phone": "1", "order_items": "taco"}, MsgInvalidItems},
		{"item without id", orderPayload(map[string]any{"quantity": float64(1)}), MsgInvalidItems},
		{"zero quantity", orderPayload(map[string]any{"id": "taco", "quantity": float64(0)}), MsgInvalidQuantity},
		{"fractional quantity", orderPayload(map[string]any{"id": "taco", "quantity": 1.5}), MsgInvalidQuantity},
		{"too many", orderPayload(map[string]any{"id": "taco", "quantity": float64(MaxQuantity + 1)}), MsgInvalidQuantity},
		{"unknown item", orderPayload(map[string]any{"id": "pizza"}), "Unknown menu item: pizza"},
		{"unavailable item", orderPayload(map[string]any{"id": "gone"}), "Unknown menu item: gone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := d.Dispatch(ctx, "saveOrder", tt.payload)
			assert.False(t, out.Envelope.Success)
			assert.Equal(t, tt.want, out.Envelope.Error)
		})
	}
}

func TestSaveOrder_FieldLimits(t *testing.T) {
	store, _, d := newTestDispatcher(t)
	store.menu["caviar"] = db.MenuItem{ID: "caviar", Name: "Caviar", Price: 2_000_000, Category: db.CategorySides, IsAvailable: true}
	ctx := context.Background()

	with := func(key string, value any, items ...any) dispatcher.Payload {
		if len(items) == 0 {
			items = []any{map[string]any{"id": "taco"}}
		}
		p := orderPayload(items...)
		if key != "" {
			p[key] = value
		}
		return p
	}
	tests := []struct {
		name    string
		payload dispatcher.Payload
		want    string
	}{
		{"phone with extension", with("customer_phone", "+1 (555) 123-4567 ext 89"), "Invalid field: customer_phone"},
		{"long client id", with("id", "order_"+strings.Repeat("x", db.MaxIDLen)), "Invalid field: id"},
		{"long name", with("customer_name", strings.Repeat("n", db.MaxNameLen+1)), "Invalid field: customer_name"},
		{"long email", with("customer_email", strings.Repeat("e", db.MaxEmailLen)+"@x.io"), "Invalid field: customer_email"},
		{"total out of range", with("", nil, map[string]any{"id": "caviar", "quantity": float64(MaxQuantity)}), MsgTotalTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := d.Dispatch(ctx, "saveOrder", tt.payload)
			assert.False(t, out.Envelope.Success)
			assert.Equal(t, tt.want, out.Envelope.Error)
		})
	}
	assert.Empty(t, store.orders)

	out := d.Dispatch(ctx, "saveOrder", with("customer_phone", strings.Repeat("5", db.MaxPhoneLen)))
	require.True(t, out.Envelope.Success, out.Envelope.Error)
}

func TestCreateOrder_RequiresAuth(t *testing.T) {
	store, got, d := newTestDispatcher(t)
	payload := orderPayload(map[string]any{"id": "fries"})

	out := d.Dispatch(context.Background(), "createOrder", payload)
	assert.Equal(t, auth.MsgAuthRequired, out.Envelope.Error)

	ctx := auth.WithSession(context.Background(), &auth.Session{UserID: "user_9", Role: db.RoleCustomer})
	out = d.Dispatch(ctx, "createOrder", orderPayload(map[string]any{"id": "fries"}))
	require.True(t, out.Envelope.Success, out.Envelope.Error)
	saved := store.orders[out.Envelope.Data.(Receipt).OrderID]
	require.NotNil(t, saved.UserID)
	assert.Equal(t, "user_9", *saved.UserID)
	assert.Equal(t, "user_9", (*got)[0].UserID)
}

func TestSaveOrder_DuplicateID(t *testing.T) {
	_, _, d := newTestDispatcher(t)
	p := orderPayload(map[string]any{"id": "fries"})
	p["id"] = "order_fixed"
	out := d.Dispatch(context.Background(), "saveOrder", p.Clone())
	require.True(t, out.Envelope.Success)
	out = d.Dispatch(context.Background(), "saveOrder", p.Clone())
	assert.Equal(t, MsgDuplicate, out.Envelope.Error)
}

func TestAdminOrderActions(t *testing.T) {
	store, _, d := newTestDispatcher(t)
	admin := auth.WithSession(context.Background(), &auth.Session{UserID: "user_1", Role: db.RoleAdmin})
	store.orders["o1"] = db.Order{ID: "o1", Status: db.StatusPending}

	out := d.Dispatch(context.Background(), "getOrders", dispatcher.Payload{})
	assert.Equal(t, auth.MsgAuthRequired, out.Envelope.Error)

	out = d.Dispatch(admin, "getOrders", dispatcher.Payload{"status": "lost"})
	assert.Equal(t, MsgInvalidStatus, out.Envelope.Error)

	out = d.Dispatch(admin, "getOrders", dispatcher.Payload{"status": "completed"})
	require.True(t, out.Envelope.Success)
	assert.Equal(t, []db.Order{}, out.Envelope.Data)

	out = d.Dispatch(admin, "updateOrderStatus", dispatcher.Payload{"id": "o1", "status": "shipped"})
	assert.Equal(t, MsgInvalidStatus, out.Envelope.Error)

	out = d.Dispatch(admin, "updateOrderStatus", dispatcher.Payload{"id": "o2", "status": "completed"})
	assert.Equal(t, MsgNotFound, out.Envelope.Error)

	out = d.Dispatch(admin, "updateOrderStatus", dispatcher.Payload{"id": "o1", "status": "completed"})
	require.True(t, out.Envelope.Success)
	assert.Equal(t, db.StatusCompleted, store.orders["o1"].Status)

	out = d.Dispatch(admin, "getOrders", dispatcher.Payload{"status": "completed"})
	assert.Len(t, out.Envelope.Data.([]db.Order), 1)
	assert.Equal(t, 1, out.Envelope.Meta["count"])
}
