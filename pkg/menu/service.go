// Package menu implements the menu actions: the public listing and the admin
// create, update and delete operations.
package menu

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

const logPrefix = "menu:service"

// User-visible failure messages.
const (
	MsgInvalidCategory = "Invalid category"
	MsgInvalidPrice    = "Invalid price"
	MsgNotFound        = "Menu item not found"
	MsgDuplicate       = "Menu item already exists"
	MsgNothingToUpdate = "No fields to update"
)

// Store is the subset of the repository the menu needs.
type Store interface {
	ListMenuItems(ctx context.Context, filter db.MenuFilter) ([]db.MenuItem, error)
	CreateMenuItem(ctx context.Context, item db.MenuItem) (*db.MenuItem, error)
	UpdateMenuItem(ctx context.Context, id string, patch db.MenuItemPatch) (*db.MenuItem, error)
	DeleteMenuItem(ctx context.Context, id string) error
}

// Service serves the menu actions.
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

// Register binds the menu actions on reg. Mutations require an admin session.
func (s *Service) Register(reg *dispatcher.Registry) {
	reg.Register("getMenuItems", s.GetMenuItems)
	reg.Register("getAllMenuItems", auth.RequireAdmin(s.GetAllMenuItems))
	reg.Register("addMenuItem", auth.RequireAdmin(s.AddMenuItem))
	reg.Register("updateMenuItem", auth.RequireAdmin(s.UpdateMenuItem))
	reg.Register("deleteMenuItem", auth.RequireAdmin(s.DeleteMenuItem))
}

// Available returns the available items, optionally restricted to one category.
func (s *Service) Available(ctx context.Context, category string) ([]db.MenuItem, error) {
	items, err := s.store.ListMenuItems(ctx, db.MenuFilter{Category: category})
	if err != nil {
		return nil, fmt.Errorf("%s - list menu items: %w", logPrefix, err)
	}
	if items == nil {
		items = []db.MenuItem{}
	}
	return items, nil
}

// GetMenuItems lists available items ordered by category then name.
func (s *Service) GetMenuItems(ctx context.Context, p dispatcher.Payload) (dispatcher.Result, error) {
	category := strings.TrimSpace(p.String("category"))
	if category != "" && !db.ValidCategory(category) {
		return dispatcher.Fail(MsgInvalidCategory), nil
	}
	items, err := s.Available(ctx, category)
	if err != nil {
		return nil, err
	}
	return dispatcher.OK(items).
		WithMeta("count", len(items)).
		WithMeta("timestamp", s.now().UTC().Format(time.RFC3339)), nil
}

// GetAllMenuItems lists every item, unavailable ones included.
func (s *Service) GetAllMenuItems(ctx context.Context, _ dispatcher.Payload) (dispatcher.Result, error) {
	items, err := s.store.ListMenuItems(ctx, db.MenuFilter{IncludeUnavailable: true})
	if err != nil {
		return nil, fmt.Errorf("%s - list all menu items: %w", logPrefix, err)
	}
	if items == nil {
		items = []db.MenuItem{}
	}
	return dispatcher.OK(items).WithMeta("count", len(items)), nil
}

// AddMenuItem creates an item. The id is generated when absent.
func (s *Service) AddMenuItem(ctx context.Context, p dispatcher.Payload) (dispatcher.Result, error) {
	if field := p.Missing("name", "price", "category"); field != "" {
		return dispatcher.Fail("Missing required field: " + field), nil
	}
	if field := oversized(p); field != "" {
		return dispatcher.Fail("Invalid field: " + field), nil
	}
	price, ok := parsePrice(p)
	if !ok {
		return dispatcher.Fail(MsgInvalidPrice), nil
	}
	category := strings.TrimSpace(p.String("category"))
	if !db.ValidCategory(category) {
		return dispatcher.Fail(MsgInvalidCategory), nil
	}
	available := true
	if p.Has("is_available") {
		available, _ = p.Bool("is_available")
	}
	id := strings.TrimSpace(p.String("id"))
	if id == "" {
		id = "item_" + uuid.NewString()
	}

	item, err := s.store.CreateMenuItem(ctx, db.MenuItem{
		ID:          id,
		Name:        strings.TrimSpace(p.String("name")),
		Description: p.String("description"),
		Price:       price,
		Category:    category,
		Tags:        p.String("tags"),
		IsAvailable: available,
	})
	if errors.Is(err, db.ErrConflict) {
		return dispatcher.Fail(MsgDuplicate), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s - create menu item: %w", logPrefix, err)
	}
	s.publish(ctx, item.ID, events.MenuItemCreated, nil)
	return dispatcher.OK(item), nil
}

// UpdateMenuItem applies the allowed fields present in the payload.
func (s *Service) UpdateMenuItem(ctx context.Context, p dispatcher.Payload) (dispatcher.Result, error) {
	id := strings.TrimSpace(p.String("id"))
	if id == "" {
		return dispatcher.Fail("Missing required field: id"), nil
	}
	if field := oversized(p); field != "" {
		return dispatcher.Fail("Invalid field: " + field), nil
	}

	var patch db.MenuItemPatch
	var changed []string
	if p.Has("name") {
		name := strings.TrimSpace(p.String("name"))
		patch.Name = &name
		changed = append(changed, "name")
	}
	if p.Has("price") {
		price, ok := parsePrice(p)
		if !ok {
			return dispatcher.Fail(MsgInvalidPrice), nil
		}
		patch.Price = &price
		changed = append(changed, "price")
	}
	if p.Has("category") {
		category := strings.TrimSpace(p.String("category"))
		if !db.ValidCategory(category) {
			return dispatcher.Fail(MsgInvalidCategory), nil
		}
		patch.Category = &category
		changed = append(changed, "category")
	}
	if p.Has("tags") {
		tags := p.String("tags")
		patch.Tags = &tags
		changed = append(changed, "tags")
	}
	if p.Has("description") {
		desc := p.String("description")
		patch.Description = &desc
		changed = append(changed, "description")
	}
	if p.Has("is_available") {
		if avail, ok := p.Bool("is_available"); ok {
			patch.IsAvailable = &avail
			changed = append(changed, "is_available")
		}
	}
	if patch.Empty() {
		return dispatcher.Fail(MsgNothingToUpdate), nil
	}

	item, err := s.store.UpdateMenuItem(ctx, id, patch)
	if errors.Is(err, db.ErrNotFound) {
		return dispatcher.Fail(MsgNotFound), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s - update menu item %s: %w", logPrefix, id, err)
	}
	s.publish(ctx, id, events.MenuItemUpdated, changed)
	return dispatcher.OK(item), nil
}

// DeleteMenuItem removes an item.
func (s *Service) DeleteMenuItem(ctx context.Context, p dispatcher.Payload) (dispatcher.Result, error) {
	id := strings.TrimSpace(p.String("id"))
	if id == "" {
		return dispatcher.Fail("Missing required field: id"), nil
	}
	err := s.store.DeleteMenuItem(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return dispatcher.Fail(MsgNotFound), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s - delete menu item %s: %w", logPrefix, id, err)
	}
	s.publish(ctx, id, events.MenuItemDeleted, nil)
	return dispatcher.OK(map[string]string{"id": id}), nil
}

func (s *Service) publish(ctx context.Context, id, change string, fields []string) {
	err := s.publisher.PublishMenuChanged(ctx, &events.MenuChangedEvent{
		ItemID:        id,
		Change:        change,
		ChangedFields: fields,
		Timestamp:     s.now().UTC(),
	})
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - publish menu.changed failed: %v", logPrefix, err), "item_id", id)
	}
}

// parsePrice reads a price in [0, db.MaxAmount] and rounds it to cents.
func parsePrice(p dispatcher.Payload) (float64, bool) {
	price, ok := p.Float("price")
	if !ok || price < 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, false
	}
	price = math.Round(price*100) / 100
	if price > db.MaxAmount {
		return 0, false
	}
	return price, true
}

// oversized returns the first text field that would not fit its column.
func oversized(p dispatcher.Payload) string {
	limits := []struct {
		field string
		max   int
		trim  bool
	}{
		{"id", db.MaxIDLen, true},
		{"name", db.MaxNameLen, true},
		{"tags", db.MaxTagsLen, false},
	}
	for _, l := range limits {
		v := p.String(l.field)
		if l.trim {
			v = strings.TrimSpace(v)
		}
		if !db.FitsColumn(v, l.max) {
			return l.field
		}
	}
	return ""
}

// GroupByCategory groups items by category in display order, skipping empty
// categories. Used by the home page.
func GroupByCategory(items []db.MenuItem) []Section {
	var out []Section
	for _, c := range db.Categories {
		var sec Section
		for _, it := range items {
			if it.Category == c {
				sec.Items = append(sec.Items, it)
			}
		}
		if len(sec.Items) > 0 {
			sec.Category = c
			out = append(out, sec)
		}
	}
	return out
}

// Section is one category of the rendered menu.
type Section struct {
	Category string
	Items    []db.MenuItem
}
