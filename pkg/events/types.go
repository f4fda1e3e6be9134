// Package events defines the domain events the site emits and the publishers
// that deliver them.
package events

import "time"

// OrderCreatedEvent is emitted after an order is stored.
type OrderCreatedEvent struct {
	OrderID   string    `json:"orderId"`
	Total     float64   `json:"total"`
	ItemCount int       `json:"itemCount"`
	UserID    string    `json:"userId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Menu change kinds.
const (
	MenuItemCreated = "created"
	MenuItemUpdated = "updated"
	MenuItemDeleted = "deleted"
)

// MenuChangedEvent is emitted when a menu item is created, updated or deleted.
type MenuChangedEvent struct {
	ItemID        string    `json:"itemId"`
	Change        string    `json:"change"`
	ChangedFields []string  `json:"changedFields,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// KillSwitchChangedEvent is emitted when maintenance mode is engaged or released.
type KillSwitchChangedEvent struct {
	On        bool      `json:"on"`
	Reason    string    `json:"reason,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
