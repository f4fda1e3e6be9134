package db

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Menu categories.
const (
	CategoryMains     = "mains"
	CategorySides     = "sides"
	CategoryBeverages = "beverages"
)

// Order statuses.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusRefunded  = "refunded"
)

// User roles.
const (
	RoleAdmin    = "admin"
	RoleStaff    = "staff"
	RoleCustomer = "customer"
)

// Column limits of the menu_items and orders tables. Keep in step with
// migrations/0002_menu_items.sql and migrations/0003_orders.sql.
const (
	MaxIDLen    = 50  // menu_items.id, orders.id
	MaxNameLen  = 255 // menu_items.name, orders.customer_name
	MaxPhoneLen = 20  // orders.customer_phone
	MaxEmailLen = 255 // orders.customer_email
	MaxTagsLen  = 100 // menu_items.tags

	// MaxAmount is the largest NUMERIC(10,2) value, used for menu_items.price
	// and orders.total.
	MaxAmount = 99999999.99
)

// FitsColumn reports whether s fits a VARCHAR(limit) column. Postgres counts
// characters, not bytes.
func FitsColumn(s string, limit int) bool {
	return utf8.RuneCountInString(s) <= limit
}

// Categories lists menu categories in display order.
var Categories = []string{CategoryMains, CategorySides, CategoryBeverages}

// OrderStatuses lists valid order statuses.
var OrderStatuses = []string{StatusPending, StatusCompleted, StatusCancelled, StatusRefunded}

// ValidCategory reports whether c is a known menu category.
func ValidCategory(c string) bool {
	for _, v := range Categories {
		if v == c {
			return true
		}
	}
	return false
}

// ValidOrderStatus reports whether s is a known order status.
func ValidOrderStatus(s string) bool {
	for _, v := range OrderStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// User represents a row in the users table.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        *string    `json:"email,omitempty"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	FirstName    *string    `json:"first_name,omitempty"`
	LastName     *string    `json:"last_name,omitempty"`
	Phone        *string    `json:"phone,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	IsActive     bool       `json:"is_active"`
}

// DisplayName returns "First Last" when either is set, otherwise the username.
func (u *User) DisplayName() string {
	var parts []string
	if u.FirstName != nil && *u.FirstName != "" {
		parts = append(parts, *u.FirstName)
	}
	if u.LastName != nil && *u.LastName != "" {
		parts = append(parts, *u.LastName)
	}
	if len(parts) == 0 {
		return u.Username
	}
	return strings.Join(parts, " ")
}

// MenuItem represents a row in the menu_items table.
type MenuItem struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description" yaml:"description"`
	Price       float64   `json:"price" yaml:"price"`
	Category    string    `json:"category" yaml:"category"`
	Tags        string    `json:"tags" yaml:"tags"`
	IsAvailable bool      `json:"is_available" yaml:"is_available"`
	CreatedAt   time.Time `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"-"`
}

// MenuItemPatch holds the fields of a partial menu item update. Nil fields are left unchanged.
type MenuItemPatch struct {
	Name        *string
	Price       *float64
	Category    *string
	Tags        *string
	Description *string
	IsAvailable *bool
}

// Empty reports whether the patch changes nothing.
func (p MenuItemPatch) Empty() bool {
	return p.Name == nil && p.Price == nil && p.Category == nil &&
		p.Tags == nil && p.Description == nil && p.IsAvailable == nil
}

// MenuFilter selects menu items. Unavailable items are excluded unless IncludeUnavailable.
type MenuFilter struct {
	Category           string
	IncludeUnavailable bool
}

// OrderItem is one line of an order, priced at the time the order was taken.
type OrderItem struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// Order represents a row in the orders table.
type Order struct {
	ID                  string      `json:"id"`
	UserID              *string     `json:"user_id,omitempty"`
	CustomerName        string      `json:"customer_name"`
	CustomerPhone       string      `json:"customer_phone"`
	CustomerEmail       string      `json:"customer_email"`
	SpecialInstructions string      `json:"special_instructions"`
	Total               float64     `json:"total"`
	Status              string      `json:"status"`
	Items               []OrderItem `json:"order_items"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// OrderFilter selects orders, newest first.
type OrderFilter struct {
	Status string
	Limit  int
}

// Stats holds row counts for the diagnostics page.
type Stats struct {
	Users     int64 `json:"users"`
	MenuItems int64 `json:"menu_items"`
	Orders    int64 `json:"orders"`
}

// ProbeResult is the outcome of a database round trip.
type ProbeResult struct {
	Version string    `json:"version"`
	Now     time.Time `json:"time"`
}
