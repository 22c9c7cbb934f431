// Package models provides data model definitions for the terminal
// sync core.
package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	if value == nil {
		*u = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*u = UUID(v)
	case []byte:
		*u = UUID(v)
	default:
		return fmt.Errorf("cannot scan %T into UUID", value)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// OrderType distinguishes how an order is fulfilled.
type OrderType string

const (
	OrderTypeDineIn   OrderType = "dine_in"
	OrderTypeTakeout  OrderType = "takeout"
	OrderTypeDelivery OrderType = "delivery"
)

// SyncState tracks where an order sits in the push pipeline.
type SyncState string

const (
	SyncStatePending  SyncState = "pending"
	SyncStateSyncing  SyncState = "syncing"
	SyncStateSynced   SyncState = "synced"
	SyncStateConflict SyncState = "conflict"
)

// Order is the terminal's authoritative record of a customer order.
// RemoteID stays empty until the first successful push; Revision is
// bumped on every local mutation and compared against PushedRevision
// (the last revision the remote acknowledged) for conflict checks.
type Order struct {
	ID              UUID            `db:"id" json:"id"`
	RemoteID        string          `db:"remote_id" json:"remote_id,omitempty"`
	OrderType       OrderType       `db:"order_type" json:"order_type"`
	Status          OrderStatus     `db:"status" json:"status"`
	Items           []OrderItem     `json:"items"`
	Subtotal        decimal.Decimal `db:"subtotal" json:"subtotal"`
	TotalAmount     decimal.Decimal `db:"total_amount" json:"total_amount"`
	SyncState       SyncState       `db:"sync_state" json:"sync_state"`
	Revision        int             `db:"revision" json:"revision"`
	PushedRevision  int             `db:"pushed_revision" json:"pushed_revision"`
	DeliveryAddress string          `db:"delivery_address" json:"delivery_address,omitempty"`
	DeliveryZoneID  string          `db:"delivery_zone_id" json:"delivery_zone_id,omitempty"`
	CreatedAt       int64           `db:"created_at" json:"created_at"`
	UpdatedAt       int64           `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Order.
func (Order) TableName() string {
	return "orders"
}

// CreatedAtTime returns CreatedAt as time.Time.
func (o *Order) CreatedAtTime() time.Time {
	return time.Unix(o.CreatedAt, 0)
}

// UpdatedAtTime returns UpdatedAt as time.Time.
func (o *Order) UpdatedAtTime() time.Time {
	return time.Unix(o.UpdatedAt, 0)
}

// Touch bumps UpdatedAt and the revision counter. Every local
// mutation must go through Touch so conflict checks stay honest.
func (o *Order) Touch() {
	o.UpdatedAt = time.Now().Unix()
	o.Revision++
}

// OrderItem is one line entry on an order. Position preserves the
// order in which lines were entered.
type OrderItem struct {
	ID        UUID            `db:"id" json:"id"`
	OrderID   UUID            `db:"order_id" json:"order_id"`
	SKU       string          `db:"sku" json:"sku"`
	Name      string          `db:"name" json:"name"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	LineTotal decimal.Decimal `db:"line_total" json:"line_total"`
	Position  int             `db:"position" json:"position"`
}

// TableName returns the table name for OrderItem.
func (OrderItem) TableName() string {
	return "order_items"
}
