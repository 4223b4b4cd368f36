// Package domain holds the types shared by every CORE subsystem: currencies,
// pairs, orders, and the command messages that flow from intake through the
// book to the persistence writer.
package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side is the buy/sell side of an order.
type Side string

const (
	Bid Side = "bid"
	Ask Side = "ask"
)

// OrderType distinguishes priced resting intent from take-the-book intent.
type OrderType string

const (
	Limit  OrderType = "limit"
	Market OrderType = "market"
)

// Status is the order's lifecycle state.
type Status string

const (
	Pending   Status = "pending"
	Completed Status = "completed"
	Cancelled Status = "cancelled"
	Edited    Status = "edited"
)

// Order is the unit the book matches. order_id is a monotonic int64 assigned
// at creation -- never a UUID, since the data model requires an ordering
// usable for tie-breaking and recovery replay.
type Order struct {
	OrderID         int64
	UserID          int64
	Pair            Pair
	Side            Side
	OrderType       OrderType
	Price           decimal.Decimal
	Quantity        decimal.Decimal
	InitialQuantity decimal.Decimal
	Timestamp       int64
	Status          Status
}

// Validate checks the invariants the data model requires of every order
// before it is allowed onto the book.
func (o *Order) Validate() error {
	if o.InitialQuantity.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("order %d: initial_quantity must be positive", o.OrderID)
	}
	if o.Quantity.LessThan(decimal.Zero) || o.Quantity.GreaterThan(o.InitialQuantity) {
		return fmt.Errorf("order %d: quantity %s out of range [0, %s]", o.OrderID, o.Quantity, o.InitialQuantity)
	}
	if o.OrderType == Limit && o.Price.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("order %d: limit order requires positive price", o.OrderID)
	}
	if o.Side != Bid && o.Side != Ask {
		return fmt.Errorf("order %d: invalid side %q", o.OrderID, o.Side)
	}
	return nil
}

// QuantityTriggered reports whether the order's remaining quantity has ever
// differed from its initial quantity -- governs the refund-commission rule
// at cancel time (4.1): commission is refunded only when this is false.
func (o *Order) QuantityTriggered() bool {
	return !o.Quantity.Equal(o.InitialQuantity)
}

// Remaining returns how much of the order is left to fill.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity
}

// Clone returns a deep-enough copy for building an amended replacement.
func (o *Order) Clone() *Order {
	clone := *o
	return &clone
}
