// Package engine implements the Order Book (OB): the matching core of price-
// time priority ladders, grounded on order_book.py and the teacher's
// internal/hft/orderbook_engine.go (whose PriceLevelTree/walkPriceLevels are
// stubbed no-ops -- this package supplies the real structure they describe).
package engine

import (
	"github.com/shopspring/decimal"

	"github.com/cexcore/matching-engine/internal/domain"
)

// orderNode is one arena slot. Neighbours are order ids, not pointers, per
// the Design Notes: deletion from the middle of a price level's FIFO is an
// O(1) map update, with no cyclic doubly-linked-list ownership to manage.
type orderNode struct {
	order   *domain.Order
	prev    int64
	next    int64
	hasPrev bool
	hasNext bool
}

// OrderList is a single price level: a FIFO queue of resting orders sharing
// one price on one side, plus its aggregate volume. Head is eldest.
type OrderList struct {
	Price  decimal.Decimal
	head   int64
	tail   int64
	hasAny bool
	Volume decimal.Decimal
	count  int
}

func newOrderList(price decimal.Decimal) *OrderList {
	return &OrderList{Price: price, Volume: decimal.Zero}
}

// Len reports how many orders rest at this price level.
func (ol *OrderList) Len() int { return ol.count }

// HeadID returns the id of the eldest order at this level.
func (ol *OrderList) HeadID() (int64, bool) {
	return ol.head, ol.hasAny
}
