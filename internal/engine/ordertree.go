package engine

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/cexcore/matching-engine/internal/domain"
)

// OrderTree is one side of the book: an ordered map price -> OrderList plus
// a secondary order_id -> node index for O(1) lookup/cancellation (section
// 3, "Side book (OrderTree)"). Bids iterate descending (best = max); asks
// ascending (best = min). This replaces the teacher's stubbed
// PriceLevelTree with a real sorted-price structure: prices is kept sorted
// and mutated by binary-search insertion/removal.
type OrderTree struct {
	side   domain.Side
	arena  map[int64]*orderNode
	levels map[string]*OrderList
	prices []decimal.Decimal // ascending; Best() picks the right end per side
	index  map[int64]string  // order_id -> price key, for RemoveOrder
}

// NewOrderTree constructs an empty ladder for one side.
func NewOrderTree(side domain.Side) *OrderTree {
	return &OrderTree{
		side:   side,
		arena:  make(map[int64]*orderNode),
		levels: make(map[string]*OrderList),
		index:  make(map[int64]string),
	}
}

func priceKey(p decimal.Decimal) string { return p.String() }

// findPriceIndex returns the index in t.prices where p is (or would be
// inserted, sorted ascending).
func (t *OrderTree) findPriceIndex(p decimal.Decimal) int {
	return sort.Search(len(t.prices), func(i int) bool {
		return !t.prices[i].LessThan(p)
	})
}

func (t *OrderTree) insertPrice(p decimal.Decimal) {
	i := t.findPriceIndex(p)
	if i < len(t.prices) && t.prices[i].Equal(p) {
		return
	}
	t.prices = append(t.prices, decimal.Zero)
	copy(t.prices[i+1:], t.prices[i:])
	t.prices[i] = p
}

func (t *OrderTree) removePrice(p decimal.Decimal) {
	i := t.findPriceIndex(p)
	if i >= len(t.prices) || !t.prices[i].Equal(p) {
		return
	}
	t.prices = append(t.prices[:i], t.prices[i+1:]...)
}

// Add inserts order at the tail of its price level, creating the level if
// necessary.
func (t *OrderTree) Add(order *domain.Order) {
	key := priceKey(order.Price)
	level, ok := t.levels[key]
	if !ok {
		level = newOrderList(order.Price)
		t.levels[key] = level
		t.insertPrice(order.Price)
	}

	node := &orderNode{order: order}
	t.arena[order.OrderID] = node
	t.index[order.OrderID] = key

	if level.hasAny {
		tailNode := t.arena[level.tail]
		tailNode.next = order.OrderID
		tailNode.hasNext = true
		node.prev = level.tail
		node.hasPrev = true
		level.tail = order.OrderID
	} else {
		level.head = order.OrderID
		level.tail = order.OrderID
		level.hasAny = true
	}
	level.count++
	level.Volume = level.Volume.Add(order.Quantity)
}

// RemoveOrder detaches order_id from its price level and arena, returning
// the order and whether it was found. The level is deleted if now empty.
func (t *OrderTree) RemoveOrder(orderID int64) (*domain.Order, bool) {
	node, ok := t.arena[orderID]
	if !ok {
		return nil, false
	}
	key := t.index[orderID]
	level := t.levels[key]

	if node.hasPrev {
		t.arena[node.prev].next = node.next
		t.arena[node.prev].hasNext = node.hasNext
	} else {
		level.head = node.next
		// hasAny stays true only if hasNext; resolved below.
	}
	if node.hasNext {
		t.arena[node.next].prev = node.prev
		t.arena[node.next].hasPrev = node.hasPrev
	} else {
		level.tail = node.prev
	}
	level.count--
	level.Volume = level.Volume.Sub(node.order.Quantity)

	if level.count == 0 {
		level.hasAny = false
		delete(t.levels, key)
		t.removePrice(level.Price)
	} else if !node.hasPrev {
		level.hasAny = true
	}

	delete(t.arena, orderID)
	delete(t.index, orderID)
	return node.order, true
}

// Get returns the live order for order_id without removing it.
func (t *OrderTree) Get(orderID int64) (*domain.Order, bool) {
	node, ok := t.arena[orderID]
	if !ok {
		return nil, false
	}
	return node.order, true
}

// Best returns the best (highest priority) non-empty price level for this
// side: max price for bids, min price for asks.
func (t *OrderTree) Best() (*OrderList, bool) {
	if len(t.prices) == 0 {
		return nil, false
	}
	if t.side == domain.Bid {
		return t.levels[priceKey(t.prices[len(t.prices)-1])], true
	}
	return t.levels[priceKey(t.prices[0])], true
}

// BestPrice returns the best price, if any resting order exists.
func (t *OrderTree) BestPrice() (decimal.Decimal, bool) {
	level, ok := t.Best()
	if !ok {
		return decimal.Zero, false
	}
	return level.Price, true
}

// HeadOrder returns the order at the head of level (eldest, next to fill).
func (t *OrderTree) HeadOrder(level *OrderList) (*domain.Order, bool) {
	id, ok := level.HeadID()
	if !ok {
		return nil, false
	}
	node, ok := t.arena[id]
	if !ok {
		return nil, false
	}
	return node.order, true
}

// ShrinkHead reduces the head order's quantity by amount in place,
// preserving its timestamp and queue position (5, invariant: partial-fill
// preserves timestamp).
func (t *OrderTree) ShrinkHead(level *OrderList, amount decimal.Decimal) error {
	id, ok := level.HeadID()
	if !ok {
		return fmt.Errorf("shrink head: empty level at %s", level.Price)
	}
	node := t.arena[id]
	node.order.Quantity = node.order.Quantity.Sub(amount)
	level.Volume = level.Volume.Sub(amount)
	return nil
}

// Snapshot returns all orders across this side, ordered by price priority
// then FIFO within level -- used for log_book's human-readable dump.
func (t *OrderTree) Snapshot() []*domain.Order {
	var out []*domain.Order
	visit := func(level *OrderList) {
		id, ok := level.HeadID()
		for ok {
			node := t.arena[id]
			out = append(out, node.order)
			if node.hasNext {
				id = node.next
			} else {
				ok = false
			}
		}
	}
	if t.side == domain.Bid {
		for i := len(t.prices) - 1; i >= 0; i-- {
			visit(t.levels[priceKey(t.prices[i])])
		}
	} else {
		for i := 0; i < len(t.prices); i++ {
			visit(t.levels[priceKey(t.prices[i])])
		}
	}
	return out
}

// Len reports the number of resting orders on this side.
func (t *OrderTree) Len() int { return len(t.arena) }
