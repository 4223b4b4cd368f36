package engine

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/cexcore/matching-engine/internal/domain"
)

func mkOrder(id int64, price, qty decimal.Decimal, ts int64) *domain.Order {
	return &domain.Order{
		OrderID:         id,
		UserID:          1,
		Pair:            domain.Pair{Base: domain.BTC, Quote: domain.ETH},
		Side:            domain.Bid,
		OrderType:       domain.Limit,
		Price:           price,
		Quantity:        qty,
		InitialQuantity: qty,
		Timestamp:       ts,
		Status:          domain.Pending,
	}
}

func TestOrderTreeBestPriceBidsDescendingAsksAscending(t *testing.T) {
	bids := NewOrderTree(domain.Bid)
	bids.Add(mkOrder(1, decimal.NewFromInt(100), decimal.NewFromInt(1), 1))
	bids.Add(mkOrder(2, decimal.NewFromInt(105), decimal.NewFromInt(1), 2))
	bids.Add(mkOrder(3, decimal.NewFromInt(95), decimal.NewFromInt(1), 3))

	best, ok := bids.BestPrice()
	if !ok || !best.Equal(decimal.NewFromInt(105)) {
		t.Fatalf("bids best = %v, want 105", best)
	}

	asks := NewOrderTree(domain.Ask)
	asks.Add(mkOrder(1, decimal.NewFromInt(100), decimal.NewFromInt(1), 1))
	asks.Add(mkOrder(2, decimal.NewFromInt(105), decimal.NewFromInt(1), 2))
	asks.Add(mkOrder(3, decimal.NewFromInt(95), decimal.NewFromInt(1), 3))

	best, ok = asks.BestPrice()
	if !ok || !best.Equal(decimal.NewFromInt(95)) {
		t.Fatalf("asks best = %v, want 95", best)
	}
}

func TestOrderTreeFIFOWithinLevel(t *testing.T) {
	tree := NewOrderTree(domain.Bid)
	tree.Add(mkOrder(1, decimal.NewFromInt(100), decimal.NewFromInt(1), 1))
	tree.Add(mkOrder(2, decimal.NewFromInt(100), decimal.NewFromInt(1), 2))
	tree.Add(mkOrder(3, decimal.NewFromInt(100), decimal.NewFromInt(1), 3))

	level, ok := tree.Best()
	if !ok {
		t.Fatal("expected a best level")
	}
	head, ok := tree.HeadOrder(level)
	if !ok || head.OrderID != 1 {
		t.Fatalf("head order id = %v, want 1", head)
	}

	tree.RemoveOrder(1)
	level, _ = tree.Best()
	head, ok = tree.HeadOrder(level)
	if !ok || head.OrderID != 2 {
		t.Fatalf("head order id after removal = %v, want 2", head)
	}
}

func TestOrderTreeRemoveOrderDeletesEmptyLevel(t *testing.T) {
	tree := NewOrderTree(domain.Bid)
	tree.Add(mkOrder(1, decimal.NewFromInt(100), decimal.NewFromInt(1), 1))

	removed, ok := tree.RemoveOrder(1)
	if !ok || removed.OrderID != 1 {
		t.Fatalf("expected order 1 removed, got %v %v", removed, ok)
	}
	if _, ok := tree.BestPrice(); ok {
		t.Error("expected no price levels left")
	}
	if tree.Len() != 0 {
		t.Errorf("Len() = %d, want 0", tree.Len())
	}
}

func TestOrderTreeRemoveHeadKeepsRemainingLevelIntact(t *testing.T) {
	tree := NewOrderTree(domain.Bid)
	tree.Add(mkOrder(1, decimal.NewFromInt(100), decimal.NewFromInt(1), 1))
	tree.Add(mkOrder(2, decimal.NewFromInt(100), decimal.NewFromInt(1), 2))

	tree.RemoveOrder(1)

	level, ok := tree.Best()
	if !ok {
		t.Fatal("expected level to remain with one order left")
	}
	if level.Len() != 1 {
		t.Errorf("level.Len() = %d, want 1", level.Len())
	}
	head, ok := tree.HeadOrder(level)
	if !ok || head.OrderID != 2 {
		t.Fatalf("head = %v, want order 2", head)
	}
}

func TestOrderTreeRemoveTailKeepsHeadIntact(t *testing.T) {
	tree := NewOrderTree(domain.Bid)
	tree.Add(mkOrder(1, decimal.NewFromInt(100), decimal.NewFromInt(1), 1))
	tree.Add(mkOrder(2, decimal.NewFromInt(100), decimal.NewFromInt(1), 2))
	tree.Add(mkOrder(3, decimal.NewFromInt(100), decimal.NewFromInt(1), 3))

	// Remove the tail (order 3); head should remain order 1, and order 2
	// should become the new tail so a subsequent Add appends after it.
	tree.RemoveOrder(3)

	level, _ := tree.Best()
	if level.Len() != 2 {
		t.Fatalf("level.Len() = %d, want 2", level.Len())
	}
	head, _ := tree.HeadOrder(level)
	if head.OrderID != 1 {
		t.Fatalf("head = %d, want 1", head.OrderID)
	}

	tree.Add(mkOrder(4, decimal.NewFromInt(100), decimal.NewFromInt(1), 4))
	tree.RemoveOrder(1)
	tree.RemoveOrder(2)
	level, _ = tree.Best()
	head, ok := tree.HeadOrder(level)
	if !ok || head.OrderID != 4 {
		t.Fatalf("head after draining = %v, want order 4", head)
	}
}

func TestOrderTreeShrinkHeadPreservesTimestampAndQueuePosition(t *testing.T) {
	tree := NewOrderTree(domain.Bid)
	tree.Add(mkOrder(1, decimal.NewFromInt(100), decimal.NewFromInt(5), 10))
	tree.Add(mkOrder(2, decimal.NewFromInt(100), decimal.NewFromInt(5), 20))

	level, _ := tree.Best()
	if err := tree.ShrinkHead(level, decimal.NewFromInt(2)); err != nil {
		t.Fatal(err)
	}

	head, ok := tree.HeadOrder(level)
	if !ok || head.OrderID != 1 {
		t.Fatalf("head after shrink = %v, want order 1 still at head", head)
	}
	if !head.Quantity.Equal(decimal.NewFromInt(3)) {
		t.Errorf("quantity after shrink = %s, want 3", head.Quantity)
	}
	if head.Timestamp != 10 {
		t.Errorf("timestamp after shrink = %d, want unchanged 10", head.Timestamp)
	}
	if !level.Volume.Equal(decimal.NewFromInt(8)) {
		t.Errorf("level volume after shrink = %s, want 8", level.Volume)
	}
}

func TestOrderTreeSnapshotOrdering(t *testing.T) {
	bids := NewOrderTree(domain.Bid)
	bids.Add(mkOrder(1, decimal.NewFromInt(100), decimal.NewFromInt(1), 1))
	bids.Add(mkOrder(2, decimal.NewFromInt(105), decimal.NewFromInt(1), 2))
	bids.Add(mkOrder(3, decimal.NewFromInt(100), decimal.NewFromInt(1), 3))

	snap := bids.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot len = %d, want 3", len(snap))
	}
	// Best price (105) first, then 100-level in FIFO order (1 before 3).
	if snap[0].OrderID != 2 || snap[1].OrderID != 1 || snap[2].OrderID != 3 {
		t.Fatalf("snapshot order = %v, %v, %v", snap[0].OrderID, snap[1].OrderID, snap[2].OrderID)
	}
}
