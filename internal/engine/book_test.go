package engine

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/cexcore/matching-engine/internal/domain"
	"github.com/cexcore/matching-engine/internal/intake"
	"github.com/cexcore/matching-engine/internal/ledger"
)

// fakePW records every submitted command without touching a database,
// standing in for persistence.Writer in book-level tests.
type fakePW struct {
	commands []domain.PWCommand
}

func (f *fakePW) Submit(_ context.Context, cmd domain.PWCommand) error {
	f.commands = append(f.commands, cmd)
	return nil
}

func testPair() domain.Pair { return domain.Pair{Base: domain.BTC, Quote: domain.ETH} }

func newTestBook(t *testing.T) (*Book, *ledger.MemoryLedger, *fakePW) {
	t.Helper()
	l := ledger.NewMemoryLedger()
	money := ledger.NewMoneyManager(l, decimal.NewFromFloat(0.01))
	pw := &fakePW{}
	nextID := int64(1000)
	idGen := func() int64 {
		nextID++
		return nextID
	}
	book := NewBook(testPair(), l, money, pw, nil, nil, decimal.NewFromInt(1), idGen)
	return book, l, pw
}

// seedBalance credits a user's active balance directly.
func seedBalance(ctx context.Context, l *ledger.MemoryLedger, userID int64, curr domain.Currency, amount decimal.Decimal) error {
	return l.Pipeline(ctx, []ledger.BalanceOp{{Kind: ledger.Active, UserID: userID, Currency: curr, Delta: amount}})
}

// TestBookLimitCrossExact exercises S1: a resting ask is fully matched by an
// incoming limit bid of the same price and quantity. Both orders complete,
// both blobs are removed, and the book ends up empty on both sides.
func TestBookLimitCrossExact(t *testing.T) {
	ctx := context.Background()
	book, l, pw := newTestBook(t)

	seller := &domain.Order{
		OrderID: 1, UserID: 2, Pair: testPair(), Side: domain.Ask, OrderType: domain.Limit,
		Price: decimal.NewFromInt(6500), Quantity: decimal.NewFromInt(3), InitialQuantity: decimal.NewFromInt(3),
		Timestamp: 1, Status: domain.Pending,
	}
	if err := seedBalance(ctx, l, 2, domain.BTC, decimal.NewFromInt(10)); err != nil {
		t.Fatal(err)
	}
	if err := book.Money.Freeze(ctx, seller); err != nil {
		t.Fatal(err)
	}
	book.Asks.Add(seller)
	if err := l.PutBlob(ctx, ledger.Blob{OrderID: seller.OrderID, UserID: seller.UserID, Pair: seller.Pair, Side: seller.Side, OrderType: seller.OrderType, Quantity: seller.Quantity, Price: seller.Price, InitialQuantity: seller.InitialQuantity, Timestamp: seller.Timestamp, AtBook: true}); err != nil {
		t.Fatal(err)
	}

	buyer := &domain.Order{
		OrderID: 2, UserID: 1, Pair: testPair(), Side: domain.Bid, OrderType: domain.Limit,
		Price: decimal.NewFromInt(6500), Quantity: decimal.NewFromInt(3), InitialQuantity: decimal.NewFromInt(3),
		Timestamp: 2, Status: domain.Pending,
	}
	if err := seedBalance(ctx, l, 1, domain.ETH, decimal.NewFromInt(100000)); err != nil {
		t.Fatal(err)
	}
	if err := book.Money.Freeze(ctx, buyer); err != nil {
		t.Fatal(err)
	}

	if err := book.processLimitOrder(ctx, buyer); err != nil {
		t.Fatal(err)
	}

	if book.Asks.Len() != 0 {
		t.Errorf("asks len = %d, want 0", book.Asks.Len())
	}
	if book.Bids.Len() != 0 {
		t.Errorf("bids len = %d, want 0", book.Bids.Len())
	}
	if _, ok, _ := l.GetBlob(ctx, seller.OrderID); ok {
		t.Error("seller blob should be deleted")
	}
	buyerBase, _ := l.Get(ctx, ledger.Active, 1, domain.BTC)
	if !buyerBase.Equal(decimal.NewFromInt(3)) {
		t.Errorf("buyer active BTC = %s, want 3", buyerBase)
	}
	if len(pw.commands) == 0 {
		t.Error("expected persistence commands to be emitted")
	}
}

// TestBookLimitPartialFill exercises S2: a larger resting ask is partially
// filled by a smaller incoming bid. The resting order stays at the head of
// its level with reduced quantity and unchanged timestamp.
func TestBookLimitPartialFill(t *testing.T) {
	ctx := context.Background()
	book, l, _ := newTestBook(t)

	seller := &domain.Order{
		OrderID: 1, UserID: 2, Pair: testPair(), Side: domain.Ask, OrderType: domain.Limit,
		Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(5), InitialQuantity: decimal.NewFromInt(5),
		Timestamp: 1, Status: domain.Pending,
	}
	seedBalance(ctx, l, 2, domain.BTC, decimal.NewFromInt(10))
	book.Money.Freeze(ctx, seller)
	book.Asks.Add(seller)
	l.PutBlob(ctx, blobFromOrder(seller, true))

	buyer := &domain.Order{
		OrderID: 2, UserID: 1, Pair: testPair(), Side: domain.Bid, OrderType: domain.Limit,
		Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(3), InitialQuantity: decimal.NewFromInt(3),
		Timestamp: 2, Status: domain.Pending,
	}
	seedBalance(ctx, l, 1, domain.ETH, decimal.NewFromInt(100000))
	book.Money.Freeze(ctx, buyer)

	if err := book.processLimitOrder(ctx, buyer); err != nil {
		t.Fatal(err)
	}

	if book.Asks.Len() != 1 {
		t.Fatalf("asks len = %d, want 1", book.Asks.Len())
	}
	level, _ := book.Asks.Best()
	head, ok := book.Asks.HeadOrder(level)
	if !ok || head.OrderID != 1 {
		t.Fatalf("resting head = %v, want order 1", head)
	}
	if !head.Quantity.Equal(decimal.NewFromInt(2)) {
		t.Errorf("resting quantity = %s, want 2", head.Quantity)
	}
	if head.Timestamp != 1 {
		t.Errorf("resting timestamp = %d, want unchanged 1", head.Timestamp)
	}
	if book.Bids.Len() != 0 {
		t.Errorf("bids len = %d, want 0 (buyer fully filled)", book.Bids.Len())
	}
}

// TestBookMarketBidInsufficientFundsMidFill exercises S3: a market bid has
// enough active balance for the first (cheapest) ask level but not enough
// left over for the second. Matching stops at the insufficiency, the
// residue is cancelled (no rest), and funds already moved for the first fill
// are not unwound.
func TestBookMarketBidInsufficientFundsMidFill(t *testing.T) {
	ctx := context.Background()
	book, l, pw := newTestBook(t)

	sellerA := &domain.Order{
		OrderID: 1, UserID: 2, Pair: testPair(), Side: domain.Ask, OrderType: domain.Limit,
		Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1), InitialQuantity: decimal.NewFromInt(1),
		Timestamp: 1, Status: domain.Pending,
	}
	sellerB := &domain.Order{
		OrderID: 3, UserID: 2, Pair: testPair(), Side: domain.Ask, OrderType: domain.Limit,
		Price: decimal.NewFromInt(200), Quantity: decimal.NewFromInt(1), InitialQuantity: decimal.NewFromInt(1),
		Timestamp: 2, Status: domain.Pending,
	}
	seedBalance(ctx, l, 2, domain.BTC, decimal.NewFromInt(10))
	book.Money.Freeze(ctx, sellerA)
	book.Money.Freeze(ctx, sellerB)
	book.Asks.Add(sellerA)
	book.Asks.Add(sellerB)
	l.PutBlob(ctx, blobFromOrder(sellerA, true))
	l.PutBlob(ctx, blobFromOrder(sellerB, true))

	buyer := &domain.Order{
		OrderID: 2, UserID: 1, Pair: testPair(), Side: domain.Bid, OrderType: domain.Market,
		Price: decimal.Zero, Quantity: decimal.NewFromInt(2), InitialQuantity: decimal.NewFromInt(2),
		Timestamp: 3, Status: domain.Pending,
	}
	// Enough for the first fill (100 + 1% commission = 101) but not the
	// second (would need another 202).
	seedBalance(ctx, l, 1, domain.ETH, decimal.NewFromInt(150))
	l.PutBlob(ctx, blobFromOrder(buyer, false))

	if err := book.processMarketOrder(ctx, buyer); err != nil {
		t.Fatal(err)
	}

	if buyer.Status != domain.Cancelled {
		t.Errorf("buyer status = %v, want Cancelled", buyer.Status)
	}
	if book.Asks.Len() != 1 {
		t.Fatalf("asks len = %d, want 1 (second ask untouched)", book.Asks.Len())
	}
	if _, ok, _ := l.GetBlob(ctx, buyer.OrderID); ok {
		t.Error("buyer blob should be deleted on cancel")
	}

	var sawCancel bool
	for _, cmd := range pw.commands {
		if cmd.Op == domain.OpCancel && cmd.OrderID == buyer.OrderID {
			sawCancel = true
		}
	}
	if !sawCancel {
		t.Error("expected a cancel command for the unfilled market bid residue")
	}
}

// TestBookCancelBeforeSeen exercises S4: a cancel for an order that has not
// yet reached the book (at_book=false in its blob) marks it in the
// cancelled-set instead of touching either ladder; a subsequent CreateOrder
// for that same order id must be dropped.
func TestBookCancelBeforeSeen(t *testing.T) {
	ctx := context.Background()
	book, l, _ := newTestBook(t)

	queued := &domain.Order{
		OrderID: 5, UserID: 1, Pair: testPair(), Side: domain.Bid, OrderType: domain.Limit,
		Price: decimal.NewFromInt(50), Quantity: decimal.NewFromInt(1), InitialQuantity: decimal.NewFromInt(1),
		Timestamp: 1, Status: domain.Pending,
	}
	seedBalance(ctx, l, 1, domain.ETH, decimal.NewFromInt(1000))
	book.Money.Freeze(ctx, queued)
	l.PutBlob(ctx, blobFromOrder(queued, false))

	if err := book.cancelOrder(ctx, &domain.CancelRequest{OrderID: 5, Pair: testPair(), Timestamp: 2}); err != nil {
		t.Fatal(err)
	}

	cancelled, err := l.WasCancelled(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !cancelled {
		t.Error("expected order 5 to be marked cancelled")
	}
	if book.Bids.Len() != 0 {
		t.Errorf("bids len = %d, want 0 (queued order never reached the book)", book.Bids.Len())
	}

	money := book.Money
	pw := &fakePW{}
	ok, err := intake.CreateOrder(ctx, l, money, pw, queued.Clone())
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected CreateOrder to drop an order already marked cancelled")
	}
}

// TestBookProcessDropsStaleCreateOvertakenByCancel exercises the cancel-
// before-seen race in 4.3: a create and a cancel for the same order id are
// both pushed onto the real intake heap, with the higher-priority cancel
// landing on top even though it was enqueued second. Popping and processing
// the cancel first must not leave the later-popped, now-stale create message
// able to rest or match the order -- Process must check the cancelled-set
// itself and drop it, clearing the mark, with no further ladder/blob/PW
// mutation.
func TestBookProcessDropsStaleCreateOvertakenByCancel(t *testing.T) {
	ctx := context.Background()
	book, l, pw := newTestBook(t)

	order := &domain.Order{
		OrderID: 7, UserID: 1, Pair: testPair(), Side: domain.Bid, OrderType: domain.Limit,
		Price: decimal.NewFromInt(50), Quantity: decimal.NewFromInt(1), InitialQuantity: decimal.NewFromInt(1),
		Timestamp: 1, Status: domain.Pending,
	}
	if err := seedBalance(ctx, l, 1, domain.ETH, decimal.NewFromInt(1000)); err != nil {
		t.Fatal(err)
	}

	q := intake.NewHeapQueue()

	// The create is accepted and queued first (lower-priority ClassLimitOrder).
	recordingPW := &fakePW{}
	ok, err := intake.CreateOrder(ctx, l, book.Money, recordingPW, order)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected the create to be accepted")
	}
	q.Put(domain.IntakeMessage{Kind: domain.IntakeNewOrder, Priority: domain.ClassLimitOrder, Timestamp: 1, NewOrder: order})

	// The cancel is enqueued second but outranks it (ClassCancel < ClassLimitOrder).
	q.Put(domain.IntakeMessage{Kind: domain.IntakeCancel, Priority: domain.ClassCancel, Timestamp: 2, Cancel: &domain.CancelRequest{OrderID: 7, Pair: testPair(), Timestamp: 2}})

	first, ok := q.Get(ctx)
	if !ok || first.Kind != domain.IntakeCancel {
		t.Fatalf("first popped = %+v, want the cancel to win priority", first)
	}
	if err := book.Process(ctx, first); err != nil {
		t.Fatal(err)
	}

	cancelled, err := l.WasCancelled(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if !cancelled {
		t.Fatal("expected order 7 to be marked cancelled after the cancel runs first")
	}

	second, ok := q.Get(ctx)
	if !ok || second.Kind != domain.IntakeNewOrder {
		t.Fatalf("second popped = %+v, want the stale create", second)
	}
	commandsBeforeStaleCreate := len(pw.commands)
	if err := book.Process(ctx, second); err != nil {
		t.Fatal(err)
	}

	if book.Bids.Len() != 0 {
		t.Errorf("bids len = %d, want 0 (stale create must not rest the order)", book.Bids.Len())
	}
	if _, found, _ := l.GetBlob(ctx, 7); found {
		t.Error("expected no blob left behind by the stale create")
	}
	if stillCancelled, _ := l.WasCancelled(ctx, 7); stillCancelled {
		t.Error("expected the cancelled mark to be cleared once the stale create consumes it")
	}
	if len(pw.commands) != commandsBeforeStaleCreate {
		t.Errorf("expected the stale create to emit no further commands, got %+v", pw.commands[commandsBeforeStaleCreate:])
	}
}

// TestBookAmendmentPriceChange exercises S5: amending a resting order's
// price closes the original as Edited and re-processes a fresh order id at
// the new price, which can immediately cross what the original did not.
func TestBookAmendmentPriceChange(t *testing.T) {
	ctx := context.Background()
	book, l, _ := newTestBook(t)

	seller := &domain.Order{
		OrderID: 1, UserID: 2, Pair: testPair(), Side: domain.Ask, OrderType: domain.Limit,
		Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1), InitialQuantity: decimal.NewFromInt(1),
		Timestamp: 1, Status: domain.Pending,
	}
	seedBalance(ctx, l, 2, domain.BTC, decimal.NewFromInt(10))
	book.Money.Freeze(ctx, seller)
	book.Asks.Add(seller)
	l.PutBlob(ctx, blobFromOrder(seller, true))

	buyer := &domain.Order{
		OrderID: 2, UserID: 1, Pair: testPair(), Side: domain.Bid, OrderType: domain.Limit,
		Price: decimal.NewFromInt(50), Quantity: decimal.NewFromInt(1), InitialQuantity: decimal.NewFromInt(1),
		Timestamp: 2, Status: domain.Pending,
	}
	seedBalance(ctx, l, 1, domain.ETH, decimal.NewFromInt(1000))
	book.Money.Freeze(ctx, buyer)
	book.Bids.Add(buyer)
	l.PutBlob(ctx, blobFromOrder(buyer, true))

	// Raise the bid's price to 100 so it now crosses the resting ask.
	if err := book.editOrder(ctx, &domain.EditRequest{FormerOrderID: 2, Pair: testPair(), Price: decimal.NewFromInt(100), Quantity: decimal.Zero, Timestamp: 3}); err != nil {
		t.Fatal(err)
	}

	if book.Asks.Len() != 0 {
		t.Errorf("asks len = %d, want 0 (amended bid should have crossed the resting ask)", book.Asks.Len())
	}
	if book.Bids.Len() != 0 {
		t.Errorf("bids len = %d, want 0 (amended bid fully filled)", book.Bids.Len())
	}
	if _, ok, _ := l.GetBlob(ctx, 2); ok {
		t.Error("original order's blob should be gone after amendment")
	}
}
