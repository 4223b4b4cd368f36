package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cexcore/matching-engine/internal/domain"
	"github.com/cexcore/matching-engine/internal/ledger"
	"github.com/cexcore/matching-engine/pkg/observability"
)

// PersistenceWriter is the minimal surface the book needs from the
// persistence writer: submit one command, guaranteed to be applied in
// emission order (4.2/5). Defined here rather than imported from
// internal/persistence to keep that package free of an engine dependency.
type PersistenceWriter interface {
	Submit(ctx context.Context, cmd domain.PWCommand) error
}

// Book is the Order Book (OB): the single-threaded matching core owning
// both ladders for one pair. Grounded on order_book.py's OrderBook/
// process_order_list/process_market_order/process_limit_order, translated
// from the source's cyclic-linked-list-per-process model into the arena-
// backed OrderTree in this package.
type Book struct {
	Pair   domain.Pair
	Bids   *OrderTree
	Asks   *OrderTree
	Ledger ledger.BalanceLedger
	Money  *ledger.MoneyManager
	PW     PersistenceWriter
	Logger *observability.Logger
	Metrics *observability.MetricsProvider

	// FallbackPrice is the configured price assigned to a market order's
	// residue when its own side's ladder has no resting orders to borrow a
	// reference price from. Resolves the spec's open question about the
	// source's random-fallback behaviour with a deterministic, operator-
	// configured constant instead.
	FallbackPrice decimal.Decimal

	nextOrderID func() int64
}

// NewBook constructs an empty book for pair.
func NewBook(pair domain.Pair, l ledger.BalanceLedger, money *ledger.MoneyManager, pw PersistenceWriter, logger *observability.Logger, metrics *observability.MetricsProvider, fallbackPrice decimal.Decimal, idGen func() int64) *Book {
	return &Book{
		Pair:          pair,
		Bids:          NewOrderTree(domain.Bid),
		Asks:          NewOrderTree(domain.Ask),
		Ledger:        l,
		Money:         money,
		PW:            pw,
		Logger:        logger,
		Metrics:       metrics,
		FallbackPrice: fallbackPrice,
		nextOrderID:   idGen,
	}
}

func (b *Book) treeFor(side domain.Side) *OrderTree {
	if side == domain.Bid {
		return b.Bids
	}
	return b.Asks
}

func oppositeSide(side domain.Side) domain.Side {
	if side == domain.Bid {
		return domain.Ask
	}
	return domain.Bid
}

func crosses(side domain.Side, incomingPrice, oppositePrice decimal.Decimal) bool {
	if side == domain.Bid {
		return incomingPrice.GreaterThanOrEqual(oppositePrice)
	}
	return incomingPrice.LessThanOrEqual(oppositePrice)
}

// Process dispatches one popped intake message, matching the OB main loop
// (4.4). It never lets a single command's failure kill the loop: callers
// should log the returned error and continue popping.
func (b *Book) Process(ctx context.Context, msg domain.IntakeMessage) error {
	switch msg.Kind {
	case domain.IntakeCancel:
		return b.cancelOrder(ctx, msg.Cancel)
	case domain.IntakeEdit:
		return b.editOrder(ctx, msg.Edit)
	case domain.IntakeNewOrder:
		order := msg.NewOrder
		cancelled, err := b.Ledger.WasCancelled(ctx, order.OrderID)
		if err != nil {
			return fmt.Errorf("process new order %d: was cancelled: %w", order.OrderID, err)
		}
		if cancelled {
			if err := b.Ledger.ClearCancelled(ctx, order.OrderID); err != nil {
				return fmt.Errorf("process new order %d: clear cancelled: %w", order.OrderID, err)
			}
			if b.Logger != nil {
				b.Logger.Info(ctx, "new order: dropped, cancel overtook it in the queue", map[string]interface{}{"order_id": order.OrderID})
			}
			return nil
		}
		if order.OrderType == domain.Market {
			return b.processMarketOrder(ctx, order)
		}
		return b.processLimitOrder(ctx, order)
	default:
		return fmt.Errorf("process: unexpected intake kind %v", msg.Kind)
	}
}

// fillAgainstLevel fills the head order of level against incoming, applying
// the balance movement and emitting the persistence commands for one fill.
// marketCheck, when non-nil, gates the fill on BL funds sufficiency (4.4,
// market-bid mid-match check) and returns MatchOutcome{InsufficientFunds}
// without mutating anything if it fails.
func (b *Book) fillAgainstLevel(ctx context.Context, incoming *domain.Order, oppositeTree *OrderTree, level *OrderList, marketCheck func(head *domain.Order, tradeQty decimal.Decimal) (bool, error)) (MatchOutcome, error) {
	head, ok := oppositeTree.HeadOrder(level)
	if !ok {
		return MatchOutcome{Kind: PartialRest}, fmt.Errorf("fill against level: empty level at %s", level.Price)
	}

	tradeQty := decimal.Min(incoming.Quantity, head.Quantity)

	if marketCheck != nil {
		sufficient, err := marketCheck(head, tradeQty)
		if err != nil {
			return MatchOutcome{}, err
		}
		if !sufficient {
			return MatchOutcome{Kind: InsufficientFunds}, nil
		}
	}

	restingPrice := head.Price
	incoming.Quantity = incoming.Quantity.Sub(tradeQty)

	headCompleted := tradeQty.Equal(head.Quantity)
	if headCompleted {
		oppositeTree.RemoveOrder(head.OrderID)
		head.Quantity = decimal.Zero
		head.Status = domain.Completed
		if err := b.Ledger.DeleteBlob(ctx, head.OrderID); err != nil {
			return MatchOutcome{}, err
		}
	} else {
		if err := oppositeTree.ShrinkHead(level, tradeQty); err != nil {
			return MatchOutcome{}, err
		}
		if err := b.updateBlobQuantity(ctx, head); err != nil {
			return MatchOutcome{}, err
		}
	}

	if err := b.Money.ApplyFill(ctx, incoming, head, tradeQty, restingPrice); err != nil {
		return MatchOutcome{}, fmt.Errorf("apply fill: %w", err)
	}

	if err := b.PW.Submit(ctx, domain.PWCommand{Op: domain.OpUpdate, Order: head}); err != nil {
		return MatchOutcome{}, err
	}
	if err := b.PW.Submit(ctx, domain.PWCommand{Op: domain.OpMatchTransaction, IncomingOrder: incoming, RestingOrder: head, LedgerTxs: buildMatchLedgerRows(incoming, head, tradeQty, restingPrice, b.Money.Commission)}); err != nil {
		return MatchOutcome{}, err
	}

	if b.Metrics != nil {
		b.Metrics.RecordMatch()
	}

	if incoming.Quantity.IsZero() {
		return MatchOutcome{Kind: Filled}, nil
	}
	return MatchOutcome{Kind: PartialRest}, nil
}

func (b *Book) updateBlobQuantity(ctx context.Context, order *domain.Order) error {
	blob, ok, err := b.Ledger.GetBlob(ctx, order.OrderID)
	if err != nil {
		return err
	}
	if !ok {
		blob = blobFromOrder(order, true)
	}
	blob.Quantity = order.Quantity
	return b.Ledger.PutBlob(ctx, blob)
}

func blobFromOrder(o *domain.Order, atBook bool) ledger.Blob {
	return ledger.Blob{
		OrderID:         o.OrderID,
		UserID:          o.UserID,
		Pair:            o.Pair,
		Side:            o.Side,
		OrderType:       o.OrderType,
		Quantity:        o.Quantity,
		Price:           o.Price,
		InitialQuantity: o.InitialQuantity,
		Timestamp:       o.Timestamp,
		AtBook:          atBook,
	}
}

func orderFromBlob(b ledger.Blob) *domain.Order {
	return &domain.Order{
		OrderID:         b.OrderID,
		UserID:          b.UserID,
		Pair:            b.Pair,
		Side:            b.Side,
		OrderType:       b.OrderType,
		Price:           b.Price,
		Quantity:        b.Quantity,
		InitialQuantity: b.InitialQuantity,
		Timestamp:       b.Timestamp,
		Status:          domain.Pending,
	}
}

// buildMatchLedgerRows builds the four ledger-transaction rows a single
// fill produces (4.2's match_transaction, 4.4's four legs).
func buildMatchLedgerRows(incoming, resting *domain.Order, traded, restingPrice, commission decimal.Decimal) []domain.LedgerTx {
	pair := incoming.Pair
	notional := traded.Mul(restingPrice)

	if incoming.Side == domain.Bid {
		quoteOut := notional
		quoteType := domain.TxReduction
		comm := decimal.Zero
		if incoming.OrderType == domain.Market {
			comm = notional.Mul(commission)
		}
		return []domain.LedgerTx{
			{UserID: incoming.UserID, OrderID: incoming.OrderID, Category: domain.CategoryMatch, Amount: quoteOut, CommissionAmount: comm, TxType: quoteType, Currency: pair.Quote},
			{UserID: incoming.UserID, OrderID: incoming.OrderID, Category: domain.CategoryMatch, Amount: traded, TxType: domain.TxIncoming, Currency: pair.Base},
			{UserID: resting.UserID, OrderID: resting.OrderID, Category: domain.CategoryMatch, Amount: traded, TxType: domain.TxReduction, Currency: pair.Base},
			{UserID: resting.UserID, OrderID: resting.OrderID, Category: domain.CategoryMatch, Amount: notional, TxType: domain.TxIncoming, Currency: pair.Quote},
		}
	}

	return []domain.LedgerTx{
		{UserID: incoming.UserID, OrderID: incoming.OrderID, Category: domain.CategoryMatch, Amount: traded, TxType: domain.TxReduction, Currency: pair.Base},
		{UserID: incoming.UserID, OrderID: incoming.OrderID, Category: domain.CategoryMatch, Amount: notional, TxType: domain.TxIncoming, Currency: pair.Quote},
		{UserID: resting.UserID, OrderID: resting.OrderID, Category: domain.CategoryMatch, Amount: notional, TxType: domain.TxReduction, Currency: pair.Quote},
		{UserID: resting.UserID, OrderID: resting.OrderID, Category: domain.CategoryMatch, Amount: traded, TxType: domain.TxIncoming, Currency: pair.Base},
	}
}
