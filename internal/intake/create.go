package intake

import (
	"context"
	"fmt"

	"github.com/cexcore/matching-engine/internal/domain"
	"github.com/cexcore/matching-engine/internal/ledger"
)

// PersistenceWriter mirrors engine.PersistenceWriter: defined separately to
// keep intake free of an engine package dependency (it only needs to submit
// commands, never read book state).
type PersistenceWriter interface {
	Submit(ctx context.Context, cmd domain.PWCommand) error
}

// CreateOrder performs the freeze-then-blob-then-row sequence a new order
// goes through before it is ever visible to the book (3, "Data flow:
// external submitter -> BL (freeze + write order blob + create row)"),
// grounded on create_order.py's CreateOrderSerializer.host_order. A market
// bid skips the freeze (4.1: "never frozen at create") but still needs its
// row durably recorded, so its blob/row write rides on an update command
// instead of a freeze command -- both are upserts in the persistence
// writer, so either can be an order's first-ever row.
func CreateOrder(ctx context.Context, l ledger.BalanceLedger, money *ledger.MoneyManager, pw PersistenceWriter, order *domain.Order) (bool, error) {
	isMarketBid := order.Side == domain.Bid && order.OrderType == domain.Market

	if !isMarketBid {
		ok, err := money.CheckAssets(ctx, order)
		if err != nil {
			return false, fmt.Errorf("create order %d: check assets: %w", order.OrderID, err)
		}
		if !ok {
			return false, nil
		}
	}

	cancelled, err := l.WasCancelled(ctx, order.OrderID)
	if err != nil {
		return false, fmt.Errorf("create order %d: was cancelled: %w", order.OrderID, err)
	}
	if cancelled {
		if err := l.ClearCancelled(ctx, order.OrderID); err != nil {
			return false, fmt.Errorf("create order %d: clear cancelled: %w", order.OrderID, err)
		}
		return false, nil
	}

	if !isMarketBid {
		if err := money.Freeze(ctx, order); err != nil {
			return false, fmt.Errorf("create order %d: freeze: %w", order.OrderID, err)
		}
	}

	blob := ledger.Blob{
		OrderID:         order.OrderID,
		UserID:          order.UserID,
		Pair:            order.Pair,
		Side:            order.Side,
		OrderType:       order.OrderType,
		Quantity:        order.Quantity,
		Price:           order.Price,
		InitialQuantity: order.InitialQuantity,
		Timestamp:       order.Timestamp,
		AtBook:          false,
	}
	if err := l.PutBlob(ctx, blob); err != nil {
		return false, fmt.Errorf("create order %d: put blob: %w", order.OrderID, err)
	}

	op := domain.OpFreeze
	if isMarketBid {
		op = domain.OpUpdate
	}
	if err := pw.Submit(ctx, domain.PWCommand{Op: op, Order: order}); err != nil {
		return false, fmt.Errorf("create order %d: submit: %w", order.OrderID, err)
	}
	return true, nil
}
