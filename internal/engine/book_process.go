package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cexcore/matching-engine/internal/domain"
	"github.com/cexcore/matching-engine/internal/ledger"
)

// processLimitOrder runs a limit order against the opposite ladder until it
// is exhausted or no longer crosses, then rests any residue on its own side
// (4.4, "Limit order processing").
func (b *Book) processLimitOrder(ctx context.Context, order *domain.Order) error {
	opposite := b.treeFor(oppositeSide(order.Side))

	for order.Quantity.GreaterThan(decimal.Zero) {
		level, ok := opposite.Best()
		if !ok {
			break
		}
		if !crosses(order.Side, order.Price, level.Price) {
			break
		}
		outcome, err := b.fillAgainstLevel(ctx, order, opposite, level, nil)
		if err != nil {
			return fmt.Errorf("process limit order %d: %w", order.OrderID, err)
		}
		if outcome.Kind == Filled {
			break
		}
	}

	if order.Quantity.GreaterThan(decimal.Zero) {
		own := b.treeFor(order.Side)
		own.Add(order)
		if err := b.Ledger.PutBlob(ctx, blobFromOrder(order, true)); err != nil {
			return fmt.Errorf("process limit order %d: rest blob: %w", order.OrderID, err)
		}
		return b.PW.Submit(ctx, domain.PWCommand{Op: domain.OpUpdate, Order: order})
	}

	order.Status = domain.Completed
	if err := b.Ledger.DeleteBlob(ctx, order.OrderID); err != nil {
		return fmt.Errorf("process limit order %d: delete blob: %w", order.OrderID, err)
	}
	return b.PW.Submit(ctx, domain.PWCommand{Op: domain.OpUpdate, Order: order})
}

// processMarketOrder runs a market order against the opposite ladder. A
// market bid is re-checked for sufficient funds before every fill since it
// was never frozen at create (4.1, 4.4); a market ask was already frozen in
// full at create and never needs the check. Residue, if any, is assigned a
// reference price and either rested (if funds still suffice) or cancelled.
func (b *Book) processMarketOrder(ctx context.Context, order *domain.Order) error {
	opposite := b.treeFor(oppositeSide(order.Side))

	var insufficientFunds bool
	for order.Quantity.GreaterThan(decimal.Zero) {
		level, ok := opposite.Best()
		if !ok {
			break
		}

		var check func(head *domain.Order, tradeQty decimal.Decimal) (bool, error)
		if order.Side == domain.Bid {
			check = func(head *domain.Order, tradeQty decimal.Decimal) (bool, error) {
				required := tradeQty.Mul(head.Price)
				commission := required.Mul(b.Money.Commission)
				active, err := b.Ledger.Get(ctx, ledger.Active, order.UserID, order.Pair.Quote)
				if err != nil {
					return false, err
				}
				return active.GreaterThanOrEqual(required.Add(commission)), nil
			}
		}

		outcome, err := b.fillAgainstLevel(ctx, order, opposite, level, check)
		if err != nil {
			return fmt.Errorf("process market order %d: %w", order.OrderID, err)
		}
		if outcome.Kind == InsufficientFunds {
			insufficientFunds = true
			break
		}
		if outcome.Kind == Filled {
			break
		}
	}

	if order.Quantity.IsZero() {
		order.Status = domain.Completed
		if err := b.Ledger.DeleteBlob(ctx, order.OrderID); err != nil {
			return fmt.Errorf("process market order %d: delete blob: %w", order.OrderID, err)
		}
		return b.PW.Submit(ctx, domain.PWCommand{Op: domain.OpUpdate, Order: order})
	}

	if insufficientFunds {
		order.Status = domain.Cancelled
		if err := b.Ledger.DeleteBlob(ctx, order.OrderID); err != nil {
			return fmt.Errorf("process market order %d: delete blob: %w", order.OrderID, err)
		}
		return b.PW.Submit(ctx, domain.PWCommand{Op: domain.OpCancel, OrderID: order.OrderID})
	}

	// Opposite side emptied out with residue left: assign a reference price
	// and either rest it or cancel it, per side.
	order.Price = b.referencePrice(order.Side)

	if order.Side == domain.Bid {
		sufficient, err := b.Money.CheckAssets(ctx, order)
		if err != nil {
			return fmt.Errorf("process market order %d: check assets: %w", order.OrderID, err)
		}
		if !sufficient {
			order.Status = domain.Cancelled
			if err := b.Ledger.DeleteBlob(ctx, order.OrderID); err != nil {
				return fmt.Errorf("process market order %d: delete blob: %w", order.OrderID, err)
			}
			return b.PW.Submit(ctx, domain.PWCommand{Op: domain.OpCancel, OrderID: order.OrderID})
		}
		if err := b.Money.Freeze(ctx, order); err != nil {
			return fmt.Errorf("process market order %d: freeze residue: %w", order.OrderID, err)
		}
	}

	own := b.treeFor(order.Side)
	own.Add(order)
	if err := b.Ledger.PutBlob(ctx, blobFromOrder(order, true)); err != nil {
		return fmt.Errorf("process market order %d: rest blob: %w", order.OrderID, err)
	}
	return b.PW.Submit(ctx, domain.PWCommand{Op: domain.OpUpdate, Order: order})
}

// referencePrice is the price assigned to a market order's residue: the
// current best price on its own side, or the configured fallback if that
// side has nothing resting yet.
func (b *Book) referencePrice(side domain.Side) decimal.Decimal {
	if price, ok := b.treeFor(side).BestPrice(); ok {
		return price
	}
	return b.FallbackPrice
}
