package engine

import (
	"context"
	"fmt"

	"github.com/cexcore/matching-engine/internal/domain"
)

// cancelOrder applies invariant 6 (idempotent cancellation) and 4.4's two
// cancel paths: an order already resting (at_book) is pulled straight off
// its ladder; one still queued behind it in the intake heap is only marked
// in the BL's cancelled-set so the eventual create is dropped on sight.
func (b *Book) cancelOrder(ctx context.Context, req *domain.CancelRequest) error {
	blob, ok, err := b.Ledger.GetBlob(ctx, req.OrderID)
	if err != nil {
		return fmt.Errorf("cancel order %d: %w", req.OrderID, err)
	}
	if !ok {
		if b.Logger != nil {
			b.Logger.Info(ctx, "cancel: order already closed", map[string]interface{}{"order_id": req.OrderID})
		}
		return nil
	}

	if blob.AtBook {
		order, found := b.treeFor(blob.Side).RemoveOrder(req.OrderID)
		if !found {
			return nil
		}
		order.Status = domain.Cancelled
		if err := b.Money.Refund(ctx, order); err != nil {
			return fmt.Errorf("cancel order %d: refund: %w", req.OrderID, err)
		}
		if err := b.Ledger.DeleteBlob(ctx, req.OrderID); err != nil {
			return fmt.Errorf("cancel order %d: delete blob: %w", req.OrderID, err)
		}
		if err := b.PW.Submit(ctx, domain.PWCommand{Op: domain.OpCancelTransaction, Order: order}); err != nil {
			return err
		}
		if b.Metrics != nil {
			b.Metrics.RecordCancel()
		}
		return b.PW.Submit(ctx, domain.PWCommand{Op: domain.OpCancel, OrderID: req.OrderID})
	}

	// Still queued behind this cancel in the intake heap (higher-priority
	// cancel overtook the lower-priority create): mark cancelled so the
	// create is dropped without ever touching the ladder.
	if err := b.Ledger.MarkCancelled(ctx, req.OrderID); err != nil {
		return fmt.Errorf("cancel order %d: mark cancelled: %w", req.OrderID, err)
	}
	if !(blob.Side == domain.Bid && blob.OrderType == domain.Market) {
		order := orderFromBlob(blob)
		if err := b.Money.Refund(ctx, order); err != nil {
			return fmt.Errorf("cancel order %d: refund queued: %w", req.OrderID, err)
		}
	}
	if err := b.Ledger.DeleteBlob(ctx, req.OrderID); err != nil {
		return fmt.Errorf("cancel order %d: delete blob: %w", req.OrderID, err)
	}
	if b.Metrics != nil {
		b.Metrics.RecordCancel()
	}
	return b.PW.Submit(ctx, domain.PWCommand{Op: domain.OpCancel, OrderID: req.OrderID})
}

// editOrder implements amendment as cancel-then-create on the former order
// id (invariant 7): the old order is closed out with status edited instead
// of cancelled, and a replacement is created and processed as new. A market
// order's price can only be edited by implicitly upgrading it to limit,
// per money_manager.py's can_handle / edit_order.
func (b *Book) editOrder(ctx context.Context, req *domain.EditRequest) error {
	blob, ok, err := b.Ledger.GetBlob(ctx, req.FormerOrderID)
	if err != nil {
		return fmt.Errorf("edit order %d: %w", req.FormerOrderID, err)
	}
	if !ok {
		if b.Logger != nil {
			b.Logger.Info(ctx, "edit: former order already closed", map[string]interface{}{"order_id": req.FormerOrderID})
		}
		return nil
	}

	oldOrder := orderFromBlob(blob)
	can, err := b.Money.CanHandle(ctx, oldOrder, req.Price, req.Quantity)
	if err != nil {
		return fmt.Errorf("edit order %d: can handle: %w", req.FormerOrderID, err)
	}
	if !can {
		if b.Logger != nil {
			b.Logger.Info(ctx, "edit: amendment declined, insufficient funds", map[string]interface{}{"order_id": req.FormerOrderID})
		}
		if b.Metrics != nil {
			b.Metrics.RecordEdit(false)
		}
		return nil
	}

	if blob.AtBook {
		b.treeFor(oldOrder.Side).RemoveOrder(oldOrder.OrderID)
	} else {
		if err := b.Ledger.MarkCancelled(ctx, oldOrder.OrderID); err != nil {
			return fmt.Errorf("edit order %d: mark cancelled: %w", req.FormerOrderID, err)
		}
	}
	oldOrder.Status = domain.Edited
	if err := b.Money.Refund(ctx, oldOrder); err != nil {
		return fmt.Errorf("edit order %d: refund: %w", req.FormerOrderID, err)
	}
	if err := b.Ledger.DeleteBlob(ctx, oldOrder.OrderID); err != nil {
		return fmt.Errorf("edit order %d: delete blob: %w", req.FormerOrderID, err)
	}
	if err := b.PW.Submit(ctx, domain.PWCommand{Op: domain.OpEdit, OrderID: oldOrder.OrderID, Edited: true}); err != nil {
		return err
	}

	newOrderType := oldOrder.OrderType
	if newOrderType == domain.Market {
		newOrderType = domain.Limit
	}
	newPrice := req.Price
	if newPrice.IsZero() {
		newPrice = oldOrder.Price
	}
	newQuantity := req.Quantity
	if newQuantity.IsZero() {
		newQuantity = oldOrder.Quantity
	}

	newOrder := &domain.Order{
		OrderID:         b.nextOrderID(),
		UserID:          oldOrder.UserID,
		Pair:            oldOrder.Pair,
		Side:            oldOrder.Side,
		OrderType:       newOrderType,
		Price:           newPrice,
		Quantity:        newQuantity,
		InitialQuantity: newQuantity,
		Timestamp:       req.Timestamp,
		Status:          domain.Pending,
	}

	// newOrderType is upgraded to limit above whenever the old order was a
	// market order, so newOrder is never a market order and is always
	// frozen here, unlike create's market-bid freeze-skip.
	if err := b.Money.Freeze(ctx, newOrder); err != nil {
		return fmt.Errorf("edit order %d: freeze replacement: %w", req.FormerOrderID, err)
	}
	if err := b.Ledger.PutBlob(ctx, blobFromOrder(newOrder, false)); err != nil {
		return fmt.Errorf("edit order %d: put replacement blob: %w", req.FormerOrderID, err)
	}
	if err := b.PW.Submit(ctx, domain.PWCommand{Op: domain.OpFreeze, Order: newOrder}); err != nil {
		return err
	}

	if b.Metrics != nil {
		b.Metrics.RecordEdit(true)
	}

	if newOrder.OrderType == domain.Market {
		return b.processMarketOrder(ctx, newOrder)
	}
	return b.processLimitOrder(ctx, newOrder)
}
