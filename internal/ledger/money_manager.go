package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cexcore/matching-engine/internal/domain"
)

// MoneyManager applies the freeze/refund/fill balance-movement rules of 4.1
// and 4.4 against a BalanceLedger. It is grounded on money_manager.py's
// MoneyManager and change_assets, replacing the per-currency eval()-based
// dispatch with the domain.Currency tagged type.
type MoneyManager struct {
	Ledger     BalanceLedger
	Commission decimal.Decimal
}

func NewMoneyManager(l BalanceLedger, commission decimal.Decimal) *MoneyManager {
	return &MoneyManager{Ledger: l, Commission: commission}
}

// chargedCurrencyAndAmount returns which currency and how much of it an
// order at (side, price, quantity) locks up, per utils.py's get_currencies
// and get_quantity.
func chargedCurrencyAndAmount(pair domain.Pair, side domain.Side, price, quantity decimal.Decimal) (domain.Currency, decimal.Decimal) {
	if side == domain.Bid {
		return pair.Quote, price.Mul(quantity)
	}
	return pair.Base, quantity
}

// CheckAssets reports whether the user can afford this order's requirement
// plus commission, per 4.1's check_assets.
func (m *MoneyManager) CheckAssets(ctx context.Context, order *domain.Order) (bool, error) {
	curr, amount := chargedCurrencyAndAmount(order.Pair, order.Side, order.Price, order.Quantity)
	commission := amount.Mul(m.Commission)
	active, err := m.Ledger.Get(ctx, Active, order.UserID, curr)
	if err != nil {
		return false, fmt.Errorf("check assets: %w", err)
	}
	return active.GreaterThanOrEqual(amount.Add(commission)), nil
}

// Freeze applies the at-create freeze policy (4.1). Market bids are never
// frozen at create -- the caller must not invoke Freeze for them.
func (m *MoneyManager) Freeze(ctx context.Context, order *domain.Order) error {
	if order.Side == domain.Bid && order.OrderType == domain.Market {
		return fmt.Errorf("freeze: market bid %d must not be frozen at create", order.OrderID)
	}

	curr, amount := chargedCurrencyAndAmount(order.Pair, order.Side, order.Price, order.Quantity)
	total := amount.Mul(decimal.NewFromInt(1).Add(m.Commission))

	return m.Ledger.Pipeline(ctx, []BalanceOp{
		{Kind: Frozen, UserID: order.UserID, Currency: curr, Delta: total},
		{Kind: Active, UserID: order.UserID, Currency: curr, Delta: total.Neg()},
	})
}

// Refund applies the at-cancel/amendment refund policy (4.1), symmetric to
// Freeze. Commission is returned only if the order's quantity was never
// changed after creation; this rule is preserved verbatim, not reinterpreted
// as proportional refund on the unfilled remainder.
func (m *MoneyManager) Refund(ctx context.Context, order *domain.Order) error {
	curr, amount := chargedCurrencyAndAmount(order.Pair, order.Side, order.Price, order.Quantity)

	total := amount
	if !order.QuantityTriggered() {
		total = amount.Mul(decimal.NewFromInt(1).Add(m.Commission))
	}

	return m.Ledger.Pipeline(ctx, []BalanceOp{
		{Kind: Frozen, UserID: order.UserID, Currency: curr, Delta: total.Neg()},
		{Kind: Active, UserID: order.UserID, Currency: curr, Delta: total},
	})
}

// ApplyFill executes the four-leg balance movement for a single fill of
// traded quantity t at resting price p (4.4), where incoming is the
// aggressor and resting is the maker. For an incoming bid, its order type
// selects whether its quote leg comes from active (market bid, never frozen)
// or frozen (limit bid, pre-locked); an incoming ask's base leg always comes
// from frozen, since every ask is frozen at create.
func (m *MoneyManager) ApplyFill(ctx context.Context, incoming, resting *domain.Order, traded, restingPrice decimal.Decimal) error {
	pair := incoming.Pair
	notional := traded.Mul(restingPrice)

	if incoming.Side == domain.Bid {
		ops := []BalanceOp{
			{Kind: Active, UserID: incoming.UserID, Currency: pair.Base, Delta: traded},
			{Kind: Frozen, UserID: resting.UserID, Currency: pair.Base, Delta: traded.Neg()},
			{Kind: Active, UserID: resting.UserID, Currency: pair.Quote, Delta: notional},
		}
		if incoming.OrderType == domain.Market {
			commission := notional.Mul(m.Commission)
			ops = append(ops, BalanceOp{Kind: Active, UserID: incoming.UserID, Currency: pair.Quote, Delta: notional.Add(commission).Neg()})
		} else {
			ops = append(ops, BalanceOp{Kind: Frozen, UserID: incoming.UserID, Currency: pair.Quote, Delta: notional.Neg()})
		}
		return m.Ledger.Pipeline(ctx, ops)
	}

	// incoming is an ask: symmetric roles, base/quote swapped.
	ops := []BalanceOp{
		{Kind: Active, UserID: incoming.UserID, Currency: pair.Quote, Delta: notional},
		{Kind: Frozen, UserID: resting.UserID, Currency: pair.Quote, Delta: notional.Neg()},
		{Kind: Active, UserID: resting.UserID, Currency: pair.Base, Delta: traded},
	}
	ops = append(ops, BalanceOp{Kind: Frozen, UserID: incoming.UserID, Currency: pair.Base, Delta: traded.Neg()})
	return m.Ledger.Pipeline(ctx, ops)
}

// CanHandle is the amendment pre-flight check (4.4 edit): verifies that
// releasing the old lock and re-freezing the new requirement still fits the
// user's active balance, grounded on money_manager.py's can_handle.
func (m *MoneyManager) CanHandle(ctx context.Context, oldOrder *domain.Order, newPrice, newQuantity decimal.Decimal) (bool, error) {
	if newPrice.IsZero() {
		newPrice = oldOrder.Price
	}
	if newQuantity.IsZero() {
		newQuantity = oldOrder.Quantity
	}

	curr, oldAmount := chargedCurrencyAndAmount(oldOrder.Pair, oldOrder.Side, oldOrder.Price, oldOrder.Quantity)
	_, newAmount := chargedCurrencyAndAmount(oldOrder.Pair, oldOrder.Side, newPrice, newQuantity)

	active, err := m.Ledger.Get(ctx, Active, oldOrder.UserID, curr)
	if err != nil {
		return false, fmt.Errorf("can handle: %w", err)
	}
	// Funds available for the new lock are what's active now plus what the
	// old order currently has locked (it will be released first).
	available := active.Add(oldAmount)
	return available.GreaterThanOrEqual(newAmount), nil
}
