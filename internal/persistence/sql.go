package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cexcore/matching-engine/internal/domain"
)

// Schema mirrors the teacher's embedded-SQL style in pkg/database: created
// once by an operator-run migration, not by this package.
const Schema = `
CREATE TABLE IF NOT EXISTS orders (
	order_id         BIGINT PRIMARY KEY,
	user_id          BIGINT NOT NULL,
	pair             TEXT NOT NULL,
	side             TEXT NOT NULL,
	order_type       TEXT NOT NULL,
	price            TEXT NOT NULL,
	quantity         TEXT NOT NULL,
	initial_quantity TEXT NOT NULL,
	status           TEXT NOT NULL,
	created_at_unix  BIGINT NOT NULL,
	closed_at        TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS ledger_transactions (
	id                BIGSERIAL PRIMARY KEY,
	user_id           BIGINT NOT NULL,
	order_id          BIGINT NOT NULL,
	category          TEXT NOT NULL,
	amount            TEXT NOT NULL,
	commission_amount TEXT NOT NULL,
	tx_type           TEXT NOT NULL,
	wallet_ref        TEXT NOT NULL DEFAULT '',
	currency          TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// upsertOrderRow inserts order or, if it already exists, updates its
// mutable fields -- the order row's first write may come from either a
// freeze or a market-bid update command, so both of those paths upsert;
// cancel/edit closes are plain UPDATEs of an existing row (4.2).
func upsertOrderRow(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO orders (order_id, user_id, pair, side, order_type, price, quantity, initial_quantity, status, created_at_unix)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (order_id) DO UPDATE SET
			price = EXCLUDED.price,
			quantity = EXCLUDED.quantity,
			status = EXCLUDED.status
	`, order.OrderID, order.UserID, order.Pair.String(), string(order.Side), string(order.OrderType),
		order.Price.String(), order.Quantity.String(), order.InitialQuantity.String(), string(order.Status), order.Timestamp)
	return err
}

func insertLedgerRow(ctx context.Context, tx *sql.Tx, row domain.LedgerTx) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_transactions (user_id, order_id, category, amount, commission_amount, tx_type, wallet_ref, currency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, row.UserID, row.OrderID, string(row.Category), row.Amount.String(), row.CommissionAmount.String(),
		string(row.TxType), row.WalletRef, string(row.Currency), time.Now().UTC())
	return err
}

// chargedAmount returns the currency and quantity-scaled amount an order
// locks up, mirroring ledger.MoneyManager's unexported equivalent: kept as
// a small duplicate here rather than exported from internal/ledger, since
// the two packages take different inputs (a live *domain.Order here, the
// pair, side, price and quantity as separate arguments there).
func chargedAmount(order *domain.Order) (domain.Currency, decimal.Decimal) {
	if order.Side == domain.Bid {
		return order.Pair.Quote, order.Price.Mul(order.Quantity)
	}
	return order.Pair.Base, order.Quantity
}
