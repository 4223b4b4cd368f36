package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cexcore/matching-engine/internal/domain"
	"github.com/cexcore/matching-engine/pkg/observability"
)

// FillBook repopulates both ladders from Postgres on startup (4.4,
// "fill_book"), reading every order still pending (quantity > 0) for this
// pair ordered by creation time (the ladder itself keeps the price order)
// and re-inserting it directly -- no
// balance movement, no PW emission, since the rows already reflect the
// committed state before the crash/restart. Each recovered order also gets
// its transient blob restored with AtBook true, since the Redis-side blob
// store does not survive a crash the way Postgres does, and cancel/edit
// both key off the blob to find a resting order.
func FillBook(ctx context.Context, db *sql.DB, b *Book, batchSize int) error {
	rows, err := db.QueryContext(ctx, `
		SELECT order_id, user_id, side, order_type, price, quantity, initial_quantity, created_at_unix
		FROM orders
		WHERE pair = $1 AND status = 'pending' AND quantity > 0
		ORDER BY created_at_unix ASC
	`, b.Pair.String())
	if err != nil {
		return fmt.Errorf("fill book: query: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var (
			o               domain.Order
			side            string
			orderType       string
			price, quantity string
			initialQty      string
		)
		if err := rows.Scan(&o.OrderID, &o.UserID, &side, &orderType, &price, &quantity, &initialQty, &o.Timestamp); err != nil {
			return fmt.Errorf("fill book: scan: %w", err)
		}
		o.Pair = b.Pair
		o.Side = domain.Side(side)
		o.OrderType = domain.OrderType(orderType)
		o.Status = domain.Pending
		if o.Price, err = decimal.NewFromString(price); err != nil {
			return fmt.Errorf("fill book: order %d: bad price %q: %w", o.OrderID, price, err)
		}
		if o.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return fmt.Errorf("fill book: order %d: bad quantity %q: %w", o.OrderID, quantity, err)
		}
		if o.InitialQuantity, err = decimal.NewFromString(initialQty); err != nil {
			return fmt.Errorf("fill book: order %d: bad initial quantity %q: %w", o.OrderID, initialQty, err)
		}

		b.treeFor(o.Side).Add(&o)
		if err := b.Ledger.PutBlob(ctx, blobFromOrder(&o, true)); err != nil {
			return fmt.Errorf("fill book: order %d: restore blob: %w", o.OrderID, err)
		}
		n++
		if batchSize > 0 && n%batchSize == 0 && b.Logger != nil {
			b.Logger.Info(ctx, "fill book: progress", map[string]interface{}{"pair": b.Pair.String(), "loaded": n})
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("fill book: rows: %w", err)
	}
	if b.Logger != nil {
		b.Logger.Info(ctx, "fill book: complete", map[string]interface{}{"pair": b.Pair.String(), "loaded": n})
	}
	return nil
}

// LogBook writes a human-readable dump of both ladders to logger, used on
// graceful shutdown (4.4, "log_book") so an operator can eyeball the book
// state alongside the dump file persistence writes on failure.
func LogBook(ctx context.Context, b *Book, logger *observability.Logger) {
	dump := func(side string, orders []*domain.Order) {
		for _, o := range orders {
			logger.Info(ctx, fmt.Sprintf("book dump: %s", side), map[string]interface{}{
				"order_id": o.OrderID,
				"user_id":  o.UserID,
				"price":    o.Price.String(),
				"quantity": o.Quantity.String(),
			})
		}
	}
	dump("bid", b.Bids.Snapshot())
	dump("ask", b.Asks.Snapshot())
}
