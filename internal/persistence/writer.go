// Package persistence implements the Persistence Writer (PW): the single
// goroutine that serialises every order-row and ledger-transaction mutation
// into one Postgres transaction per command, grounded on the original
// source's DBwriter, translated from a separate OS process (the
// original's multiprocessing queue) into a goroutine fed by a buffered Go
// channel -- Go's scheduler makes the process boundary an unneeded cost the
// teacher's other services don't pay either (4.2).
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/cexcore/matching-engine/internal/domain"
	"github.com/cexcore/matching-engine/internal/ledger"
	"github.com/shopspring/decimal"

	"github.com/cexcore/matching-engine/pkg/database"
	"github.com/cexcore/matching-engine/pkg/observability"
)

// Writer consumes domain.PWCommand values from Commands and applies them to
// Postgres, one transaction per command, in emission order.
type Writer struct {
	Pair       domain.Pair
	DB         *database.DB
	Ledger     ledger.BalanceLedger
	Logger     *observability.Logger
	Metrics    *observability.MetricsProvider
	DumpDir    string
	Commission decimal.Decimal

	Commands chan domain.PWCommand

	halted chan struct{}
}

// NewWriter constructs a writer with a buffered command channel of the
// given depth.
func NewWriter(pair domain.Pair, db *database.DB, l ledger.BalanceLedger, logger *observability.Logger, metrics *observability.MetricsProvider, dumpDir string, commission decimal.Decimal, bufferSize int) *Writer {
	return &Writer{
		Pair:       pair,
		DB:         db,
		Ledger:     l,
		Logger:     logger,
		Metrics:    metrics,
		DumpDir:    dumpDir,
		Commission: commission,
		Commands:   make(chan domain.PWCommand, bufferSize),
		halted:     make(chan struct{}),
	}
}

// Submit enqueues cmd, implementing engine.PersistenceWriter /
// intake.PersistenceWriter.
func (w *Writer) Submit(ctx context.Context, cmd domain.PWCommand) error {
	select {
	case w.Commands <- cmd:
		if w.Metrics != nil {
			w.Metrics.SetPersistenceQueueDepth(len(w.Commands))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.halted:
		return fmt.Errorf("persistence writer halted")
	}
}

// Run drains Commands until a stop command or a backend failure. On
// failure it sets halted() in the BL, dumps the remaining queue plus the
// failing command (tagged fallen) to disk, and returns -- per 4.2/7, any
// PW exception is terminal for the process; integrity over availability.
func (w *Writer) Run(ctx context.Context) error {
	defer close(w.halted)

	for cmd := range w.Commands {
		if cmd.Op == domain.OpStop {
			w.Logger.Info(ctx, "persistence writer stopping", map[string]interface{}{"pair": w.Pair.String()})
			return nil
		}

		if err := w.apply(ctx, cmd); err != nil {
			w.Logger.Error(ctx, "persistence writer failed, halting", err, map[string]interface{}{"pair": w.Pair.String()})
			if haltErr := w.Ledger.SetHalted(ctx, true); haltErr != nil {
				w.Logger.Error(ctx, "failed to set halted flag", haltErr)
			}
			if w.Metrics != nil {
				w.Metrics.SetHalted(true)
			}
			cmd.Fallen = true
			w.dump(ctx, cmd)
			return fmt.Errorf("persistence writer: %w", err)
		}
	}
	return nil
}

// dump serialises the failing command plus everything still queued behind
// it to <pair>_dmp_q.json (6, "Dump files").
func (w *Writer) dump(ctx context.Context, failed domain.PWCommand) {
	pending := []domain.PWCommand{failed}
drain:
	for {
		select {
		case cmd := <-w.Commands:
			pending = append(pending, cmd)
		default:
			break drain
		}
	}

	path := fmt.Sprintf("%s/%s_dmp_q.json", w.DumpDir, w.Pair.String())
	data, err := json.Marshal(pending)
	if err != nil {
		w.Logger.Error(ctx, "failed to marshal dump queue", err)
		return
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		w.Logger.Error(ctx, "failed to write dump queue", err, map[string]interface{}{"path": path})
		return
	}
	w.Logger.Info(ctx, "dumped unprocessed commands", map[string]interface{}{"path": path, "count": len(pending)})
}

func (w *Writer) apply(ctx context.Context, cmd domain.PWCommand) error {
	switch cmd.Op {
	case domain.OpFreeze:
		return w.applyFreeze(ctx, cmd.Order)
	case domain.OpUpdate:
		return w.applyUpdate(ctx, cmd.Order)
	case domain.OpCancel:
		return w.applyClose(ctx, cmd.OrderID, domain.Cancelled)
	case domain.OpEdit:
		return w.applyClose(ctx, cmd.OrderID, domain.Edited)
	case domain.OpCancelTransaction:
		return w.applyCancelTransaction(ctx, cmd.Order)
	case domain.OpMatchTransaction:
		return w.applyMatchTransaction(ctx, cmd.LedgerTxs)
	default:
		return fmt.Errorf("apply: unknown op %q", cmd.Op)
	}
}

func (w *Writer) applyFreeze(ctx context.Context, order *domain.Order) error {
	return w.DB.Transaction(ctx, func(tx *sql.Tx) error {
		if err := upsertOrderRow(ctx, tx, order); err != nil {
			return err
		}
		curr, amount := chargedAmount(order)
		commission := amount.Mul(w.Commission)
		return insertLedgerRow(ctx, tx, domain.LedgerTx{
			UserID: order.UserID, OrderID: order.OrderID, Category: domain.CategoryFreeze,
			Amount: amount, CommissionAmount: commission, TxType: domain.TxIncoming, Currency: curr,
		})
	})
}

func (w *Writer) applyUpdate(ctx context.Context, order *domain.Order) error {
	return w.DB.Transaction(ctx, func(tx *sql.Tx) error {
		return upsertOrderRow(ctx, tx, order)
	})
}

func (w *Writer) applyClose(ctx context.Context, orderID int64, status domain.Status) error {
	return w.DB.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE orders SET status = $1, closed_at = $2 WHERE order_id = $3
		`, status, time.Now().UTC(), orderID)
		return err
	})
}

func (w *Writer) applyCancelTransaction(ctx context.Context, order *domain.Order) error {
	return w.DB.Transaction(ctx, func(tx *sql.Tx) error {
		curr, amount := chargedAmount(order)
		// Forfeited commission: kept by the house iff the order was
		// partially filled before cancellation (refund policy, 4.1); zero
		// if it was cancelled untouched, since the full commission was
		// already returned to the user by MoneyManager.Refund.
		commission := decimal.Zero
		if order.QuantityTriggered() {
			commission = amount.Mul(w.Commission)
		}
		return insertLedgerRow(ctx, tx, domain.LedgerTx{
			UserID: order.UserID, OrderID: order.OrderID, Category: domain.CategoryCancel,
			Amount: amount, CommissionAmount: commission, TxType: domain.TxIncoming, Currency: curr,
		})
	})
}

func (w *Writer) applyMatchTransaction(ctx context.Context, rows []domain.LedgerTx) error {
	return w.DB.Transaction(ctx, func(tx *sql.Tx) error {
		for _, row := range rows {
			if err := insertLedgerRow(ctx, tx, row); err != nil {
				return err
			}
		}
		return nil
	})
}
