// Package ledger implements the Balance Ledger (BL): per-user, per-currency
// active/frozen balances with atomic increments, the transient order blob
// store, the cancelled-before-seen set, and the pipeline-wide halted/running
// flags. It is grounded on money_manager.py and utils.py from the original
// source, modelled behind an interface per the Design Notes so the engine
// can run against an in-memory fake in tests.
package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/cexcore/matching-engine/internal/domain"
)

// BalanceKind selects which of a user's two balances an operation touches.
type BalanceKind string

const (
	Active BalanceKind = "active"
	Frozen BalanceKind = "frozen"
)

// Blob is the transient per-order snapshot kept in the shared store under
// key order_<id> (section 3, "Transient order blob").
type Blob struct {
	OrderID         int64
	UserID          int64
	Pair            domain.Pair
	Side            domain.Side
	OrderType       domain.OrderType
	Quantity        decimal.Decimal
	Price           decimal.Decimal
	InitialQuantity decimal.Decimal
	Timestamp       int64
	AtBook          bool
}

// BalanceOp is one leg of a pipelined, atomic multi-key update.
type BalanceOp struct {
	Kind     BalanceKind
	UserID   int64
	Currency domain.Currency
	Delta    decimal.Decimal
}

// BalanceLedger is the abstract interface the engine, persistence writer and
// intake acceptor all depend on -- never a concrete Redis type -- so unit
// tests can substitute MemoryLedger.
type BalanceLedger interface {
	Get(ctx context.Context, kind BalanceKind, userID int64, curr domain.Currency) (decimal.Decimal, error)
	Incr(ctx context.Context, kind BalanceKind, userID int64, curr domain.Currency, delta decimal.Decimal) error
	Pipeline(ctx context.Context, ops []BalanceOp) error

	PutBlob(ctx context.Context, blob Blob) error
	GetBlob(ctx context.Context, orderID int64) (Blob, bool, error)
	DeleteBlob(ctx context.Context, orderID int64) error

	MarkCancelled(ctx context.Context, orderID int64) error
	WasCancelled(ctx context.Context, orderID int64) (bool, error)
	ClearCancelled(ctx context.Context, orderID int64) error

	Halted(ctx context.Context) (bool, error)
	SetHalted(ctx context.Context, halted bool) error

	SetRunning(ctx context.Context, pair domain.Pair, running bool) error
	IsRunning(ctx context.Context, pair domain.Pair) (bool, error)
}
