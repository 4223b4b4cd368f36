package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/cexcore/matching-engine/internal/domain"
)

// MemoryLedger is an in-process BalanceLedger fake: a mutex-guarded map
// standing in for Redis. Used by unit tests of the engine, intake and ledger
// packages that should not depend on a running Redis instance.
type MemoryLedger struct {
	mu         sync.Mutex
	balances   map[string]decimal.Decimal
	blobs      map[int64]Blob
	cancelled  map[int64]struct{}
	halted     bool
	running    map[domain.Pair]bool
}

// NewMemoryLedger constructs an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances:  make(map[string]decimal.Decimal),
		blobs:     make(map[int64]Blob),
		cancelled: make(map[int64]struct{}),
		running:   make(map[domain.Pair]bool),
	}
}

func (l *MemoryLedger) key(kind BalanceKind, userID int64, curr domain.Currency) string {
	return fmt.Sprintf("%s_%s_%d", kind, curr, userID)
}

// Get reads a balance, defaulting to zero.
func (l *MemoryLedger) Get(_ context.Context, kind BalanceKind, userID int64, curr domain.Currency) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[l.key(kind, userID, curr)], nil
}

// Incr atomically adds delta to a single balance.
func (l *MemoryLedger) Incr(ctx context.Context, kind BalanceKind, userID int64, curr domain.Currency, delta decimal.Decimal) error {
	return l.Pipeline(ctx, []BalanceOp{{Kind: kind, UserID: userID, Currency: curr, Delta: delta}})
}

// Pipeline applies every op under a single lock acquisition, matching the
// atomicity a Redis MULTI/EXEC block provides against other ledger callers.
func (l *MemoryLedger) Pipeline(_ context.Context, ops []BalanceOp) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, op := range ops {
		key := l.key(op.Kind, op.UserID, op.Currency)
		l.balances[key] = l.balances[key].Add(op.Delta)
	}
	return nil
}

func (l *MemoryLedger) PutBlob(_ context.Context, blob Blob) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blobs[blob.OrderID] = blob
	return nil
}

func (l *MemoryLedger) GetBlob(_ context.Context, orderID int64) (Blob, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	blob, ok := l.blobs[orderID]
	return blob, ok, nil
}

func (l *MemoryLedger) DeleteBlob(_ context.Context, orderID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.blobs, orderID)
	return nil
}

func (l *MemoryLedger) MarkCancelled(_ context.Context, orderID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancelled[orderID] = struct{}{}
	return nil
}

func (l *MemoryLedger) WasCancelled(_ context.Context, orderID int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.cancelled[orderID]
	return ok, nil
}

func (l *MemoryLedger) ClearCancelled(_ context.Context, orderID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cancelled, orderID)
	return nil
}

func (l *MemoryLedger) Halted(_ context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.halted, nil
}

func (l *MemoryLedger) SetHalted(_ context.Context, halted bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.halted = halted
	return nil
}

func (l *MemoryLedger) SetRunning(_ context.Context, pair domain.Pair, running bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.running[pair] = running
	return nil
}

func (l *MemoryLedger) IsRunning(_ context.Context, pair domain.Pair) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running[pair], nil
}

var _ BalanceLedger = (*MemoryLedger)(nil)
var _ BalanceLedger = (*RedisLedger)(nil)
