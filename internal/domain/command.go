package domain

import "github.com/shopspring/decimal"

// ClassPriority is the intake heap's primary sort key. Lower sorts first.
type ClassPriority int

const (
	ClassStop ClassPriority = iota
	ClassCancel
	ClassEdit
	ClassMarketOrder
	ClassLimitOrder
)

// StopTimestamp is forced onto the STOP sentinel so no later-arriving
// message can overtake it in the heap.
const StopTimestamp int64 = 1<<63 - 1

// IntakeKind distinguishes the payload carried by an IntakeMessage.
type IntakeKind int

const (
	IntakeNewOrder IntakeKind = iota
	IntakeCancel
	IntakeEdit
	IntakeStop
)

// IntakeMessage is what the socket acceptor decodes off the wire (section 6)
// and what the priority queue orders by (ClassPriority, Timestamp).
type IntakeMessage struct {
	Kind      IntakeKind
	Priority  ClassPriority
	Timestamp int64

	NewOrder *Order        // set when Kind == IntakeNewOrder
	Cancel   *CancelRequest // set when Kind == IntakeCancel
	Edit     *EditRequest  // set when Kind == IntakeEdit
}

// CancelRequest carries a cancel's wire fields.
type CancelRequest struct {
	OrderID   int64
	Pair      Pair
	Timestamp int64
}

// EditRequest carries an amendment's wire fields. A zero Price or Quantity
// means "unchanged" per the wire format (section 6).
type EditRequest struct {
	FormerOrderID int64
	Pair          Pair
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	Timestamp     int64
}

// PWOp enumerates the persistence writer's command vocabulary (4.2).
type PWOp string

const (
	OpUpdate            PWOp = "update"
	OpCancel            PWOp = "cancel"
	OpEdit              PWOp = "edit"
	OpFreeze            PWOp = "freeze"
	OpMatchTransaction  PWOp = "match_transaction"
	OpCancelTransaction PWOp = "cancel_transaction"
	OpStop              PWOp = "stop"
)

// TxCategory classifies a ledger-transaction row.
type TxCategory string

const (
	CategoryFreeze   TxCategory = "freeze"
	CategoryMatch    TxCategory = "match"
	CategoryCancel   TxCategory = "cancel_bet"
)

// TxType distinguishes crediting from debiting a ledger-transaction row.
type TxType string

const (
	TxIncoming  TxType = "incoming"
	TxReduction TxType = "reduction"
)

// LedgerTx is a single row written to the ledger_transactions table.
type LedgerTx struct {
	UserID            int64
	OrderID           int64
	Category          TxCategory
	Amount            decimal.Decimal
	CommissionAmount  decimal.Decimal
	TxType            TxType
	WalletRef         string
	Currency          Currency
}

// PWCommand is a single message on the channel from OB to the persistence
// writer goroutine. Exactly one backend transaction is applied per command.
type PWCommand struct {
	Op PWOp

	// Populated depending on Op.
	Order          *Order
	OrderID        int64
	Edited         bool
	LedgerTxs      []LedgerTx
	IncomingOrder  *Order
	RestingOrder   *Order

	// Fallen marks a command that could not be committed -- it is always
	// the first entry serialised into the crash-dump file (8, invariant 8).
	Fallen bool
}
