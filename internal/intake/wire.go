package intake

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cexcore/matching-engine/internal/domain"
)

// maxMessageBytes bounds a single intake message (6, "≤ 256 bytes").
const maxMessageBytes = 256

// wireMessage is the union of the three JSON shapes accepted on the intake
// socket (6, "Intake wire format"). Unknown/absent fields are left at their
// zero value and the decode-time classifier below picks the right variant.
type wireMessage struct {
	UserID          *int64  `json:"user_id"`
	Pair            string  `json:"pair"`
	Side            string  `json:"side"`
	OrderType       string  `json:"order_type"`
	Quantity        string  `json:"quantity"`
	Price           string  `json:"price"`
	OrderID         *int64  `json:"order_id"`
	InitialQuantity string  `json:"initial_quantity"`
	Timestamp       *int64  `json:"timestamp"`
	Cancelled       bool    `json:"cancelled"`
	FormerOrderID   *int64  `json:"former_order_id"`
	Edited          bool    `json:"edited"`
}

// decodeWireMessage classifies and parses one intake datagram into a typed
// command, rejecting anything malformed before it can reach the book (7,
// "Validation ... rejected at intake; never reaches OB").
func decodeWireMessage(raw []byte) (domain.IntakeMessage, error) {
	if len(raw) > maxMessageBytes {
		return domain.IntakeMessage{}, fmt.Errorf("decode: message exceeds %d bytes", maxMessageBytes)
	}
	if string(raw) == "STOP" {
		return domain.IntakeMessage{Kind: domain.IntakeStop, Priority: domain.ClassStop, Timestamp: domain.StopTimestamp}, nil
	}

	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return domain.IntakeMessage{}, fmt.Errorf("decode: invalid json: %w", err)
	}
	if w.Timestamp == nil {
		return domain.IntakeMessage{}, fmt.Errorf("decode: missing timestamp")
	}

	switch {
	case w.Cancelled:
		if w.OrderID == nil || *w.OrderID <= 0 {
			return domain.IntakeMessage{}, fmt.Errorf("decode cancel: missing or non-positive order_id")
		}
		pair, err := domain.ParsePair(w.Pair)
		if err != nil {
			return domain.IntakeMessage{}, fmt.Errorf("decode cancel: %w", err)
		}
		return domain.IntakeMessage{
			Kind:      domain.IntakeCancel,
			Priority:  domain.ClassCancel,
			Timestamp: *w.Timestamp,
			Cancel:    &domain.CancelRequest{OrderID: *w.OrderID, Pair: pair, Timestamp: *w.Timestamp},
		}, nil

	case w.Edited:
		if w.FormerOrderID == nil || *w.FormerOrderID <= 0 {
			return domain.IntakeMessage{}, fmt.Errorf("decode edit: missing or non-positive former_order_id")
		}
		pair, err := domain.ParsePair(w.Pair)
		if err != nil {
			return domain.IntakeMessage{}, fmt.Errorf("decode edit: %w", err)
		}
		quantity, err := parseDecimalField(w.Quantity, "quantity")
		if err != nil {
			return domain.IntakeMessage{}, fmt.Errorf("decode edit: %w", err)
		}
		price, err := parseDecimalField(w.Price, "price")
		if err != nil {
			return domain.IntakeMessage{}, fmt.Errorf("decode edit: %w", err)
		}
		return domain.IntakeMessage{
			Kind:      domain.IntakeEdit,
			Priority:  domain.ClassEdit,
			Timestamp: *w.Timestamp,
			Edit: &domain.EditRequest{
				FormerOrderID: *w.FormerOrderID,
				Pair:          pair,
				Quantity:      quantity,
				Price:         price,
				Timestamp:     *w.Timestamp,
			},
		}, nil

	default:
		if w.OrderID == nil || *w.OrderID <= 0 {
			return domain.IntakeMessage{}, fmt.Errorf("decode order: missing or non-positive order_id")
		}
		if w.UserID == nil {
			return domain.IntakeMessage{}, fmt.Errorf("decode order: missing user_id")
		}
		pair, err := domain.ParsePair(w.Pair)
		if err != nil {
			return domain.IntakeMessage{}, fmt.Errorf("decode order: %w", err)
		}
		side := domain.Side(w.Side)
		orderType := domain.OrderType(w.OrderType)
		quantity, err := parseDecimalField(w.Quantity, "quantity")
		if err != nil {
			return domain.IntakeMessage{}, fmt.Errorf("decode order: %w", err)
		}
		initialQuantity := quantity
		if w.InitialQuantity != "" {
			if initialQuantity, err = parseDecimalField(w.InitialQuantity, "initial_quantity"); err != nil {
				return domain.IntakeMessage{}, fmt.Errorf("decode order: %w", err)
			}
		}
		price, err := parseDecimalField(w.Price, "price")
		if err != nil {
			return domain.IntakeMessage{}, fmt.Errorf("decode order: %w", err)
		}

		order := &domain.Order{
			OrderID:         *w.OrderID,
			UserID:          *w.UserID,
			Pair:            pair,
			Side:            side,
			OrderType:       orderType,
			Price:           price,
			Quantity:        quantity,
			InitialQuantity: initialQuantity,
			Timestamp:       *w.Timestamp,
			Status:          domain.Pending,
		}
		if err := order.Validate(); err != nil {
			return domain.IntakeMessage{}, fmt.Errorf("decode order: %w", err)
		}

		priority := domain.ClassLimitOrder
		if orderType == domain.Market {
			priority = domain.ClassMarketOrder
		}
		return domain.IntakeMessage{
			Kind:      domain.IntakeNewOrder,
			Priority:  priority,
			Timestamp: *w.Timestamp,
			NewOrder:  order,
		}, nil
	}
}

func parseDecimalField(s, field string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("bad %s %q: %w", field, s, err)
	}
	return d, nil
}
