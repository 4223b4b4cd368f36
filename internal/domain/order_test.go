package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func validOrder() *Order {
	return &Order{
		OrderID:         1,
		UserID:          1,
		Pair:            Pair{Base: BTC, Quote: ETH},
		Side:            Bid,
		OrderType:       Limit,
		Price:           decimal.NewFromInt(100),
		Quantity:        decimal.NewFromInt(5),
		InitialQuantity: decimal.NewFromInt(5),
		Timestamp:       1,
		Status:          Pending,
	}
}

func TestOrderValidate(t *testing.T) {
	o := validOrder()
	if err := o.Validate(); err != nil {
		t.Fatalf("expected valid order, got %v", err)
	}
}

func TestOrderValidateRejectsNonPositiveInitialQuantity(t *testing.T) {
	o := validOrder()
	o.InitialQuantity = decimal.Zero
	o.Quantity = decimal.Zero
	if err := o.Validate(); err == nil {
		t.Fatal("expected error for non-positive initial quantity")
	}
}

func TestOrderValidateRejectsQuantityAboveInitial(t *testing.T) {
	o := validOrder()
	o.Quantity = o.InitialQuantity.Add(decimal.NewFromInt(1))
	if err := o.Validate(); err == nil {
		t.Fatal("expected error for quantity exceeding initial quantity")
	}
}

func TestOrderValidateRejectsZeroPriceLimit(t *testing.T) {
	o := validOrder()
	o.Price = decimal.Zero
	if err := o.Validate(); err == nil {
		t.Fatal("expected error for zero-price limit order")
	}
}

func TestOrderValidateAllowsZeroPriceMarket(t *testing.T) {
	o := validOrder()
	o.OrderType = Market
	o.Price = decimal.Zero
	if err := o.Validate(); err != nil {
		t.Fatalf("expected market order with zero price to be valid, got %v", err)
	}
}

func TestQuantityTriggered(t *testing.T) {
	o := validOrder()
	if o.QuantityTriggered() {
		t.Error("fresh order should not be quantity-triggered")
	}
	o.Quantity = o.Quantity.Sub(decimal.NewFromInt(1))
	if !o.QuantityTriggered() {
		t.Error("partially filled order should be quantity-triggered")
	}
}

func TestOrderClone(t *testing.T) {
	o := validOrder()
	clone := o.Clone()
	clone.Quantity = decimal.NewFromInt(999)
	if o.Quantity.Equal(clone.Quantity) {
		t.Error("clone should be independent of original")
	}
}
