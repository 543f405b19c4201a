package pnl

import (
	"fmt"

	"github.com/shopspring/decimal"

	"marketmaker/internal/enum"
)

// Position is a signed quantity with the currency balance it cost. A long
// position has a positive quantity and a negative balance.
type Position struct {
	Quantity decimal.Decimal `json:"quantity"`
	Balance  decimal.Decimal `json:"balance"`
}

// NewFill is the position produced by trading size at price on side.
func NewFill(side enum.Side, size, price decimal.Decimal) Position {
	qty := size.Abs().Mul(side.SignDecimal())
	return Position{
		Quantity: qty,
		Balance:  qty.Mul(price).Neg(),
	}
}

// Add sums both components.
func (p Position) Add(o Position) Position {
	return Position{
		Quantity: p.Quantity.Add(o.Quantity),
		Balance:  p.Balance.Add(o.Balance),
	}
}

// Opposite negates both components.
func (p Position) Opposite() Position {
	return Position{Quantity: p.Quantity.Neg(), Balance: p.Balance.Neg()}
}

// OppositeWithPrice is the trade closing p entirely at price.
func (p Position) OppositeWithPrice(price decimal.Decimal) Position {
	return Position{Quantity: p.Quantity.Neg(), Balance: p.Quantity.Mul(price)}
}

// WithMargin adds margin to the balance.
func (p Position) WithMargin(margin decimal.Decimal) Position {
	return Position{Quantity: p.Quantity, Balance: p.Balance.Add(margin)}
}

func (p Position) IsFlat() bool {
	return p.Quantity.IsZero()
}

func (p Position) AbsQuantity() decimal.Decimal {
	return p.Quantity.Abs()
}

// Side is Bid for a long position and Ask otherwise.
func (p Position) Side() enum.Side {
	return enum.SideOf(p.Quantity)
}

// Price is the volume weighted price of the position, zero when flat.
func (p Position) Price() decimal.Decimal {
	if p.IsFlat() {
		return decimal.Zero
	}
	return p.Balance.Div(p.Quantity).Abs()
}

func (p Position) String() string {
	return fmt.Sprintf("position %s balance %s price %s", p.Quantity, p.Balance, p.Price().StringFixed(4))
}
