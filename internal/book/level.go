package book

import (
	"github.com/shopspring/decimal"

	"marketmaker/internal/enum"
)

// Dust is the size at or below which a level counts as empty.
var Dust = decimal.New(1, -8)

// Level is one aggregated price level of a ladder.
type Level struct {
	Side  enum.Side       `json:"side"`
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// Before reports whether l sits strictly closer to the top of book than other.
// Both levels must belong to the same side and carry different prices.
func (l Level) Before(other Level) bool {
	if l.Side != other.Side {
		panic("book: comparing levels of different sides")
	}
	if l.Price.Equal(other.Price) {
		panic("book: comparing levels with equal price " + l.Price.String())
	}
	return l.Side.Better(l.Price, other.Price)
}

// Notional is price times size.
func (l Level) Notional() decimal.Decimal {
	return l.Price.Mul(l.Size)
}

// Delta is a single level update delivered by the feed. A size at or below
// Dust removes the level.
type Delta struct {
	Side  enum.Side
	Price decimal.Decimal
	Size  decimal.Decimal
}

func isDust(size decimal.Decimal) bool {
	return size.LessThanOrEqual(Dust)
}
