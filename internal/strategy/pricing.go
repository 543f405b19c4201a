package strategy

import (
	"github.com/shopspring/decimal"

	"marketmaker/internal/book"
	"marketmaker/internal/enum"
	"marketmaker/internal/pnl"
)

var _hundred = decimal.NewFromInt(100)

// Method names how a quote price was chosen.
type Method string

const (
	MethodDepth     Method = "DEPTH"
	MethodEMA       Method = "EMA"
	MethodQuote     Method = "QUOTE"
	MethodRemove    Method = "REMOVE"
	MethodMinProfit Method = "MIN PROFIT"
	MethodHedge     Method = "HEDGE"
	MethodCancel    Method = "CANCEL"
)

// PriceOnDepth returns the price at which an order of size would rest with
// liqBehind volume, including itself, at or ahead of it. When the level that
// completes the volume holds more than needed, the price steps one tick in
// front of it.
func PriceOnDepth(l *book.Ladder, size, liqBehind, tick decimal.Decimal) (decimal.Decimal, bool) {
	need := liqBehind.Sub(size)
	cum := decimal.Zero
	last := book.Level{}
	found := false

	for lvl := range l.All() {
		cum = cum.Add(lvl.Size)
		last = lvl
		found = true
		if cum.GreaterThanOrEqual(need) {
			break
		}
	}

	if !found {
		return decimal.Zero, false
	}

	if cum.GreaterThan(need) {
		return last.Price.Add(tick.Mul(l.Side().SignDecimal())), true
	}
	return last.Price, true
}

// EMAPrice offsets ema by workPerc percent away from the spread on side.
func EMAPrice(side enum.Side, ema, workPerc decimal.Decimal) decimal.Decimal {
	offset := ema.Mul(workPerc).Div(_hundred)
	return ema.Sub(offset.Mul(side.SignDecimal()))
}

// EnterEMA is the EMA price stuck one tick in front of the first level at or
// behind it.
func EnterEMA(l *book.Ladder, ema, workPerc, tick decimal.Decimal) decimal.Decimal {
	side := l.Side()
	price := RoundToTick(side, EMAPrice(side, ema, workPerc), tick)

	for lvl := range l.All() {
		if side.Better(lvl.Price, price) {
			continue
		}
		if lvl.Price.Equal(price) {
			return price
		}
		return lvl.Price.Add(tick.Mul(side.SignDecimal()))
	}

	return price
}

// EMAConstraint keeps the EMA price when it is further from the spread than
// the depth price.
func EMAConstraint(side enum.Side, depth, ema decimal.Decimal) (decimal.Decimal, Method) {
	if side.Better(depth, ema) {
		return ema, MethodEMA
	}
	return depth, MethodDepth
}

// BoundToLowerQuote moves price next to the closest level behind it unless it
// already sits on a level. Nothing moves when no level is behind price.
func BoundToLowerQuote(l *book.Ladder, price, tick decimal.Decimal) decimal.Decimal {
	side := l.Side()
	if _, ok := l.Find(price); ok {
		return price
	}

	for lvl := range l.All() {
		if side.Better(price, lvl.Price) {
			return lvl.Price.Add(tick.Mul(side.SignDecimal()))
		}
	}

	return price
}

// AdjustedSize shrinks an order adding to the position and grows one
// reducing it.
func AdjustedSize(orderSize decimal.Decimal, side enum.Side, position decimal.Decimal) decimal.Decimal {
	if position.IsZero() || enum.SideOf(position) == side {
		return orderSize.Sub(position.Abs())
	}
	return orderSize.Add(position.Abs())
}

// HedgePrice is the price at which adding hedgeSize to pos moves its
// average price to target.
func HedgePrice(pos pnl.Position, target, hedgeSize decimal.Decimal) decimal.Decimal {
	if !hedgeSize.IsPositive() {
		return decimal.Zero
	}

	total := pos.AbsQuantity().Add(hedgeSize)
	return target.Mul(total).Sub(pos.Price().Mul(pos.AbsQuantity())).Div(hedgeSize)
}

// RoundToTick rounds price to the tick grid away from the spread: bids down,
// asks up.
func RoundToTick(side enum.Side, price, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return price
	}

	steps := price.Div(tick)
	if side == enum.SideBid {
		steps = steps.Floor()
	} else {
		steps = steps.Ceil()
	}
	return steps.Mul(tick)
}

// Passive keeps a resting price from crossing the opposite best quote.
func Passive(b *book.Book, side enum.Side, price, tick decimal.Decimal) decimal.Decimal {
	opp, ok := b.Quote(side.Opposite())
	if !ok {
		return price
	}

	limit := opp.Price.Sub(tick.Mul(side.SignDecimal()))
	if side.Better(price, limit) {
		return limit
	}
	return price
}
