package book

import (
	"strings"

	"github.com/shopspring/decimal"

	"marketmaker/internal/enum"
)

// PriceForVolume walks a side from the top and returns the price of the first
// level at which the cumulative size reaches volume. When the side holds less
// than volume the deepest price is returned with ok=false.
func (b *Book) PriceForVolume(side enum.Side, volume decimal.Decimal) (price decimal.Decimal, ok bool) {
	cum := decimal.Zero
	for lvl := range b.Ladder(side).All() {
		cum = cum.Add(lvl.Size)
		price = lvl.Price
		if cum.GreaterThanOrEqual(volume) {
			return price, true
		}
	}
	return price, false
}

// CostToTake returns the notional paid (or received) for consuming amount of
// liquidity from side, and the last price touched. ok is false when the side
// is too thin.
func (b *Book) CostToTake(side enum.Side, amount decimal.Decimal) (cost, last decimal.Decimal, ok bool) {
	remaining := amount
	for lvl := range b.Ladder(side).All() {
		take := decimal.Min(remaining, lvl.Size)
		cost = cost.Add(take.Mul(lvl.Price))
		last = lvl.Price
		remaining = remaining.Sub(take)
		if !remaining.IsPositive() {
			return cost, last, true
		}
	}
	return cost, last, false
}

// String renders the book with asks on top, best prices adjacent to the
// separator.
func (b *Book) String() string {
	var sb strings.Builder
	asks := b.ladders[1].Levels(0)
	for i := len(asks) - 1; i >= 0; i-- {
		writeLevel(&sb, asks[i])
	}
	sb.WriteString("---------\n")
	for lvl := range b.ladders[0].All() {
		writeLevel(&sb, lvl)
	}
	return sb.String()
}

func writeLevel(sb *strings.Builder, lvl Level) {
	sb.WriteString(lvl.Side.String())
	sb.WriteByte('\t')
	sb.WriteString(lvl.Price.String())
	sb.WriteByte('\t')
	sb.WriteString(lvl.Size.String())
	sb.WriteByte('\n')
}
