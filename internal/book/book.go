package book

import (
	"fmt"

	"github.com/shopspring/decimal"

	"marketmaker/internal/enum"
)

const defaultDepth = 32

// QuoteSubscriber is notified with the new top level whenever the best price of
// a side changes while both sides are quoted. When the book becomes valid both
// tops are announced, the opposite side first.
type QuoteSubscriber interface {
	QuoteChanged(top Level)
}

// Book pairs the bid and ask ladders.
type Book struct {
	ladders     [2]*Ladder
	subscribers []QuoteSubscriber
}

func New() *Book {
	return &Book{
		ladders: [2]*Ladder{
			newLadder(enum.SideBid, defaultDepth),
			newLadder(enum.SideAsk, defaultDepth),
		},
	}
}

func (b *Book) Subscribe(s QuoteSubscriber) {
	b.subscribers = append(b.subscribers, s)
}

// Ladder returns one side of the book. It panics on a malformed side.
func (b *Book) Ladder(side enum.Side) *Ladder {
	return b.ladders[side.Index()]
}

// Quote returns the top level of a side.
func (b *Book) Quote(side enum.Side) (Level, bool) {
	return b.Ladder(side).Top()
}

// IsValid reports whether both sides are quoted.
func (b *Book) IsValid() bool {
	return !b.ladders[0].IsEmpty() && !b.ladders[1].IsEmpty()
}

// IncrementLevel applies one feed update to a side.
func (b *Book) IncrementLevel(side enum.Side, price, size decimal.Decimal) {
	ladder := b.Ladder(side)
	wasValid := b.IsValid()
	if isDust(size) {
		if removed, wasTop := ladder.remove(price); removed && wasTop {
			b.quoteChanged(side)
		}
		return
	}
	if ladder.set(price, size) {
		if !wasValid && b.IsValid() {
			// the opposite top was never announced while the book was one sided
			b.quoteChanged(side.Opposite())
		}
		b.quoteChanged(side)
	}
}

// Apply is IncrementLevel for a feed delta.
func (b *Book) Apply(d Delta) {
	b.IncrementLevel(d.Side, d.Price, d.Size)
}

// DeleteLevel unlinks a level. The level must be quoted.
func (b *Book) DeleteLevel(level Level) {
	removed, wasTop := b.Ladder(level.Side).remove(level.Price)
	if !removed {
		panic(fmt.Sprintf("book: delete of unknown %s level %s", level.Side, level.Price))
	}
	if wasTop {
		b.quoteChanged(level.Side)
	}
}

// Clear discards both ladders. Used after a feed gap; no notification fires
// because the book is no longer valid.
func (b *Book) Clear() {
	b.ladders[0].clear()
	b.ladders[1].clear()
}

// Mid is the arithmetic mean of the best bid and best ask.
func (b *Book) Mid() (decimal.Decimal, bool) {
	bid, ok := b.Quote(enum.SideBid)
	if !ok {
		return decimal.Zero, false
	}
	ask, ok := b.Quote(enum.SideAsk)
	if !ok {
		return decimal.Zero, false
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2)), true
}

// Spread is best ask minus best bid.
func (b *Book) Spread() (decimal.Decimal, bool) {
	if !b.IsValid() {
		return decimal.Zero, false
	}
	bid, _ := b.Quote(enum.SideBid)
	ask, _ := b.Quote(enum.SideAsk)
	return ask.Price.Sub(bid.Price), true
}

func (b *Book) quoteChanged(side enum.Side) {
	if !b.IsValid() {
		return
	}
	top, _ := b.Quote(side)
	for _, s := range b.subscribers {
		s.QuoteChanged(top)
	}
}

// Depth is a read-only copy of the top levels of both sides.
type Depth struct {
	Bids []Level `json:"bids"`
	Asks []Level `json:"asks"`
}

// Top copies the best n levels of each side.
func (b *Book) Top(n int) Depth {
	return Depth{
		Bids: b.ladders[0].Levels(n),
		Asks: b.ladders[1].Levels(n),
	}
}
