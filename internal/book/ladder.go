package book

import (
	"iter"

	"github.com/shopspring/decimal"

	"marketmaker/internal/enum"
)

// Ladder keeps one side of the book as a sorted slice, top of book at index 0.
// Depth is bounded by the subscribed book depth, so the linear walks below stay
// short.
type Ladder struct {
	side   enum.Side
	levels []Level
}

func newLadder(side enum.Side, capacity int) *Ladder {
	side.MustBeAvailable()
	return &Ladder{side: side, levels: make([]Level, 0, capacity)}
}

func (l *Ladder) Side() enum.Side {
	return l.side
}

func (l *Ladder) Len() int {
	return len(l.levels)
}

func (l *Ladder) IsEmpty() bool {
	return len(l.levels) == 0
}

// Top returns the best level.
func (l *Ladder) Top() (Level, bool) {
	if len(l.levels) == 0 {
		return Level{}, false
	}
	return l.levels[0], true
}

// At returns the level at depth i, 0 being the top.
func (l *Ladder) At(i int) Level {
	return l.levels[i]
}

// Find returns the level quoted at price.
func (l *Ladder) Find(price decimal.Decimal) (Level, bool) {
	idx, found := l.search(price)
	if !found {
		return Level{}, false
	}
	return l.levels[idx], true
}

// search walks from the top and returns the index of price, or the index a
// level at price would be inserted at.
func (l *Ladder) search(price decimal.Decimal) (int, bool) {
	for i := range l.levels {
		cur := l.levels[i].Price
		if cur.Equal(price) {
			return i, true
		}
		if l.side.Better(price, cur) {
			return i, false
		}
	}
	return len(l.levels), false
}

// set updates or inserts a level and reports whether the top price changed.
func (l *Ladder) set(price, size decimal.Decimal) bool {
	idx, found := l.search(price)
	if found {
		l.levels[idx].Size = size
		return false
	}
	l.levels = append(l.levels, Level{})
	copy(l.levels[idx+1:], l.levels[idx:])
	l.levels[idx] = Level{Side: l.side, Price: price, Size: size}
	return idx == 0
}

// remove unlinks the level at price and reports whether it existed and whether
// it was the top.
func (l *Ladder) remove(price decimal.Decimal) (removed bool, wasTop bool) {
	idx, found := l.search(price)
	if !found {
		return false, false
	}
	l.levels = append(l.levels[:idx], l.levels[idx+1:]...)
	return true, idx == 0
}

func (l *Ladder) clear() {
	clear(l.levels)
	l.levels = l.levels[:0]
}

// All yields every level from the top down.
func (l *Ladder) All() iter.Seq[Level] {
	return func(yield func(Level) bool) {
		for _, lvl := range l.levels {
			if !yield(lvl) {
				return
			}
		}
	}
}

// From yields levels starting at the given level and walking away from the
// top to the end of the ladder. Nothing is yielded if the level is not quoted.
func (l *Ladder) From(level Level) iter.Seq[Level] {
	return func(yield func(Level) bool) {
		idx, found := l.search(level.Price)
		if !found {
			return
		}
		for _, lvl := range l.levels[idx:] {
			if !yield(lvl) {
				return
			}
		}
	}
}

// Volume sums the size of every level.
func (l *Ladder) Volume() decimal.Decimal {
	total := decimal.Zero
	for _, lvl := range l.levels {
		total = total.Add(lvl.Size)
	}
	return total
}

// VolumeAhead sums the size quoted at prices strictly better than price: the
// liquidity an order resting at price would queue behind.
func (l *Ladder) VolumeAhead(price decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, lvl := range l.levels {
		if !l.side.Better(lvl.Price, price) {
			break
		}
		total = total.Add(lvl.Size)
	}
	return total
}

// Levels copies at most n levels from the top; n <= 0 copies all of them.
func (l *Ladder) Levels(n int) []Level {
	if n <= 0 || n > len(l.levels) {
		n = len(l.levels)
	}
	out := make([]Level, n)
	copy(out, l.levels[:n])
	return out
}
