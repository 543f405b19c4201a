package sim

import (
	"math/rand"

	"github.com/shopspring/decimal"

	"marketmaker/internal/book"
	"marketmaker/internal/enum"
)

var (
	thousandth = decimal.New(1, -3)
	hundredth  = decimal.New(1, -2)
	two        = decimal.NewFromInt(2)
)

// Market is a random-walk order book around a moving mid.
type Market struct {
	rng        *rand.Rand
	mid        decimal.Decimal
	spread     decimal.Decimal
	volatility decimal.Decimal
	levels     int
	book       *book.Book
}

func NewMarket(rng *rand.Rand, mid, spread, volatility decimal.Decimal, levels int) *Market {
	m := &Market{
		rng:        rng,
		mid:        mid,
		spread:     spread,
		volatility: volatility,
		levels:     levels,
	}
	m.book = m.generate()
	return m
}

func (m *Market) Book() *book.Book {
	return m.book
}

func (m *Market) Mid() decimal.Decimal {
	return m.mid
}

// Walk moves the mid by up to volatility in either direction, regenerates the
// book around it and returns the deltas turning the old book into the new one.
func (m *Market) Walk() []book.Delta {
	step := decimal.NewFromFloat(m.rng.Float64()*2 - 1).Mul(m.volatility).Round(2)
	m.mid = m.mid.Add(step)
	if !m.mid.IsPositive() {
		m.mid = m.volatility.Add(m.spread)
	}
	next := m.generate()
	deltas := diff(m.book, next)
	m.book = next
	return deltas
}

// Take removes size from the top of side, as if someone traded against it.
func (m *Market) Take(side enum.Side, size decimal.Decimal) (book.Delta, bool) {
	top, ok := m.book.Quote(side)
	if !ok {
		return book.Delta{}, false
	}
	left := top.Size.Sub(size)
	if left.IsNegative() {
		left = decimal.Zero
	}
	m.book.IncrementLevel(side, top.Price, left)
	return book.Delta{Side: side, Price: top.Price, Size: left}, true
}

// Snapshot lists every level of the current book.
func (m *Market) Snapshot() []book.Delta {
	var out []book.Delta
	for _, side := range enum.Sides {
		for lvl := range m.book.Ladder(side).All() {
			out = append(out, book.Delta{Side: side, Price: lvl.Price, Size: lvl.Size})
		}
	}
	return out
}

// generate builds levels stepping away from the mid by random thousandths
// with sizes between 0.01 and 0.99.
func (m *Market) generate() *book.Book {
	b := book.New()
	half := m.spread.Div(two)
	for _, side := range enum.Sides {
		away := side.SignDecimal().Neg()
		price := m.mid.Add(away.Mul(half))
		for i := 0; i < m.levels; i++ {
			price = price.Add(away.Mul(decimal.NewFromInt(int64(1 + m.rng.Intn(999))).Mul(thousandth))).Round(4)
			size := decimal.NewFromInt(int64(1 + m.rng.Intn(99))).Mul(hundredth)
			b.IncrementLevel(side, price, size)
		}
	}
	return b
}

func diff(prev, next *book.Book) []book.Delta {
	var out []book.Delta
	for _, side := range enum.Sides {
		nextLadder := next.Ladder(side)
		for lvl := range prev.Ladder(side).All() {
			if _, ok := nextLadder.Find(lvl.Price); !ok {
				out = append(out, book.Delta{Side: side, Price: lvl.Price, Size: decimal.Zero})
			}
		}
		prevLadder := prev.Ladder(side)
		for lvl := range nextLadder.All() {
			if old, ok := prevLadder.Find(lvl.Price); ok && old.Size.Equal(lvl.Size) {
				continue
			}
			out = append(out, book.Delta{Side: side, Price: lvl.Price, Size: lvl.Size})
		}
	}
	return out
}
